// Package scheduler implements the cooperative main loop (spec.md §4.4,
// §4.5). Grounded on
// original_source/refactor/kernel_task_scheduler.c's kernel_task_sheduler
// and kernel_idle_time, restructured from one 270-line function into a
// sequence of named phases the way the teacher's blockchain/v2/scheduler.go
// splits its event loop into small, independently testable steps rather
// than one monolithic switch.
package scheduler

import (
	"time"

	"github.com/arcology-network/nodekernel/kernel/mailbox"
	"github.com/arcology-network/nodekernel/kernel/mcu"
	"github.com/arcology-network/nodekernel/kernel/message"
	"github.com/arcology-network/nodekernel/kernel/metrics"
	"github.com/arcology-network/nodekernel/kernel/mmap"
	"github.com/arcology-network/nodekernel/kernel/power"
	"github.com/arcology-network/nodekernel/kernel/task"
	"github.com/arcology-network/nodekernel/libs/log"
)

// Clock supplies monotonic time to the scheduler, kept as a narrow
// collaborator so tests can drive passes with synthetic timestamps
// rather than wall-clock sleeps.
type Clock interface {
	NowMs() int64
	NowUs() int64
}

// SystemClock is the default Clock, backed by time.Now.
type SystemClock struct{ start time.Time }

func NewSystemClock() *SystemClock { return &SystemClock{start: time.Now()} }

func (c *SystemClock) NowMs() int64 { return time.Since(c.start).Milliseconds() }
func (c *SystemClock) NowUs() int64 { return time.Since(c.start).Microseconds() }

// slowCallbackMs is the threshold past which a dispatch is logged as
// slow (spec.md §4.4 step 4: "Measure wall time; if > 200 ms, warn").
const slowCallbackMs = 200

// defaultBusyTimeoutMs is the initial busy-without-traffic budget
// before a warning fires (spec.md §4.4: "3 min").
const defaultBusyTimeoutMs = 3 * 60 * 1000

// busyTimeoutExtendMs is how far the warning threshold is pushed out
// once it has fired once, so it doesn't repeat every pass (spec.md
// §4.4: "extend busy_timeout by 60s").
const busyTimeoutExtendMs = 60 * 1000

// DefaultBusyTimeoutMs is exported for callers (kernel.NewNode) wiring a
// task.Registry, so the two packages agree on a task's initial budget
// without kernel importing an unexported constant.
const DefaultBusyTimeoutMs = defaultBusyTimeoutMs

// Scheduler drives one node's cooperative pass (spec.md §4.4).
type Scheduler struct {
	Tasks   *task.Registry
	Mailbox *mailbox.Pool
	Power   power.Manager
	MCUs    *mcu.Registry
	Mmap    *mmap.Engine
	Clock   Clock
	Logger  log.Logger
	Metrics *metrics.Metrics

	LocalCoreName string

	lastNowMs int64
}

func New(tasks *task.Registry, mb *mailbox.Pool, pm power.Manager, mcus *mcu.Registry, mm *mmap.Engine, clock Clock, logger log.Logger, m *metrics.Metrics, localCoreName string) *Scheduler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	if m == nil {
		m = metrics.NopMetrics()
	}
	return &Scheduler{
		Tasks:         tasks,
		Mailbox:       mb,
		Power:         pm,
		MCUs:          mcus,
		Mmap:          mm,
		Clock:         clock,
		Logger:        logger,
		Metrics:       m,
		LocalCoreName: localCoreName,
		lastNowMs:     clock.NowMs(),
	}
}

// Pass runs one schedule() iteration (spec.md §4.4 steps 1-6).
func (s *Scheduler) Pass() {
	nowMs := s.Clock.NowMs()
	deltaMs := nowMs - s.lastNowMs
	s.lastNowMs = nowMs
	defer func() {
		s.Metrics.SchedulerPasses.Add(1)
		s.Metrics.SchedulerPassSeconds.Observe(float64(s.Clock.NowMs()-nowMs) / 1000.0)
		s.Metrics.TasksRegistered.Set(float64(len(s.Tasks.All())))
	}()

	if s.Power != nil {
		s.Power.Tick(deltaMs)
	}

	s.drainMailboxes()

	if deltaMs > 0 {
		s.advanceTimers(deltaMs)
	}

	s.dispatchTasks(deltaMs)

	s.flushTunnels()

	if s.Mmap != nil {
		s.Mmap.UpdateTo(s.LocalCoreName, "", true)
		s.Mmap.Tick(s.LocalCoreName, deltaMs)
	}
}

// drainMailboxes implements spec.md §4.3 via mailbox.Pool.Drain,
// converting each drained slot into an owned heap message on its
// owning task's queue (step 2).
func (s *Scheduler) drainMailboxes() {
	for _, d := range s.Mailbox.Drain() {
		m := message.NewHeap(d.Notification, d.Payload, d.TimeStampUs)
		d.Task.MsgQueue = append(d.Task.MsgQueue, m)
	}
}

// advanceTimers implements spec.md §4.4 step 3.
func (s *Scheduler) advanceTimers(deltaMs int64) {
	for _, t := range s.Tasks.All() {
		m := t.TimerMsg
		if m == nil || m.Timer == nil || !m.Timer.Enabled {
			continue
		}
		if int64(m.Timer.DelayMs) > deltaMs {
			m.Timer.DelayMs -= int32(deltaMs)
			continue
		}
		m.Timer.DelayMs = 0
		if t.Suspended {
			continue
		}

		var delivered *message.Message
		if m.Timer.PeriodMs > 0 && m.Timer.RemainingCount != 0 {
			if m.Timer.RemainingCount > 0 {
				m.Timer.RemainingCount--
			}
			m.Timer.DelayMs = m.Timer.PeriodMs
			delivered = m.Duplicate(s.Clock.NowUs())
		} else {
			m.Timer.Enabled = false
			t.TimerMsg = nil
			delivered = m
		}
		t.MsgQueue = append(t.MsgQueue, delivered)

		if !t.Paused {
			t.State |= task.MsgPending
		}
	}
}

// dispatchTasks implements spec.md §4.4 step 4.
func (s *Scheduler) dispatchTasks(deltaMs int64) {
	for _, t := range s.Tasks.All() {
		if s.dispatchOne(t, deltaMs) == reap {
			s.Tasks.Reap(t)
		}
	}
}

type dispatchOutcome int

const (
	keep dispatchOutcome = iota
	reap
)

func (s *Scheduler) dispatchOne(t *task.Task, deltaMs int64) dispatchOutcome {
	if t.Power != nil && s.Power != nil && s.Power.Check(t.Power) == power.Deactivating {
		s.Power.Deactivate(t.Power)
		return s.maybeReap(t)
	}

	if t.Paused {
		s.dropAllMessages(t)
		t.State = task.Idle
	}

	if len(t.MsgQueue) > 0 && !t.Suspended {
		s.dispatchPending(t)
	} else if t.State&task.MsgPending != 0 || t.State == task.Busy {
		t.BusyWithoutTrafficMs += deltaMs
		if t.BusyWithoutTrafficMs > t.BusyTimeoutMs {
			s.Logger.Info("task busy without traffic", "task", t.Name, "minutes", t.BusyWithoutTrafficMs/(60*1000))
			t.BusyTimeoutMs += busyTimeoutExtendMs
		}
	}

	return s.maybeReap(t)
}

func (s *Scheduler) maybeReap(t *task.Task) dispatchOutcome {
	if t.Deleted {
		s.dropAllMessages(t)
		if t.TimerMsg != nil {
			t.TimerMsg = nil
		}
		return reap
	}
	return keep
}

func (s *Scheduler) dropAllMessages(t *task.Task) {
	for _, m := range t.MsgQueue {
		m.Release()
	}
	t.MsgQueue = nil
}

// dispatchPending handles the power-gated, message-selecting, callback
// half of spec.md §4.4 step 4's "T has a queued message" branch.
func (s *Scheduler) dispatchPending(t *task.Task) bool {
	if t.Power != nil && s.Power != nil {
		if s.Power.CheckPowerFailure(t.Power) {
			s.Metrics.PowerGiveUps.Add(1)
			s.Logger.Error("task power failure, dropping message", "task", t.Name)
			s.dropOneMessage(t)
			t.State = task.Idle
			return false
		}
		if !s.Power.Activate(t.Power) {
			s.Metrics.PowerActivateFailures.Add(1)
			if s.Power.Check(t.Power) == power.GiveUp {
				s.Logger.Error("task power give up, draining queue", "task", t.Name)
				s.dropAllMessages(t)
				t.State = task.Idle
			}
			return false
		}
	}

	idx := oldestMessageIndex(t.MsgQueue)
	m := t.MsgQueue[idx]
	t.MsgQueue = append(t.MsgQueue[:idx], t.MsgQueue[idx+1:]...)

	if t.Callback != nil {
		start := s.Clock.NowMs()
		ret := t.Callback(t.Name, m, t.Arg)
		elapsed := s.Clock.NowMs() - start

		t.State &^= task.MsgPending
		if ret != task.Ignore {
			t.State = ret
		}

		if elapsed > slowCallbackMs {
			s.Metrics.SlowCallbacks.Add(1)
			s.Logger.Info("slow task callback", "task", t.Name, "notification", m.Notification, "ms", elapsed)
		}
	} else {
		t.State = task.Idle
	}

	m.Release()

	if len(t.MsgQueue) > 0 {
		t.State |= task.MsgPending
	}

	switch t.State {
	case task.ReadyToSleep:
		if t.Power != nil && s.Power != nil {
			s.Power.Deactivate(t.Power)
		}
		t.State = task.Idle
	case task.Idle, task.Busy, task.Idle | task.MsgPending, task.Busy | task.MsgPending:
		t.BusyWithoutTrafficMs = 0
		t.BusyTimeoutMs = defaultBusyTimeoutMs
	}

	return true
}

// dropOneMessage discards the oldest message (spec.md §4.4: "drop one
// message and set state IDLE" on a sticky power failure).
func (s *Scheduler) dropOneMessage(t *task.Task) {
	if len(t.MsgQueue) == 0 {
		return
	}
	idx := oldestMessageIndex(t.MsgQueue)
	t.MsgQueue[idx].Release()
	t.MsgQueue = append(t.MsgQueue[:idx], t.MsgQueue[idx+1:]...)
}

// oldestMessageIndex implements spec.md §4.4's message-selection rule:
// the message with the largest elapsed time since its timestamp.
func oldestMessageIndex(q []*message.Message) int {
	best := 0
	for i, m := range q {
		if m.TimeStampUs < q[best].TimeStampUs {
			best = i
		}
	}
	return best
}

// flushTunnels implements spec.md §4.4 step 5: an opaque call into the
// transport layer to flush pending retries. Tunnel retry delivery is
// the tunnel implementation's own responsibility (spec.md §1: "the core
// sees each tunnel as an opaque send sink"); this only asks every local
// tunnel to report (and thus service) its pending retry.
func (s *Scheduler) flushTunnels() {
	local := s.MCUs.Local()
	if local == nil {
		return
	}
	for _, tun := range local.Tunnels {
		tun.NextRetry()
	}
}

// IdleTime implements spec.md §4.5.
func (s *Scheduler) IdleTime() time.Duration {
	for _, t := range s.Tasks.All() {
		if t.State != task.Idle {
			return 0
		}
	}
	// A task already holding drained mail is caught by the state check
	// above via MsgPending; a freshly-arrived ISR message with no task yet
	// drained is only visible through the pool's AnyUnread query.
	if s.Mailbox.AnyUnread() {
		return 0
	}

	min := time.Duration(-1)
	for _, t := range s.Tasks.All() {
		if t.TimerMsg != nil && t.TimerMsg.Timer != nil && t.TimerMsg.Timer.Enabled {
			d := time.Duration(t.TimerMsg.Timer.DelayMs) * time.Millisecond
			if min < 0 || d < min {
				min = d
			}
		}
	}

	if local := s.MCUs.Local(); local != nil {
		for _, tun := range local.Tunnels {
			if d, ok := tun.NextRetry(); ok {
				if min < 0 || d < min {
					min = d
				}
			}
		}
	}

	if s.Mmap != nil {
		if d, ok := s.Mmap.NextUnsyncDeadline(); ok {
			if min < 0 || d < min {
				min = d
			}
		}
	}

	if min < 0 {
		return 0
	}
	return min
}
