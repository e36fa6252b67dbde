// Package task implements the task registry (spec.md §3 "Task", §4: the
// create/lifecycle-toggle half of the original kernel_task.c; dispatch
// itself lives in kernel/scheduler, matching the source's split between
// kernel_task.c and kernel_task_scheduler.c).
package task

import (
	"fmt"
	"strings"

	kerrors "github.com/arcology-network/nodekernel/kernel/errors"
	"github.com/arcology-network/nodekernel/kernel/message"
	"github.com/arcology-network/nodekernel/kernel/power"
	"github.com/arcology-network/nodekernel/libs/log"
)

// State is the bitset over {IDLE, BUSY, MSG_PENDING, READY_TO_SLEEP,
// IGNORE} from spec.md §3.
type State int

const (
	Idle          State = 0
	Busy          State = 1 << 0
	MsgPending    State = 1 << 1
	ReadyToSleep  State = 1 << 2
	Ignore        State = 1 << 3
)

func (s State) String() string {
	if s == Idle {
		return "IDLE"
	}
	if s == Ignore {
		return "IGNORE"
	}
	if s == ReadyToSleep {
		return "READY_TO_SLEEP"
	}
	var parts []string
	if s&Busy != 0 {
		parts = append(parts, "BUSY")
	}
	if s&MsgPending != 0 {
		parts = append(parts, "MSG_PENDING")
	}
	if len(parts) == 0 {
		return "IDLE"
	}
	return strings.Join(parts, "|")
}

// FreezeEvent is delivered to a task's optional Freezer callback on
// suspend/resume/pause/restart (spec.md §3 "freezer").
type FreezeEvent int

const (
	Suspend FreezeEvent = iota
	Resume
	Pause
	Restart
)

// Callback is a task's message handler.
type Callback func(name string, msg *message.Message, arg interface{}) State

// FreezeCallback observes lifecycle transitions.
type FreezeCallback func(FreezeEvent)

// Task is a named cooperative handler (spec.md §3).
type Task struct {
	Name     string
	Callback Callback
	Arg      interface{}
	Priority int32

	State                State
	BusyWithoutTrafficMs  int64
	BusyTimeoutMs         int64

	MsgQueue []*message.Message
	TimerMsg *message.Message

	Power   *power.Handle
	Freezer FreezeCallback

	Suspended bool
	Paused    bool
	Deleted   bool
}

// Registry is the sorted-by-priority task list (spec.md §3 invariant:
// "a task is inserted so the task list remains sorted by ascending
// priority; the list head is always the highest-priority live task").
type Registry struct {
	tasks  []*Task
	byName map[string]*Task
	logger log.Logger

	defaultBusyTimeoutMs int64
}

func NewRegistry(logger log.Logger, defaultBusyTimeoutMs int64) *Registry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Registry{
		byName:               make(map[string]*Task),
		logger:               logger,
		defaultBusyTimeoutMs: defaultBusyTimeoutMs,
	}
}

// Create registers a new task, keeping the list sorted by ascending
// priority (spec.md §3 invariant; ground truth: kernel_task.c's
// create_task insertion-point search).
func (r *Registry) Create(name string, cb Callback, arg interface{}, priority int32) (*Task, error) {
	if existing, ok := r.byName[name]; ok && !existing.Deleted {
		return nil, kerrors.New(kerrors.DuplicateTask, "task %q already exists", name)
	}

	t := &Task{
		Name:          name,
		Callback:      cb,
		Arg:           arg,
		Priority:      priority,
		State:         Idle,
		BusyTimeoutMs: r.defaultBusyTimeoutMs,
	}

	idx := len(r.tasks)
	for i, q := range r.tasks {
		if t.Priority < q.Priority {
			idx = i
			break
		}
	}
	r.tasks = append(r.tasks, nil)
	copy(r.tasks[idx+1:], r.tasks[idx:])
	r.tasks[idx] = t

	r.byName[name] = t
	return t, nil
}

// Get looks up a task by name (spec.md §3: "identity... by pointer,
// then by content" collapses to a map lookup in Go, where names are
// interned by the map itself).
func (r *Registry) Get(name string) (*Task, bool) {
	t, ok := r.byName[name]
	if !ok || t.Deleted {
		return nil, false
	}
	return t, true
}

// All returns the task list in priority order. Callers must not mutate
// the slice; use Registry methods to change membership.
func (r *Registry) All() []*Task {
	return r.tasks
}

func (r *Registry) Suspend(name string) bool {
	t, ok := r.Get(name)
	if !ok {
		return false
	}
	t.Suspended = true
	if t.Freezer != nil {
		t.Freezer(Suspend)
	}
	return true
}

func (r *Registry) Resume(name string) bool {
	t, ok := r.Get(name)
	if !ok {
		return false
	}
	t.Suspended = false
	if t.Freezer != nil {
		t.Freezer(Resume)
	}
	return true
}

// Pause marks a task paused: queued messages are dropped on the next
// scheduler pass and new posts are refused (spec.md §4.2, §4.4, §5).
func (r *Registry) Pause(name string) bool {
	t, ok := r.Get(name)
	if !ok {
		return false
	}
	t.Paused = true
	if t.Freezer != nil {
		t.Freezer(Pause)
	}
	return true
}

func (r *Registry) Restart(name string) bool {
	t, ok := r.Get(name)
	if !ok {
		return false
	}
	t.Paused = false
	if t.Freezer != nil {
		t.Freezer(Restart)
	}
	return true
}

// DisableTimer drops the single timer message (spec.md §5 "Cancellation").
func (r *Registry) DisableTimer(name string) bool {
	t, ok := r.Get(name)
	if !ok {
		return false
	}
	if t.TimerMsg != nil {
		t.TimerMsg.Timer.Enabled = false
		t.TimerMsg = nil
	}
	return true
}

func (r *Registry) BindFreezer(name string, cb FreezeCallback) bool {
	t, ok := r.Get(name)
	if !ok {
		return false
	}
	t.Freezer = cb
	return true
}

// MarkDeleted defers destruction to the scheduler (spec.md §4.4 step 4,
// §5 "delete_task is deferred to the scheduler").
func (r *Registry) MarkDeleted(name string) bool {
	t, ok := r.Get(name)
	if !ok {
		return false
	}
	t.Deleted = true
	return true
}

// Reap unlinks a deleted task from the registry. Called by the
// scheduler once it has finished any in-flight dispatch for t.
func (r *Registry) Reap(t *Task) {
	delete(r.byName, t.Name)
	for i, q := range r.tasks {
		if q == t {
			r.tasks = append(r.tasks[:i], r.tasks[i+1:]...)
			return
		}
	}
}

// Dump renders the task list, grounded on kernel_task.c's show_task.
func (r *Registry) Dump() string {
	var b strings.Builder
	b.WriteString("Task List\n")
	for i, t := range r.tasks {
		fmt.Fprintf(&b, "task[%d] : %s , prio : %d, state: %s\n", i, t.Name, t.Priority, t.State)
	}
	b.WriteString("Task List End\n")
	return b.String()
}
