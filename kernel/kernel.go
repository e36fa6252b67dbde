// Package kernel wires the task registry, mailbox pool, MCU router, and
// mmap engine into a single runnable node (spec.md §4.2 post, §4.6
// try_post_msg_outside, §4.8 synchronize_tasklist, §4.9 backup/recover).
// Grounded on original_source/refactor/kernel_msg.c's __post_msg_from and
// kernel_cores_sync.c's try_post_msg_outside/synchonize_tasklist/
// kernel_backup_external_task_on_tunnel/kernel_recover_external_task_on_tunnel/
// kernel_msg_layer_unpack, restructured the way the teacher's
// blockchain/v2 package composes a Reactor from narrow collaborators
// (scheduler, store, processor) instead of one monolithic object.
package kernel

import (
	"time"

	kerrors "github.com/arcology-network/nodekernel/kernel/errors"
	"github.com/arcology-network/nodekernel/kernel/envelope"
	"github.com/arcology-network/nodekernel/kernel/mailbox"
	"github.com/arcology-network/nodekernel/kernel/mcu"
	"github.com/arcology-network/nodekernel/kernel/message"
	"github.com/arcology-network/nodekernel/kernel/metrics"
	"github.com/arcology-network/nodekernel/kernel/mmap"
	"github.com/arcology-network/nodekernel/kernel/power"
	"github.com/arcology-network/nodekernel/kernel/scheduler"
	"github.com/arcology-network/nodekernel/kernel/task"
	"github.com/arcology-network/nodekernel/kernel/tunnel"
	"github.com/arcology-network/nodekernel/libs/log"
)

// unsyncRetryMs is the unsync-timer arm duration used after a topology
// change is detected (spec.md §4.8; source: "check unsync after 300ms").
const unsyncRetryMs = 300

// Node composes one node's collaborators into the runnable unit
// spec.md §1 describes as "the kernel": a task registry, a mailbox
// pool, an MCU registry/router, an mmap engine, and the scheduler that
// drives them all.
type Node struct {
	LocalCoreName string

	Tasks   *task.Registry
	Mailbox *mailbox.Pool
	MCUs    *mcu.Registry
	Mmap    *mmap.Engine
	Sched   *scheduler.Scheduler

	Logger  log.Logger
	Metrics *metrics.Metrics
	Clock   scheduler.Clock
}

// NewNode builds a Node with its own local MCU record announcing
// tunnels (spec.md §3 "at most one is_local record").
func NewNode(localCoreName string, tunnels []tunnel.Tunnel, pm power.Manager, clock scheduler.Clock, logger log.Logger, m *metrics.Metrics) *Node {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if m == nil {
		m = metrics.NopMetrics()
	}
	if pm == nil {
		pm = power.NewNopManager()
	}
	if clock == nil {
		clock = scheduler.NewSystemClock()
	}

	tasks := task.NewRegistry(logger, scheduler.DefaultBusyTimeoutMs)
	mb := mailbox.NewPool(logger, m)
	mcus := mcu.NewRegistry(logger, m)
	mcus.SetLocal(localCoreName, tunnels)
	mm := mmap.NewEngine(mcus, logger, m)
	sched := scheduler.New(tasks, mb, pm, mcus, mm, clock, logger, m, localCoreName)

	return &Node{
		LocalCoreName: localCoreName,
		Tasks:         tasks,
		Mailbox:       mb,
		MCUs:          mcus,
		Mmap:          mm,
		Sched:         sched,
		Logger:        logger,
		Metrics:       m,
		Clock:         clock,
	}
}

// Pass runs one scheduler iteration (spec.md §4.4).
func (n *Node) Pass() { n.Sched.Pass() }

// IdleTime reports how long the caller may safely sleep (spec.md §4.5).
func (n *Node) IdleTime() time.Duration { return n.Sched.IdleTime() }

// CreateTask registers a task (spec.md §3, §4.4).
func (n *Node) CreateTask(name string, cb task.Callback, arg interface{}, priority int32) (*task.Task, error) {
	return n.Tasks.Create(name, cb, arg, priority)
}

// CreateMailboxGroup pre-allocates a mailbox group (spec.md §3).
func (n *Node) CreateMailboxGroup(slotCapacity, slotCount int) error {
	return n.Mailbox.CreateGroup(slotCapacity, slotCount)
}

// Post delivers msg to targetTask, locally if it is a live local task,
// or over the network otherwise (spec.md §4.2 "post"; source:
// __post_msg_from). srcTask is recorded on the message; a mailbox-kind
// message given a non-empty srcTask is refused with MisuseMailboxWithSrc
// — this entry point is for task-to-task and inbound-network
// posts, not the ISR path (mailbox.Pool.NewFromISR/Bind cover that).
func (n *Node) Post(targetTask string, msg *message.Message, srcTask string) error {
	if msg.Kind == message.KindMailbox && srcTask != "" {
		return kerrors.New(kerrors.MisuseMailboxWithSrc, "mailbox message to %q given src_task %q", targetTask, srcTask)
	}
	msg.SrcTask = srcTask

	if t, ok := n.Tasks.Get(targetTask); ok {
		if t.Paused {
			n.Logger.Error("post to paused task dropped", "task", targetTask, "notification", msg.Notification)
			return kerrors.New(kerrors.UnknownTarget, "task %q is paused", targetTask)
		}

		if msg.Kind == message.KindTimer {
			if t.TimerMsg != nil {
				n.Logger.Info("dropping older timer message", "task", targetTask, "notification", t.TimerMsg.Notification)
			}
			t.TimerMsg = msg
		} else {
			t.MsgQueue = append(t.MsgQueue, msg)
		}
		t.State |= task.MsgPending
		return nil
	}

	return n.postOutside(targetTask, msg)
}

// postOutside implements spec.md §4.6 try_post_msg_outside: locate the
// peer advertising targetTask, push the destination's mmap state ahead
// of the message (source: "update mmap before post msg"), encode the
// payload per the peer's binary-extra support, and route it out.
func (n *Node) postOutside(targetTask string, msg *message.Message) error {
	peer, ok := n.MCUs.FindPeerForTask(targetTask)
	if !ok {
		return kerrors.New(kerrors.UnknownTarget, "no task %q known locally or on any peer", targetTask)
	}

	if err := n.Mmap.UpdateTo(n.LocalCoreName, peer.CoreName, true); err != nil {
		n.Logger.Error("pre-post mmap update failed", "core", peer.CoreName, "err", err)
	}

	encoded := envelope.EncodeMsgPayload(msg.Payload, peer.SupportsJSONExtra)
	env := envelope.MsgEnvelope{
		TargTask: targetTask,
		Notify:   msg.Notification,
		Data:     encoded.Data,
		SrcTask:  msg.SrcTask,
	}
	if msg.Kind == message.KindTimer && msg.Timer != nil && msg.Timer.Enabled {
		env.Timer = "enable"
		env.Delay = msg.Timer.DelayMs
		env.Preodic = msg.Timer.PeriodMs
		env.Cnt = msg.Timer.RemainingCount
	}

	return n.MCUs.RouteOut(peer.CoreName, envelope.BuildMsg(env, encoded.Appendix), nil)
}

// HandleInbound decodes an envelope received over arrivedOn and routes
// it to the matching local handler (spec.md §6; source:
// kernel_msg_layer_unpack). arrivedOn is used for loop-avoidance when a
// frame needs forwarding back out.
func (n *Node) HandleInbound(raw []byte, arrivedOn tunnel.Tunnel) error {
	handlers := envelope.Handlers{
		OnMsg: func(m envelope.MsgEnvelope, appendix []byte) {
			n.handleInboundMsg(m, appendix, arrivedOn)
		},
		OnTopology: func(t envelope.Topology) {
			n.handleInboundTopology(t, arrivedOn)
		},
		OnMmap: func(m envelope.MmapPush) {
			n.Mmap.HandleInboundPush(n.LocalCoreName, m, arrivedOn)
		},
		OnMmapSyncReq: func(r envelope.MmapSyncReq) {
			if err := n.Mmap.HandleInboundSyncReq(n.LocalCoreName, r, arrivedOn); err != nil {
				n.Logger.Error("mmap sync request handling failed", "err", err)
			}
		},
	}
	return envelope.Dispatch(handlers, raw)
}

// handleInboundMsg mirrors kernel_msg_layer_unpack's "msg" branch: post
// locally if targ_task is ours, otherwise forward the envelope toward
// whichever peer advertises it, avoiding the tunnel it arrived on.
func (n *Node) handleInboundMsg(m envelope.MsgEnvelope, appendix []byte, arrivedOn tunnel.Tunnel) {
	if _, ok := n.Tasks.Get(m.TargTask); ok {
		payload, err := envelope.DecodeMsgPayload(m.Data, appendix)
		if err != nil {
			n.Logger.Error("inbound msg payload decode failed", "task", m.TargTask, "err", err)
			return
		}
		msg := message.NewHeap(m.Notify, payload, n.Clock.NowUs())
		if m.Timer == "enable" {
			msg.SetTimer(m.Delay, m.Preodic, m.Cnt)
		}
		if err := n.Post(m.TargTask, msg, m.SrcTask); err != nil {
			n.Logger.Error("inbound post failed", "task", m.TargTask, "err", err)
		}
		return
	}

	peer, ok := n.MCUs.FindPeerForTask(m.TargTask)
	if !ok {
		n.Logger.Error("inbound msg targets unknown task", "task", m.TargTask)
		return
	}
	if err := n.MCUs.RouteOut(peer.CoreName, envelope.BuildMsg(m, appendix), arrivedOn); err != nil {
		n.Logger.Error("inbound msg forward failed", "task", m.TargTask, "core", peer.CoreName, "err", err)
	}
}

// handleInboundTopology mirrors the discovery loop in
// kernel_msg_layer_unpack/synchonize_tasklist's receive side: create or
// rehome peers, refresh their advertised task lists, drop entries that
// turn out to still be cached-only, and re-broadcast plus arm the
// unsync timer when anything changed.
func (n *Node) handleInboundTopology(t envelope.Topology, arrivedOn tunnel.Tunnel) {
	changed := false

	for _, coreName := range t.Cores {
		entry, ok := t.Entries[coreName]
		if !ok || coreName == n.LocalCoreName {
			continue
		}

		hop := entry.Jump
		if hop <= 0 {
			hop = 1
		}

		if peer, exists := n.MCUs.Get(coreName); !exists {
			n.MCUs.CreateOrUpdate(coreName, arrivedOn, hop)
			if err := n.Mmap.UpdateTo(n.LocalCoreName, coreName, false); err != nil {
				n.Logger.Error("new-peer mmap update failed", "core", coreName, "err", err)
			}
			changed = true
		} else if hop < peer.HopCount {
			if n.MCUs.Rehome(coreName, arrivedOn, hop) {
				if err := n.Mmap.UpdateTo(n.LocalCoreName, coreName, false); err != nil {
					n.Logger.Error("rehome mmap update failed", "core", coreName, "err", err)
				}
				changed = true
			}
		}

		n.MCUs.SetSupportsJSONExtra(coreName, entry.SupportJsonExtra)
		for _, taskName := range entry.TaskArray {
			if added := n.MCUs.EnsureTask(coreName, taskName, false); added {
				changed = true
			}
		}
		if n.MCUs.ClearCachedTasks(coreName) {
			changed = true
		}
	}

	n.MCUs.RecomputeAllBinary()
	n.MCUs.ReportPeersKnown()

	if changed {
		n.Logger.Info("topology changed")
		n.Metrics.TopologyChanges.Add(1)
		n.SynchronizeTasklist()
		n.Mmap.ArmUnsyncCheck(unsyncRetryMs)
	}
}

// SynchronizeTasklist broadcasts the known topology over every local
// tunnel (spec.md §4.8; source: synchonize_tasklist). Remote peers with
// any still-cached task (not yet confirmed live) are omitted, matching
// the source's "remove cached tasks... ignore MCU when cached" filter.
func (n *Node) SynchronizeTasklist() {
	local := n.MCUs.Local()
	if local == nil {
		return
	}

	for _, t := range n.Tasks.All() {
		n.MCUs.EnsureTask(local.CoreName, t.Name, false)
	}

	var cores []string
	entries := make(map[string]envelope.CoreEntry)
	for _, p := range n.MCUs.All() {
		if !p.IsLocal && p.AnyCached() {
			continue
		}
		cores = append(cores, p.CoreName)
		names := make([]string, 0, len(p.Tasks))
		for _, et := range p.Tasks {
			names = append(names, et.Name)
		}
		entries[p.CoreName] = envelope.CoreEntry{
			Jump:             p.HopCount + 1,
			SupportJsonExtra: p.SupportsJSONExtra,
			TaskArray:        names,
		}
	}

	raw := envelope.BuildTopology(envelope.Topology{Cores: cores, Entries: entries})
	for _, tun := range local.Tunnels {
		if tun.Passive() && !tun.Enabled() {
			continue
		}
		if _, err := tun.Send(raw); err != nil {
			n.Logger.Error("topology broadcast failed", "err", err)
		}
	}
}

// BackupTasklistForTunnel renders the task list of every peer reached
// through tun as a topology envelope suitable for persistent storage,
// for later recovery via RecoverExternalTaskOnTunnel (spec.md §4.9;
// source: kernel_backup_external_task_on_tunnel). It reports false if
// no peer on tun has changed since the last backup.
//
// Unlike the source, which never clears mcu->task_modified after a
// backup (an unaddressed gap — see DESIGN.md), this clears it on every
// peer included in the snapshot: the flag exists to decide whether a
// backup is worth writing, and a backup that was just written reflects
// the current state until the next change.
func (n *Node) BackupTasklistForTunnel(tun tunnel.Tunnel) (string, bool) {
	peers := n.MCUs.All()

	anyModified := false
	for _, p := range peers {
		if !p.IsLocal && p.Tunnel == tun && p.TaskModified {
			anyModified = true
			break
		}
	}
	if !anyModified {
		return "", false
	}

	var cores []string
	entries := make(map[string]envelope.CoreEntry)
	for _, p := range peers {
		if p.IsLocal || p.Tunnel != tun {
			continue
		}
		cores = append(cores, p.CoreName)
		names := make([]string, 0, len(p.Tasks))
		for _, et := range p.Tasks {
			names = append(names, et.Name)
		}
		entries[p.CoreName] = envelope.CoreEntry{
			Jump:             p.HopCount,
			SupportJsonExtra: p.SupportsJSONExtra,
			TaskArray:        names,
		}
		n.MCUs.ClearTaskModified(p.CoreName)
	}

	raw := envelope.BuildTopology(envelope.Topology{Cores: cores, Entries: entries})
	return string(raw), true
}

// RecoverExternalTaskOnTunnel restores peers backed up by
// BackupTasklistForTunnel (spec.md §4.9; source:
// kernel_recover_external_task_on_tunnel). Recovered tasks are marked
// Cached so they stay invisible to outbound announcements until a live
// topology message confirms them, and an mcu already known from live
// discovery is left untouched rather than overwritten.
func (n *Node) RecoverExternalTaskOnTunnel(tun tunnel.Tunnel, data string) (bool, error) {
	recovered := false

	handlers := envelope.Handlers{
		OnTopology: func(t envelope.Topology) {
			for _, coreName := range t.Cores {
				entry, ok := t.Entries[coreName]
				if !ok {
					continue
				}
				if _, exists := n.MCUs.Get(coreName); exists {
					n.Logger.Info("mcu already exists, ignoring backup entry", "core", coreName)
					continue
				}

				hop := entry.Jump
				if hop <= 0 {
					hop = 1
				}
				n.MCUs.CreateOrUpdate(coreName, tun, hop)
				n.MCUs.SetSupportsJSONExtra(coreName, entry.SupportJsonExtra)
				for _, taskName := range entry.TaskArray {
					n.MCUs.EnsureTask(coreName, taskName, true)
				}
				recovered = true
			}
		},
	}

	if err := envelope.Dispatch(handlers, []byte(data)); err != nil {
		return false, err
	}
	return recovered, nil
}

// Dump renders the node's task list and mailbox groups for diagnostics
// (spec.md §3; source: show_task/show_mailbox). Known peers are not
// included.
func (n *Node) Dump() string {
	return n.Tasks.Dump() + n.Mailbox.Dump()
}
