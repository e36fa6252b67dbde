// Package mailbox implements the mailbox group pool (spec.md §3
// "Mailbox group", §4.1 "From interrupt context", §4.3 "Mailbox drain").
//
// Grounded on original_source/refactor/kernel_mailbox.c's create_mailbox
// (group-by-capacity insertion keeping the list sorted) and kernel_msg.c's
// __new_msg_from_isr (slot scan + two-step claim).
package mailbox

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	kerrors "github.com/arcology-network/nodekernel/kernel/errors"
	"github.com/arcology-network/nodekernel/kernel/metrics"
	"github.com/arcology-network/nodekernel/kernel/task"
	"github.com/arcology-network/nodekernel/libs/log"
	"github.com/arcology-network/nodekernel/libs/syncx"
)

// Slot is one pre-allocated mailbox slot (spec.md §3). occupied/token
// mirror the original's bitfields; Go represents the tagged two-step
// claim explicitly rather than packing bits, since nothing here is
// memory-constrained the way the embedded C original is.
type Slot struct {
	occupied bool
	token    bool

	taskHandler *task.Task

	notification string
	payload      []byte
	timeStampUs  int64
}

func (s *Slot) clear() {
	s.occupied = false
	s.token = false
	s.taskHandler = nil
	s.notification = ""
	s.payload = nil
	s.timeStampUs = 0
}

// Group holds slot_count pre-allocated slots of slot_capacity bytes
// (spec.md §3 "Mailbox group"). anyUnread is set when NewFromISR claims
// a slot, before any task is bound to it, and Drain re-sets it while an
// occupied slot is still waiting for Bind.
type Group struct {
	SlotCapacity int
	slots        []*Slot
	anyUnread    bool
}

// Pool is the ordered collection of groups keyed by SlotCapacity
// ascending (spec.md §3 invariant: "slot_capacity strictly determines
// the group's position"). Creating a group with a capacity that already
// exists adds the new slots to that existing group.
//
// All mutual exclusion between interrupt producers and the scheduler's
// drain phase (spec.md §4.3, §5 "isr_mutex") is provided by mu; the
// two-step token/occupied claim is kept as explicit slot state even
// though mu alone already serializes every caller in this
// implementation.
type Pool struct {
	groups  []*Group
	mu      syncx.Mutex
	logger  log.Logger
	metrics *metrics.Metrics
}

func NewPool(logger log.Logger, m *metrics.Metrics) *Pool {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if m == nil {
		m = metrics.NopMetrics()
	}
	return &Pool{logger: logger, metrics: m}
}

// CreateGroup pre-allocates a new group of slotCount slots of
// slotCapacity bytes, keeping groups sorted ascending by capacity
// (spec.md §3 invariant; ground truth: kernel_mailbox.c's create_mailbox
// insertion-point search). Rejects size<=0 or count<=0 (spec.md §8
// boundary: "create_mailbox(size=0, n>0) rejects; create_mailbox(size>0,
// n=0) rejects").
func (p *Pool) CreateGroup(slotCapacity, slotCount int) error {
	if slotCapacity <= 0 {
		return kerrors.New(kerrors.MalformedEnvelope, "mailbox slot_capacity must be > 0, got %d", slotCapacity)
	}
	if slotCount <= 0 {
		return kerrors.New(kerrors.MalformedEnvelope, "mailbox slot_count must be > 0, got %d", slotCount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var g *Group
	for _, existing := range p.groups {
		if existing.SlotCapacity == slotCapacity {
			g = existing
			break
		}
	}
	if g == nil {
		g = &Group{SlotCapacity: slotCapacity}
		p.groups = append(p.groups, g)
		sort.Slice(p.groups, func(i, j int) bool {
			return p.groups[i].SlotCapacity < p.groups[j].SlotCapacity
		})
	}
	for i := 0; i < slotCount; i++ {
		g.slots = append(g.slots, &Slot{})
	}
	return nil
}

// NewFromISR is the ISR-safe message constructor (spec.md §4.1 "From
// interrupt context"). It selects the smallest group whose SlotCapacity
// exceeds payload length, claims the first free slot in that group via
// the token/occupied two-step, and copies the payload in. Returns
// NoMailbox if no group has room (spec.md §8 boundary: "A message whose
// payload length is >= all group sizes returns NoMailbox").
func (p *Pool) NewFromISR(notification string, payload []byte, nowUs int64) (*Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, g := range p.groups {
		if g.SlotCapacity <= len(payload) {
			continue
		}
		for _, s := range g.slots {
			if s.occupied {
				continue
			}
			if s.token {
				continue
			}
			s.token = true
			if s.occupied {
				continue
			}
			s.occupied = true

			cp := make([]byte, len(payload))
			copy(cp, payload)
			s.notification = notification
			s.payload = cp
			s.timeStampUs = nowUs
			s.taskHandler = nil

			g.anyUnread = true
			return s, nil
		}
	}

	p.metrics.MailboxDropped.Add(1)
	p.logger.Error("no mailbox slot fits payload", "notification", notification, "length", len(payload))
	return nil, kerrors.New(kerrors.NoMailbox, "no mailbox group fits a %d-byte payload", len(payload))
}

// Bind assigns the slot's owning task and marks it pending, the mailbox
// half of spec.md §4.2 post: "atomically (ISR-safe region) set
// mailbox.task_handler := T and set T.state |= MSG_PENDING".
func (p *Pool) Bind(s *Slot, t *task.Task) {
	p.mu.Lock()
	s.taskHandler = t
	t.State |= task.MsgPending
	p.mu.Unlock()
}

// DrainedMessage is one mailbox slot converted into a heap message for
// its owning task, produced by Drain (spec.md §4.3).
type DrainedMessage struct {
	Task         *task.Task
	Notification string
	Payload      []byte
	TimeStampUs  int64
}

// Drain implements spec.md §4.3: for each group with AnyUnread, clear the
// flag first (so a new arrival during the drain re-sets it), then walk
// occupied slots with a bound task handler, producing one DrainedMessage
// per slot and releasing it. A slot occupied but not yet bound
// (task_handler == nil) is left alone and the group's AnyUnread flag is
// re-armed so it is retried next pass.
func (p *Pool) Drain() []DrainedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []DrainedMessage
	for _, g := range p.groups {
		if !g.anyUnread {
			continue
		}
		g.anyUnread = false
		for _, s := range g.slots {
			if !s.occupied {
				continue
			}
			if s.taskHandler == nil {
				g.anyUnread = true
				continue
			}
			out = append(out, DrainedMessage{
				Task:         s.taskHandler,
				Notification: s.notification,
				Payload:      s.payload,
				TimeStampUs:  s.timeStampUs,
			})
			s.clear()
		}
	}
	for _, g := range p.groups {
		occupied := 0
		for _, s := range g.slots {
			if s.occupied {
				occupied++
			}
		}
		p.metrics.MailboxOccupancy.With("capacity", strconv.Itoa(g.SlotCapacity)).Set(float64(occupied))
	}
	return out
}

// AnyUnread reports whether any group has unread mail, feeding
// idle_time()'s zero-wait condition (spec.md §4.5).
func (p *Pool) AnyUnread() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range p.groups {
		if g.anyUnread {
			return true
		}
	}
	return false
}

// Dump renders occupied slots, grounded on kernel_mailbox.c's show_mailbox.
func (p *Pool) Dump() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b strings.Builder
	b.WriteString("Mailbox List\n")
	for _, g := range p.groups {
		fmt.Fprintf(&b, "Mailbox[%d] x %d Bytes\n", len(g.slots), g.SlotCapacity)
		for i, s := range g.slots {
			if s.occupied {
				fmt.Fprintf(&b, "\tbox[%d] : %s (%d)\n", i, s.notification, len(s.payload))
			}
		}
	}
	return b.String()
}
