// Package message implements the Message value (spec.md §3, §4.1): an
// immutable-after-post notification plus payload plus, mutually
// exclusively, a timer descriptor or a mailbox descriptor.
//
// The anonymous union the original C carries between kernel_msg_timer_t
// and kernel_mailbox_t (design note in spec.md §9, "Anonymous union of
// timer vs. mailbox descriptor") becomes an explicit tagged Kind here.
package message

// Kind discriminates the mutually-exclusive descriptor a Message carries.
// It is what the original source calls mailbox_type.
type Kind int

const (
	// KindHeap is a plain, heap-owned message with neither descriptor.
	KindHeap Kind = iota
	// KindTimer carries a TimerDescriptor.
	KindTimer
	// KindMailbox is borrowed from a mailbox slot while Occupied.
	KindMailbox
)

func (k Kind) String() string {
	switch k {
	case KindHeap:
		return "heap"
	case KindTimer:
		return "timer"
	case KindMailbox:
		return "mailbox"
	default:
		return "unknown"
	}
}

// TimerDescriptor is the {enabled, delay_ms, period_ms, remaining_count}
// tuple from spec.md §3. remaining_count < 0 means infinite, == 0 means
// one-shot after the next expiry, > 0 means that many additional firings.
type TimerDescriptor struct {
	Enabled        bool
	DelayMs        int32
	PeriodMs       int32
	RemainingCount int32
}

// MailboxDescriptor is the {occupied, token, owning_task} tuple from
// spec.md §3. Only its release callback is consulted here; the mailbox
// package keeps slot state on its own Slot type and does not fill this
// descriptor in.
type MailboxDescriptor struct {
	Occupied    bool
	Token       bool
	OwningTask  string
	slotRelease func()
}

// Message is the core kernel value: notification + payload + optional
// src_task + timestamp, plus exactly one of {timer, mailbox} descriptor.
type Message struct {
	Notification string
	Payload      []byte
	SrcTask      string
	TimeStampUs  int64

	Kind    Kind
	Timer   *TimerDescriptor
	Mailbox *MailboxDescriptor
}

// NewHeap allocates a fresh owned message (spec.md §4.1, "from task
// context"). now is the caller-supplied monotonic tick in microseconds;
// the scheduler's Clock collaborator (NowUs) is the usual source.
func NewHeap(notification string, payload []byte, nowUs int64) *Message {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return &Message{
		Notification: notification,
		Payload:      cp,
		TimeStampUs:  nowUs,
		Kind:         KindHeap,
	}
}

// Duplicate makes an independent owned copy, used by the scheduler's
// periodic timer advance (spec.md §4.4 step 3: "duplicate the message").
func (m *Message) Duplicate(nowUs int64) *Message {
	cp := make([]byte, len(m.Payload))
	copy(cp, m.Payload)
	return &Message{
		Notification: m.Notification,
		Payload:      cp,
		SrcTask:      m.SrcTask,
		TimeStampUs:  nowUs,
		Kind:         KindHeap,
	}
}

// SetTimer attaches a timer descriptor to a heap message (spec.md §4.1,
// "set_timer"). count > 0 is decremented once at attach time so the
// supplied value reads as "total fires including the first". Returns
// false if msg is mailbox-sourced (MisuseMailboxTimer, spec.md §7).
func (m *Message) SetTimer(delayMs, periodMs, count int32) bool {
	if m.Kind == KindMailbox {
		return false
	}
	if count > 0 {
		count--
	}
	m.Kind = KindTimer
	m.Timer = &TimerDescriptor{
		Enabled:        true,
		DelayMs:        delayMs,
		PeriodMs:       periodMs,
		RemainingCount: count,
	}
	return true
}

// NewMailboxBound constructs a mailbox-kind Message whose Release
// invokes release. mailbox.Pool does not use this wrapper: messages it
// drains reach task queues as heap messages.
func NewMailboxBound(release func()) *Message {
	return &Message{
		Kind: KindMailbox,
		Mailbox: &MailboxDescriptor{
			slotRelease: release,
		},
	}
}

// Release returns a mailbox-bound message's slot to its pool. It is a
// no-op for heap messages, whose memory is reclaimed by the garbage
// collector once unreferenced (spec.md §3 ownership: "heap-owned
// messages are owned by whichever queue holds them").
func (m *Message) Release() {
	if m.Kind == KindMailbox && m.Mailbox != nil && m.Mailbox.slotRelease != nil {
		m.Mailbox.slotRelease()
	}
}
