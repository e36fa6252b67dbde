package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/arcology-network/nodekernel/kernel/errors"
	"github.com/arcology-network/nodekernel/kernel/task"
)

func TestCreateGroupRejectsNonPositiveSizes(t *testing.T) {
	p := NewPool(nil, nil)
	assert.Error(t, p.CreateGroup(0, 4))
	assert.Error(t, p.CreateGroup(16, 0))
}

func TestCreateGroupMergesSameCapacity(t *testing.T) {
	p := NewPool(nil, nil)
	require.NoError(t, p.CreateGroup(16, 2))
	require.NoError(t, p.CreateGroup(16, 3))

	require.Len(t, p.groups, 1)
	assert.Len(t, p.groups[0].slots, 5)
}

func TestCreateGroupKeepsGroupsSortedByCapacity(t *testing.T) {
	p := NewPool(nil, nil)
	require.NoError(t, p.CreateGroup(64, 1))
	require.NoError(t, p.CreateGroup(16, 1))
	require.NoError(t, p.CreateGroup(32, 1))

	require.Len(t, p.groups, 3)
	assert.Equal(t, 16, p.groups[0].SlotCapacity)
	assert.Equal(t, 32, p.groups[1].SlotCapacity)
	assert.Equal(t, 64, p.groups[2].SlotCapacity)
}

func TestNewFromISRPicksSmallestFittingGroup(t *testing.T) {
	p := NewPool(nil, nil)
	require.NoError(t, p.CreateGroup(8, 1))
	require.NoError(t, p.CreateGroup(32, 1))

	s, err := p.NewFromISR("evt", []byte("1234"), 10)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.True(t, p.groups[0].anyUnread)
	assert.False(t, p.groups[1].anyUnread)
}

func TestNewFromISRReturnsNoMailboxWhenNothingFits(t *testing.T) {
	p := NewPool(nil, nil)
	require.NoError(t, p.CreateGroup(4, 1))

	_, err := p.NewFromISR("evt", []byte("toolong!"), 0)
	require.Error(t, err)
	assert.True(t, kerrors.Is(err, kerrors.NoMailbox))
}

func TestDrainOnlyReturnsBoundSlots(t *testing.T) {
	p := NewPool(nil, nil)
	require.NoError(t, p.CreateGroup(16, 2))

	s1, err := p.NewFromISR("a", []byte("x"), 1)
	require.NoError(t, err)
	_, err = p.NewFromISR("b", []byte("y"), 2)
	require.NoError(t, err)

	tk := &task.Task{Name: "owner"}
	p.Bind(s1, tk)

	drained := p.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, "a", drained[0].Notification)
	assert.Equal(t, tk, drained[0].Task)

	// the unbound slot re-arms anyUnread so it is retried next pass.
	assert.True(t, p.groups[0].anyUnread)
}

func TestDrainClearsAnyUnreadWhenFullyConsumed(t *testing.T) {
	p := NewPool(nil, nil)
	require.NoError(t, p.CreateGroup(16, 1))

	s, err := p.NewFromISR("a", []byte("x"), 1)
	require.NoError(t, err)
	p.Bind(s, &task.Task{Name: "owner"})

	p.Drain()
	assert.False(t, p.AnyUnread())
}

func TestBindSetsMsgPendingOnTask(t *testing.T) {
	p := NewPool(nil, nil)
	require.NoError(t, p.CreateGroup(16, 1))
	s, err := p.NewFromISR("a", []byte("x"), 1)
	require.NoError(t, err)

	tk := &task.Task{Name: "owner"}
	p.Bind(s, tk)
	assert.NotEqual(t, task.Idle, tk.State&task.MsgPending)
}
