package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcology-network/nodekernel/kernel/message"
	"github.com/arcology-network/nodekernel/kernel/task"
	"github.com/arcology-network/nodekernel/kernel/tunnel"
)

// wireNodes links a and b with loopback tunnels so each delivers raw
// bytes straight into the other's HandleInbound, the way two real MCUs
// would be joined by a physical link.
func wireNodes(t *testing.T, a, b *Node) {
	t.Helper()
	aToB := tunnel.NewLoopbackTunnel(func(raw []byte) {
		require.NoError(t, b.HandleInbound(raw, nil))
	})
	bToA := tunnel.NewLoopbackTunnel(func(raw []byte) {
		require.NoError(t, a.HandleInbound(raw, nil))
	})
	a.MCUs.CreateOrUpdate(b.LocalCoreName, aToB, 1)
	b.MCUs.CreateOrUpdate(a.LocalCoreName, bToA, 1)

	// SynchronizeTasklist broadcasts over the local record's own tunnel
	// list, separate from the per-peer Tunnel chosen by CreateOrUpdate;
	// wire both so topology announcements actually reach the peer.
	a.MCUs.Local().Tunnels = append(a.MCUs.Local().Tunnels, aToB)
	b.MCUs.Local().Tunnels = append(b.MCUs.Local().Tunnels, bToA)
}

func TestPostLocalDispatchesDirectly(t *testing.T) {
	n := NewNode("core-a", nil, nil, nil, nil, nil)
	var got string
	_, err := n.CreateTask("t1", func(name string, m *message.Message, arg interface{}) task.State {
		got = m.Notification
		return task.Idle
	}, nil, 0)
	require.NoError(t, err)

	require.NoError(t, n.Post("t1", message.NewHeap("hi", nil, 0), ""))
	n.Pass()
	assert.Equal(t, "hi", got)
}

func TestPostToPausedTaskIsRejected(t *testing.T) {
	n := NewNode("core-a", nil, nil, nil, nil, nil)
	_, err := n.CreateTask("t1", func(string, *message.Message, interface{}) task.State { return task.Idle }, nil, 0)
	require.NoError(t, err)
	n.Tasks.Pause("t1")

	err = n.Post("t1", message.NewHeap("hi", nil, 0), "")
	assert.Error(t, err)
}

func TestPostUnknownTargetReturnsError(t *testing.T) {
	n := NewNode("core-a", nil, nil, nil, nil, nil)
	err := n.Post("nobody", message.NewHeap("hi", nil, 0), "")
	assert.Error(t, err)
}

func TestPostRoutesToPeerAndSynchronizeAdvertisesIt(t *testing.T) {
	a := NewNode("core-a", nil, nil, nil, nil, nil)
	b := NewNode("core-b", nil, nil, nil, nil, nil)
	wireNodes(t, a, b)

	var got string
	_, err := b.CreateTask("remote_task", func(name string, m *message.Message, arg interface{}) task.State {
		got = m.Notification
		return task.Idle
	}, nil, 0)
	require.NoError(t, err)

	b.SynchronizeTasklist()
	require.NoError(t, a.Post("remote_task", message.NewHeap("ping", nil, 0), ""))
	b.Pass()

	assert.Equal(t, "ping", got)
}

func TestHandleInboundTopologyCreatesPeerAndTask(t *testing.T) {
	a := NewNode("core-a", nil, nil, nil, nil, nil)
	b := NewNode("core-b", nil, nil, nil, nil, nil)
	wireNodes(t, a, b)

	_, err := b.CreateTask("svc", func(string, *message.Message, interface{}) task.State { return task.Idle }, nil, 0)
	require.NoError(t, err)

	b.SynchronizeTasklist()

	peer, ok := a.MCUs.Get("core-b")
	require.True(t, ok)
	_, found := peer.HasTask("svc")
	assert.True(t, found)
}

func TestBackupAndRecoverTasklistForTunnel(t *testing.T) {
	a := NewNode("core-a", nil, nil, nil, nil, nil)
	tun := tunnel.NewLoopbackTunnel(nil)
	_, changed := a.MCUs.CreateOrUpdate("core-b", tun, 1)
	require.True(t, changed)
	a.MCUs.EnsureTask("core-b", "svc", false)

	data, ok := a.BackupTasklistForTunnel(tun)
	require.True(t, ok)
	assert.NotEmpty(t, data)

	// a second call finds nothing new to back up.
	_, ok = a.BackupTasklistForTunnel(tun)
	assert.False(t, ok)

	fresh := NewNode("core-c", nil, nil, nil, nil, nil)
	recovered, err := fresh.RecoverExternalTaskOnTunnel(tun, data)
	require.NoError(t, err)
	assert.True(t, recovered)

	peer, ok := fresh.MCUs.Get("core-b")
	require.True(t, ok)
	et, found := peer.HasTask("svc")
	require.True(t, found)
	assert.True(t, et.Cached)
}

func TestRecoverExternalTaskSkipsAlreadyKnownPeer(t *testing.T) {
	a := NewNode("core-a", nil, nil, nil, nil, nil)
	tun := tunnel.NewLoopbackTunnel(nil)
	a.MCUs.CreateOrUpdate("core-b", tun, 1)
	a.MCUs.EnsureTask("core-b", "svc", false)
	data, ok := a.BackupTasklistForTunnel(tun)
	require.True(t, ok)

	// core-b is already known (live), so recovery must not overwrite it.
	recovered, err := a.RecoverExternalTaskOnTunnel(tun, data)
	require.NoError(t, err)
	assert.False(t, recovered)
}

func TestDumpIncludesTasksAndMailboxes(t *testing.T) {
	n := NewNode("core-a", nil, nil, nil, nil, nil)
	_, err := n.CreateTask("t1", nil, nil, 0)
	require.NoError(t, err)
	require.NoError(t, n.CreateMailboxGroup(16, 2))

	out := n.Dump()
	assert.Contains(t, out, "t1")
	assert.Contains(t, out, "Mailbox List")
}
