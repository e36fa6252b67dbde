package mmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcology-network/nodekernel/kernel/envelope"
	kerrors "github.com/arcology-network/nodekernel/kernel/errors"
	"github.com/arcology-network/nodekernel/kernel/mcu"
	"github.com/arcology-network/nodekernel/kernel/tunnel"
)

func newRegistryPair(t *testing.T) (*mcu.Registry, *mcu.Registry, *tunnel.LoopbackTunnel, *tunnel.LoopbackTunnel) {
	t.Helper()
	a := mcu.NewRegistry(nil, nil)
	b := mcu.NewRegistry(nil, nil)
	a.SetLocal("core-a", nil)
	b.SetLocal("core-b", nil)

	tunAtoB := tunnel.NewLoopbackTunnel(nil)
	tunBtoA := tunnel.NewLoopbackTunnel(nil)
	a.CreateOrUpdate("core-b", tunAtoB, 1)
	b.CreateOrUpdate("core-a", tunBtoA, 1)
	return a, b, tunAtoB, tunBtoA
}

func TestRegisterRejectsReservedNames(t *testing.T) {
	e := NewEngine(mcu.NewRegistry(nil, nil), nil, nil)
	_, err := e.RegisterFrom("mmap", "core-a", make([]byte, 4))
	require.Error(t, err)
	assert.True(t, kerrors.Is(err, kerrors.ReservedName))

	_, err = e.RegisterTo("mmap_array", "core-a", make([]byte, 4))
	require.Error(t, err)
}

func TestRegisterRejectsZeroSizeRegion(t *testing.T) {
	e := NewEngine(mcu.NewRegistry(nil, nil), nil, nil)
	_, err := e.RegisterFrom("r1", "core-a", nil)
	require.Error(t, err)
}

func TestUpdateToOnlyPushesChangedRegionsWhenDiffSync(t *testing.T) {
	regA, regB, _, _ := newRegistryPair(t)

	engA := NewEngine(regA, nil, nil)
	mem := []byte{1, 2, 3, 4}
	to, err := engA.RegisterTo("region1", "core-b", mem)
	require.NoError(t, err)

	engB := NewEngine(regB, nil, nil)
	fromMem := make([]byte, 4)
	_, err = engB.RegisterFrom("region1", "core-a", fromMem)
	require.NoError(t, err)

	// Nothing changed yet: diff-sync push should be a no-op (the tunnel
	// newRegistryPair wired has a nil handler, so any Send would panic).
	require.NoError(t, engA.UpdateTo("core-a", "core-b", true))

	mem[0] = 99
	to.Mem = mem
	// Now something changed; route through a tunnel that decodes and
	// applies the push on B's engine directly, the way kernel.HandleInbound
	// would after envelope.Dispatch.
	live := tunnel.NewLoopbackTunnel(func(raw []byte) {
		err := envelope.Dispatch(envelope.Handlers{
			OnMmap: func(m envelope.MmapPush) {
				engB.HandleInboundPush("core-b", m, nil)
			},
		}, raw)
		require.NoError(t, err)
	})
	peer, ok := regA.Get("core-b")
	require.True(t, ok)
	peer.Tunnel = live

	require.NoError(t, engA.UpdateTo("core-a", "core-b", true))
	assert.Equal(t, mem, fromMem)
}

func TestUpdateFromRejectsSizeMismatch(t *testing.T) {
	reg := mcu.NewRegistry(nil, nil)
	e := NewEngine(reg, nil, nil)
	_, err := e.RegisterFrom("region1", "core-a", make([]byte, 4))
	require.NoError(t, err)

	err = e.UpdateFrom("core-a", "region1", make([]byte, 2))
	require.Error(t, err)
	assert.True(t, kerrors.Is(err, kerrors.SizeMismatch))
}

func TestUpdateFromSkipsNoopWhenUnchanged(t *testing.T) {
	reg := mcu.NewRegistry(nil, nil)
	e := NewEngine(reg, nil, nil)
	mem := make([]byte, 4)
	called := false
	r, err := e.RegisterFrom("region1", "core-a", mem)
	require.NoError(t, err)
	r.OnUpdate = func([]byte) { called = true }

	err = e.UpdateFrom("core-a", "region1", make([]byte, 4))
	require.NoError(t, err)
	assert.False(t, called)
	assert.True(t, r.SyncAlready)
}

func TestArmUnsyncCheckAndNextDeadline(t *testing.T) {
	e := NewEngine(mcu.NewRegistry(nil, nil), nil, nil)
	_, armed := e.NextUnsyncDeadline()
	assert.False(t, armed)

	e.ArmUnsyncCheck(300)
	d, armed := e.NextUnsyncDeadline()
	assert.True(t, armed)
	assert.Equal(t, int64(300), d.Milliseconds())
}

func TestTickFiresRequestOncePerPeer(t *testing.T) {
	reg := mcu.NewRegistry(nil, nil)
	reg.SetLocal("core-a", nil)
	sent := 0
	tun := tunnel.NewLoopbackTunnel(func([]byte) { sent++ })
	reg.CreateOrUpdate("core-b", tun, 1)

	e := NewEngine(reg, nil, nil)
	_, err := e.RegisterFrom("region1", "core-b", make([]byte, 4))
	require.NoError(t, err)

	e.ArmUnsyncCheck(100)
	e.Tick("core-a", 50)
	assert.Equal(t, 0, sent)

	e.Tick("core-a", 60)
	assert.Equal(t, 1, sent)

	// re-arming and firing again retries the still-unsynced region: each
	// fire clears MmapReqSent for every peer first, so dedup only holds
	// within a single fire, not across the next topology-triggered arm.
	e.ArmUnsyncCheck(10)
	e.Tick("core-a", 20)
	assert.Equal(t, 2, sent)
}
