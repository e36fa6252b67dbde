package mcu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcology-network/nodekernel/kernel/tunnel"
)

func newFakeTunnel() *tunnel.LoopbackTunnel {
	return tunnel.NewLoopbackTunnel(func([]byte) {})
}

func TestSetLocalInstallsExactlyOneLocalRecord(t *testing.T) {
	r := NewRegistry(nil, nil)
	local := r.SetLocal("core-a", nil)

	assert.True(t, local.IsLocal)
	assert.Equal(t, local, r.Local())
	got, ok := r.Get("core-a")
	require.True(t, ok)
	assert.True(t, got.IsLocal)
}

func TestCreateOrUpdateInsertsNewPeer(t *testing.T) {
	r := NewRegistry(nil, nil)
	tun := newFakeTunnel()

	p, changed := r.CreateOrUpdate("core-b", tun, 1)
	assert.True(t, changed)
	assert.Equal(t, 1, p.HopCount)
	assert.True(t, p.TaskModified)
}

func TestCreateOrUpdateRehomesOnHopReduction(t *testing.T) {
	r := NewRegistry(nil, nil)
	tunA, tunB := newFakeTunnel(), newFakeTunnel()

	r.CreateOrUpdate("core-b", tunA, 3)
	p, changed := r.CreateOrUpdate("core-b", tunB, 1)
	assert.True(t, changed)
	assert.Equal(t, 1, p.HopCount)
	assert.Equal(t, tunnel.Tunnel(tunB), p.Tunnel)
}

func TestCreateOrUpdateIgnoresWorseHop(t *testing.T) {
	r := NewRegistry(nil, nil)
	tunA, tunB := newFakeTunnel(), newFakeTunnel()

	r.CreateOrUpdate("core-b", tunA, 1)
	p, changed := r.CreateOrUpdate("core-b", tunB, 5)
	assert.False(t, changed)
	assert.Equal(t, 1, p.HopCount)
	assert.Equal(t, tunnel.Tunnel(tunA), p.Tunnel)
}

func TestRehomeRejectsUnknownPeerAndWorseHop(t *testing.T) {
	r := NewRegistry(nil, nil)
	assert.False(t, r.Rehome("nope", newFakeTunnel(), 1))

	tunA := newFakeTunnel()
	r.CreateOrUpdate("core-b", tunA, 2)
	assert.False(t, r.Rehome("core-b", newFakeTunnel(), 2))
}

func TestFindPeerForTaskSkipsLocal(t *testing.T) {
	r := NewRegistry(nil, nil)
	local := r.SetLocal("core-a", nil)
	local.Tasks = append(local.Tasks, &ExternalTask{Name: "shared"})

	r.CreateOrUpdate("core-b", newFakeTunnel(), 1)
	r.EnsureTask("core-b", "shared", false)

	p, ok := r.FindPeerForTask("shared")
	require.True(t, ok)
	assert.Equal(t, "core-b", p.CoreName)
}

func TestEnsureTaskClearsCachedOnLiveSighting(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.CreateOrUpdate("core-b", newFakeTunnel(), 1)

	r.EnsureTask("core-b", "t1", true)
	p, _ := r.Get("core-b")
	et, _ := p.HasTask("t1")
	assert.True(t, et.Cached)

	r.EnsureTask("core-b", "t1", false)
	assert.False(t, et.Cached)
}

func TestEnsureTaskReportsNoChangeOnRepeatAnnouncement(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.CreateOrUpdate("core-b", newFakeTunnel(), 1)

	assert.True(t, r.EnsureTask("core-b", "t1", false), "first sighting adds the task")
	assert.False(t, r.EnsureTask("core-b", "t1", false), "repeat live sighting changes nothing")
}

func TestEnsureTaskUnknownCoreReturnsFalse(t *testing.T) {
	r := NewRegistry(nil, nil)
	assert.False(t, r.EnsureTask("no-such-core", "t1", false))
}

func TestClearCachedTasksRemovesOnlyCachedEntries(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.CreateOrUpdate("core-b", newFakeTunnel(), 1)
	r.EnsureTask("core-b", "cached1", true)
	r.EnsureTask("core-b", "live1", false)

	removed := r.ClearCachedTasks("core-b")
	assert.True(t, removed)

	p, _ := r.Get("core-b")
	assert.Len(t, p.Tasks, 1)
	assert.Equal(t, "live1", p.Tasks[0].Name)
}

func TestRecomputeAllBinaryRequiresEveryRemotePeer(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.SetLocal("core-a", nil)
	r.CreateOrUpdate("core-b", newFakeTunnel(), 1)
	r.CreateOrUpdate("core-c", newFakeTunnel(), 1)

	r.SetSupportsJSONExtra("core-b", true)
	assert.False(t, r.RecomputeAllBinary())

	r.SetSupportsJSONExtra("core-c", true)
	assert.True(t, r.RecomputeAllBinary())
}

func TestRouteOutRejectsUnknownAndLocalTargets(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.SetLocal("core-a", nil)

	assert.Error(t, r.RouteOut("nope", []byte("x"), nil))
	assert.Error(t, r.RouteOut("core-a", []byte("x"), nil))
}

func TestRouteOutAvoidsSpecifiedTunnel(t *testing.T) {
	r := NewRegistry(nil, nil)
	tun := newFakeTunnel()
	r.CreateOrUpdate("core-b", tun, 1)

	err := r.RouteOut("core-b", []byte("x"), tun)
	assert.NoError(t, err)
}

func TestRouteOutDropsSilentlyOnDisabledPassiveTunnel(t *testing.T) {
	r := NewRegistry(nil, nil)
	tun := newFakeTunnel()
	tun.SetPassive(true)
	tun.SetEnabled(false)
	r.CreateOrUpdate("core-b", tun, 1)

	err := r.RouteOut("core-b", []byte("x"), nil)
	assert.NoError(t, err)
}

func TestRouteOutSendsOverActiveTunnel(t *testing.T) {
	var received []byte
	tun := tunnel.NewLoopbackTunnel(func(b []byte) { received = b })

	r := NewRegistry(nil, nil)
	r.CreateOrUpdate("core-b", tun, 1)

	err := r.RouteOut("core-b", []byte("hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(received))
}

func TestReportPeersKnownCountsNonLocalOnly(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.SetLocal("core-a", nil)
	r.CreateOrUpdate("core-b", newFakeTunnel(), 1)
	r.CreateOrUpdate("core-c", newFakeTunnel(), 1)

	// exercised for side effects only; metrics.NopMetrics accepts the call.
	r.ReportPeersKnown()
}
