package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/arcology-network/nodekernel/kernel/errors"
)

func TestCreateKeepsPrioritySorted(t *testing.T) {
	r := NewRegistry(nil, 1000)

	_, err := r.Create("mid", nil, nil, 5)
	require.NoError(t, err)
	_, err = r.Create("low", nil, nil, 1)
	require.NoError(t, err)
	_, err = r.Create("high", nil, nil, 9)
	require.NoError(t, err)

	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, "low", all[0].Name)
	assert.Equal(t, "mid", all[1].Name)
	assert.Equal(t, "high", all[2].Name)
}

func TestCreateDuplicateNameRejected(t *testing.T) {
	r := NewRegistry(nil, 1000)
	_, err := r.Create("dup", nil, nil, 0)
	require.NoError(t, err)

	_, err = r.Create("dup", nil, nil, 0)
	require.Error(t, err)
	assert.True(t, kerrors.Is(err, kerrors.DuplicateTask))
}

func TestCreateAllowsReuseAfterReap(t *testing.T) {
	r := NewRegistry(nil, 1000)
	tk, err := r.Create("reused", nil, nil, 0)
	require.NoError(t, err)

	r.MarkDeleted("reused")
	r.Reap(tk)

	_, err = r.Create("reused", nil, nil, 0)
	assert.NoError(t, err)
}

func TestPauseAndRestartToggleFlagWithoutHidingTask(t *testing.T) {
	r := NewRegistry(nil, 1000)
	_, err := r.Create("t", nil, nil, 0)
	require.NoError(t, err)

	assert.True(t, r.Pause("t"))
	tk, ok := r.Get("t")
	require.True(t, ok)
	assert.True(t, tk.Paused)

	assert.True(t, r.Restart("t"))
	tk, _ = r.Get("t")
	assert.False(t, tk.Paused)
}

func TestGetHidesDeletedTasks(t *testing.T) {
	r := NewRegistry(nil, 1000)
	_, err := r.Create("gone", nil, nil, 0)
	require.NoError(t, err)

	r.MarkDeleted("gone")
	_, ok := r.Get("gone")
	assert.False(t, ok)
}

func TestDisableTimerWithoutPendingTimerIsNoOp(t *testing.T) {
	r := NewRegistry(nil, 1000)
	tk, err := r.Create("timed", nil, nil, 0)
	require.NoError(t, err)

	// DisableTimer is a no-op when there is nothing pending.
	assert.True(t, r.DisableTimer("timed"))
	assert.Nil(t, tk.TimerMsg)
}

func TestBindFreezerReceivesLifecycleEvents(t *testing.T) {
	r := NewRegistry(nil, 1000)
	_, err := r.Create("freezable", nil, nil, 0)
	require.NoError(t, err)

	var events []FreezeEvent
	r.BindFreezer("freezable", func(e FreezeEvent) { events = append(events, e) })

	r.Suspend("freezable")
	r.Resume("freezable")
	r.Pause("freezable")
	r.Restart("freezable")

	assert.Equal(t, []FreezeEvent{Suspend, Resume, Pause, Restart}, events)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "IDLE", Idle.String())
	assert.Equal(t, "IGNORE", Ignore.String())
	assert.Equal(t, "BUSY|MSG_PENDING", (Busy | MsgPending).String())
}

func TestUnknownNameOperationsReportFalse(t *testing.T) {
	r := NewRegistry(nil, 1000)
	assert.False(t, r.Suspend("nope"))
	assert.False(t, r.Resume("nope"))
	assert.False(t, r.Pause("nope"))
	assert.False(t, r.Restart("nope"))
	assert.False(t, r.DisableTimer("nope"))
	assert.False(t, r.BindFreezer("nope", func(FreezeEvent) {}))
	assert.False(t, r.MarkDeleted("nope"))
}
