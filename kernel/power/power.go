// Package power specifies the power manager the scheduler gates task
// dispatch through (spec.md §1: "Power manager... exposed to the
// scheduler as a small state interface"). It is modeled the same way
// the teacher narrows its collaborators to a small interface the
// reactor holds by reference (monaco.BackendProxy in
// monaco/interfaces.go) rather than depending on a concrete
// implementation.
package power

// State is the power state a Handle reports via Check (spec.md §4.4:
// "DEACTIVATING", plus the GiveUp state used by CheckPowerFailure).
type State int

const (
	Active State = iota
	Activating
	Deactivating
	Inactive
	GiveUp
)

// Manager is the out-of-scope collaborator spec.md §1 names:
// activate/deactivate/check/check_power_failure.
type Manager interface {
	Activate(h *Handle) bool
	Deactivate(h *Handle)
	Check(h *Handle) State
	// CheckPowerFailure reports the sticky failure flag set after N
	// failed activations (spec.md §4.4, default N=3).
	CheckPowerFailure(h *Handle) bool
	// Tick advances the manager's internal clock by deltaMs
	// (spec.md §4.4 step 1: "call power-manager tick with delta_ms").
	Tick(deltaMs int64)
}

// Handle is the per-task opaque reference spec.md §3 calls power_handle.
// A nil *Handle means the task is not power-gated.
type Handle struct {
	Name string
}

// NewHandle names a handle for logging/debugging purposes only; the
// Manager implementation is free to key its own state however it likes.
func NewHandle(name string) *Handle {
	return &Handle{Name: name}
}

// nopManager never gates dispatch: Activate always succeeds, Check is
// always Active. Used for tasks and test fixtures with no real power
// rail to manage.
type nopManager struct{}

func NewNopManager() Manager { return nopManager{} }

func (nopManager) Activate(*Handle) bool          { return true }
func (nopManager) Deactivate(*Handle)             {}
func (nopManager) Check(*Handle) State            { return Active }
func (nopManager) CheckPowerFailure(*Handle) bool { return false }
func (nopManager) Tick(int64)                     {}

// ThresholdManager is a small reference implementation used by tests:
// Activate asks ActivateFn (success when nil), a success resets the
// failure count, and after MaxFailures consecutive failures the handle
// gives up permanently (CheckPowerFailure true, Check reports GiveUp),
// matching spec.md §4.4's "sticky flag after N failed activations,
// default 3". With MaxFailures <= 0 the first failure gives up.
type ThresholdManager struct {
	MaxFailures int
	ActivateFn  func(name string) bool

	failures map[string]int
	gaveUp   map[string]bool
	state    map[string]State
}

func NewThresholdManager(maxFailures int, activateFn func(name string) bool) *ThresholdManager {
	return &ThresholdManager{
		MaxFailures: maxFailures,
		ActivateFn:  activateFn,
		failures:    make(map[string]int),
		gaveUp:      make(map[string]bool),
		state:       make(map[string]State),
	}
}

func (m *ThresholdManager) Activate(h *Handle) bool {
	if m.gaveUp[h.Name] {
		return false
	}
	ok := true
	if m.ActivateFn != nil {
		ok = m.ActivateFn(h.Name)
	}
	if ok {
		m.failures[h.Name] = 0
		m.state[h.Name] = Active
		return true
	}
	m.failures[h.Name]++
	if m.failures[h.Name] >= m.MaxFailures {
		m.gaveUp[h.Name] = true
		m.state[h.Name] = GiveUp
	}
	return false
}

func (m *ThresholdManager) Deactivate(h *Handle) {
	m.state[h.Name] = Inactive
}

func (m *ThresholdManager) Check(h *Handle) State {
	return m.state[h.Name]
}

func (m *ThresholdManager) CheckPowerFailure(h *Handle) bool {
	return m.gaveUp[h.Name]
}

func (m *ThresholdManager) Tick(deltaMs int64) { _ = deltaMs }
