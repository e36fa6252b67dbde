// Hand-written testify mock, laid out the way mockery lays out its mocks.

package mocks

import (
	mock "github.com/stretchr/testify/mock"

	power "github.com/arcology-network/nodekernel/kernel/power"
)

// Manager is a mock type for the power.Manager type
type Manager struct {
	mock.Mock
}

// Activate provides a mock function with given fields: h
func (_m *Manager) Activate(h *power.Handle) bool {
	ret := _m.Called(h)

	var r0 bool
	if rf, ok := ret.Get(0).(func(*power.Handle) bool); ok {
		r0 = rf(h)
	} else {
		r0 = ret.Get(0).(bool)
	}

	return r0
}

// Deactivate provides a mock function with given fields: h
func (_m *Manager) Deactivate(h *power.Handle) {
	_m.Called(h)
}

// Check provides a mock function with given fields: h
func (_m *Manager) Check(h *power.Handle) power.State {
	ret := _m.Called(h)

	var r0 power.State
	if rf, ok := ret.Get(0).(func(*power.Handle) power.State); ok {
		r0 = rf(h)
	} else {
		r0 = ret.Get(0).(power.State)
	}

	return r0
}

// CheckPowerFailure provides a mock function with given fields: h
func (_m *Manager) CheckPowerFailure(h *power.Handle) bool {
	ret := _m.Called(h)

	var r0 bool
	if rf, ok := ret.Get(0).(func(*power.Handle) bool); ok {
		r0 = rf(h)
	} else {
		r0 = ret.Get(0).(bool)
	}

	return r0
}

// Tick provides a mock function with given fields: deltaMs
func (_m *Manager) Tick(deltaMs int64) {
	_m.Called(deltaMs)
}
