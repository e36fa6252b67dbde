// Package service provides a Start/Stop/IsRunning lifecycle for
// long-lived components, mirroring the way the teacher's reactors
// embed p2p.BaseReactor (see mempool.Reactor's "p2p.BaseReactor" field)
// rather than hand-rolling lifecycle bookkeeping in each component.
package service

import (
	"fmt"
	"sync/atomic"

	"github.com/arcology-network/nodekernel/libs/log"
)

// Impl is implemented by the concrete service; BaseService calls these
// hooks exactly once per Start/Stop.
type Impl interface {
	OnStart() error
	OnStop()
}

// BaseService provides guarded start/stop semantics for an Impl. No
// component in this module embeds it; the scheduler is driven by its
// caller's own loop.
type BaseService struct {
	Logger  log.Logger
	name    string
	started uint32
	stopped uint32
	impl    Impl
}

func NewBaseService(logger log.Logger, name string, impl Impl) *BaseService {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &BaseService{
		Logger: logger,
		name:   name,
		impl:   impl,
	}
}

func (bs *BaseService) Start() error {
	if !atomic.CompareAndSwapUint32(&bs.started, 0, 1) {
		return fmt.Errorf("%s: already started", bs.name)
	}
	bs.Logger.Info("starting service", "service", bs.name)
	return bs.impl.OnStart()
}

func (bs *BaseService) Stop() error {
	if !atomic.CompareAndSwapUint32(&bs.stopped, 0, 1) {
		return fmt.Errorf("%s: already stopped", bs.name)
	}
	bs.Logger.Info("stopping service", "service", bs.name)
	bs.impl.OnStop()
	return nil
}

func (bs *BaseService) IsRunning() bool {
	return atomic.LoadUint32(&bs.started) == 1 && atomic.LoadUint32(&bs.stopped) == 0
}

func (bs *BaseService) String() string {
	return bs.name
}
