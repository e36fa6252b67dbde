// Package mmap implements the shared-memory mirroring engine (spec.md §3
// "Mmap region", §4.7 "Mmap synchronization"). Grounded on
// original_source/refactor/kernel_cores_sync.c's kernel_mmap_from/
// kernel_mmap_to/kernel_mmap_update_to/kernel_mmap_update_from/
// kernel_mmap_request/kernel_mmap_check_unsync_core, structured the way
// the teacher's mempool/reactor.go keeps two parallel worklists (one per
// direction) guarded by a single mutex rather than one per list.
package mmap

import (
	"bytes"
	"time"

	kerrors "github.com/arcology-network/nodekernel/kernel/errors"
	"github.com/arcology-network/nodekernel/kernel/envelope"
	"github.com/arcology-network/nodekernel/kernel/mcu"
	"github.com/arcology-network/nodekernel/kernel/metrics"
	"github.com/arcology-network/nodekernel/kernel/tunnel"
	"github.com/arcology-network/nodekernel/libs/log"
	"github.com/arcology-network/nodekernel/libs/syncx"
)

// FromRegion mirrors a remote core's memory into a local buffer
// (spec.md §4.7 "from" side; source: kernel_mmap_from).
type FromRegion struct {
	Name        string
	SourceCore  string
	Mem         []byte
	SyncAlready bool
	OnUpdate    func(mem []byte)
}

// ToRegion mirrors a local buffer out to a remote core (spec.md §4.7
// "to" side; source: kernel_mmap_to). PrevSync is the snapshot taken at
// the last successful push, compared against Mem to decide whether a
// diff-sync push has anything new to send.
type ToRegion struct {
	Name     string
	DestCore string
	Mem      []byte
	PrevSync []byte
}

func (r *ToRegion) changed() bool {
	return !bytes.Equal(r.Mem, r.PrevSync)
}

// Engine owns both region queues and the unsync retry timer (spec.md
// §4.7). It routes pushes and requests through an mcu.Registry, the same
// collaborator the scheduler and router use (spec.md §1 "MCU registry
// and router").
type Engine struct {
	mu      syncx.Mutex
	froms   []*FromRegion
	tos     []*ToRegion
	mcus    *mcu.Registry
	logger  log.Logger
	metrics *metrics.Metrics

	unsyncArmed     bool
	unsyncElapsedMs int64
	unsyncTimeoutMs int64
}

func NewEngine(mcus *mcu.Registry, logger log.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if m == nil {
		m = metrics.NopMetrics()
	}
	return &Engine{mcus: mcus, logger: logger, metrics: m}
}

// RegisterFrom installs a receiving region (spec.md §4.7 invariant: a
// region name of "mmap" or "mmap_array" is rejected — ReservedName).
func (e *Engine) RegisterFrom(name, sourceCore string, mem []byte) (*FromRegion, error) {
	if envelope.IsReservedName(name) {
		return nil, kerrors.New(kerrors.ReservedName, "mmap region name %q is reserved", name)
	}
	if len(mem) == 0 {
		return nil, kerrors.New(kerrors.MalformedEnvelope, "mmap region %q has zero size", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r := &FromRegion{Name: name, SourceCore: sourceCore, Mem: mem}
	e.froms = append(e.froms, r)
	return r, nil
}

// RegisterTo installs a sending region, snapshotting mem into PrevSync
// so the first UpdateTo(diffSync=true) call sees the current content as
// "changed" only once it actually diverges from this snapshot.
func (e *Engine) RegisterTo(name, destCore string, mem []byte) (*ToRegion, error) {
	if envelope.IsReservedName(name) {
		return nil, kerrors.New(kerrors.ReservedName, "mmap region name %q is reserved", name)
	}
	if len(mem) == 0 {
		return nil, kerrors.New(kerrors.MalformedEnvelope, "mmap region %q has zero size", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := make([]byte, len(mem))
	copy(snap, mem)
	r := &ToRegion{Name: name, DestCore: destCore, Mem: mem, PrevSync: snap}
	e.tos = append(e.tos, r)
	return r, nil
}

// send pushes one to-region's current content out via the mcu router,
// mirroring kernel_mmap_outside's single-region JSON shape.
func (e *Engine) send(localCore string, r *ToRegion, avoidTunnel tunnel.Tunnel) error {
	push := envelope.MmapPush{
		MmapArray: []string{r.Name},
		Regions: map[string]envelope.MmapRegionEntry{
			r.Name: {
				SrcCore: localCore,
				DstCore: r.DestCore,
				MemSize: len(r.Mem),
				MemData: envelope.EncodeRegionData(r.Mem),
			},
		},
	}
	return e.mcus.RouteOut(r.DestCore, envelope.BuildMmapPush(push), avoidTunnel)
}

// UpdateTo implements kernel_mmap_update_to: push every to-region whose
// DestCore matches targetCore (all of them when targetCore is ""), or
// only those whose Mem has diverged from PrevSync when diffSync is
// true. Matching the source, a push failure stops the walk immediately
// rather than skipping ahead to later regions.
func (e *Engine) UpdateTo(localCore, targetCore string, diffSync bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.tos {
		if targetCore != "" && r.DestCore != targetCore {
			continue
		}
		if diffSync && !r.changed() {
			continue
		}
		if err := e.send(localCore, r, nil); err != nil {
			return err
		}
		e.metrics.MmapPushesSent.Add(1)
		copy(r.PrevSync, r.Mem)
	}
	return nil
}

// UpdateFrom implements kernel_mmap_update_from: apply an inbound push
// to the matching from-region, invoking OnUpdate only when the bytes
// actually differ from what's already mirrored locally.
func (e *Engine) UpdateFrom(sourceCore, name string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.froms {
		if r.SourceCore != sourceCore || r.Name != name {
			continue
		}
		if len(data) != len(r.Mem) {
			return kerrors.New(kerrors.SizeMismatch, "mmap region %q expected %d bytes, got %d", name, len(r.Mem), len(data))
		}
		r.SyncAlready = true
		if bytes.Equal(r.Mem, data) {
			return nil
		}
		copy(r.Mem, data)
		if r.OnUpdate != nil {
			r.OnUpdate(r.Mem)
		}
		return nil
	}
	return kerrors.New(kerrors.UnknownTarget, "no mmap region %q registered for source %q", name, sourceCore)
}

// HandleInboundPush dispatches a decoded "mmap" envelope (the
// from-JSON half of the kernel_msg_layer_unpack mmap block): regions
// addressed to localCore are applied via UpdateFrom; regions addressed
// elsewhere are forwarded unchanged via the router (multi-hop mmap
// relay).
func (e *Engine) HandleInboundPush(localCore string, push envelope.MmapPush, avoidTunnel tunnel.Tunnel) {
	for _, name := range push.MmapArray {
		entry, ok := push.Regions[name]
		if !ok {
			continue
		}
		data, err := envelope.DecodeRegionData(entry.MemData, entry.MemSize)
		if err != nil {
			e.logger.Error("mmap region decode failed", "region", name, "err", err)
			continue
		}
		if entry.DstCore == localCore {
			if err := e.UpdateFrom(entry.SrcCore, name, data); err != nil {
				e.logger.Error("mmap update from failed", "region", name, "err", err)
			}
			continue
		}
		fwd := envelope.MmapPush{
			MmapArray: []string{name},
			Regions: map[string]envelope.MmapRegionEntry{
				name: entry,
			},
		}
		if err := e.mcus.RouteOut(entry.DstCore, envelope.BuildMmapPush(fwd), avoidTunnel); err != nil {
			e.logger.Error("mmap forward failed", "region", name, "dst", entry.DstCore, "err", err)
		}
	}
}

// RequestSync implements kernel_mmap_request: ask the peer owning
// srcCore's data to push it to dstCore. When srcCore is the local core
// itself, this degenerates to an immediate push (handled by the caller
// via UpdateTo, mirroring the source's "src_core == my core" branch in
// the mmap_sync_req dispatch).
func (e *Engine) RequestSync(srcCore, dstCore string, avoidTunnel tunnel.Tunnel) error {
	req := envelope.MmapSyncReq{SrcCore: srcCore, DstCore: dstCore}
	return e.mcus.RouteOut(srcCore, envelope.BuildMmapSyncReq(req), avoidTunnel)
}

// HandleInboundSyncReq dispatches a decoded "mmap_sync_req" envelope: if
// we are the named source, push our to-regions for dstCore directly;
// otherwise forward the request on toward srcCore.
func (e *Engine) HandleInboundSyncReq(localCore string, req envelope.MmapSyncReq, avoidTunnel tunnel.Tunnel) error {
	if req.SrcCore == localCore {
		return e.UpdateTo(localCore, req.DstCore, false)
	}
	return e.RequestSync(req.SrcCore, req.DstCore, avoidTunnel)
}

// ArmUnsyncCheck starts (or restarts) the unsync retry timer with
// timeoutMs (spec.md §4.7; source: kernel_mmap_check_unsync_core's
// timeout_set > 0 branch, invoked from the topology-changed path with
// 300ms).
func (e *Engine) ArmUnsyncCheck(timeoutMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unsyncTimeoutMs = timeoutMs
	e.unsyncElapsedMs = 0
	e.unsyncArmed = true
}

// NextUnsyncDeadline reports the remaining time before the unsync timer
// fires, feeding idle_time() (spec.md §4.5 "the mmap unsync retry
// timeout if active").
func (e *Engine) NextUnsyncDeadline() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.unsyncArmed {
		return 0, false
	}
	remaining := e.unsyncTimeoutMs - e.unsyncElapsedMs
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining) * time.Millisecond, true
}

// Tick advances the unsync timer by elapsedMs and, once it fires, sends
// an mmap request for every from-region not yet sync_already whose
// owning peer hasn't already been asked this round (spec.md §4.7;
// source: kernel_cores_sync.c:361, "while(mcu) mcu->mmap_req_sent=false"
// clears every peer's flag at the start of each fire, so mmap_req_sent
// only dedups repeat requests within that one fire. A from-region still
// unsynced is requested again on the next topology change that re-arms
// this timer.
func (e *Engine) Tick(localCore string, elapsedMs int64) {
	e.mu.Lock()
	if !e.unsyncArmed {
		e.mu.Unlock()
		return
	}
	e.unsyncElapsedMs += elapsedMs
	if e.unsyncElapsedMs <= e.unsyncTimeoutMs {
		e.mu.Unlock()
		return
	}
	e.unsyncArmed = false
	froms := make([]*FromRegion, len(e.froms))
	copy(froms, e.froms)
	e.mu.Unlock()

	for _, p := range e.mcus.All() {
		p.MmapReqSent = false
	}

	requested := make(map[string]bool)
	for _, r := range froms {
		if r.SyncAlready {
			continue
		}
		peer, ok := e.mcus.Get(r.SourceCore)
		if !ok || requested[r.SourceCore] {
			continue
		}
		if peer.MmapReqSent {
			continue
		}
		if err := e.RequestSync(r.SourceCore, localCore, nil); err != nil {
			e.logger.Error("mmap sync request failed", "core", r.SourceCore, "err", err)
		} else {
			e.metrics.MmapRequestsSent.Add(1)
		}
		peer.MmapReqSent = true
		requested[r.SourceCore] = true
	}
}
