// Package mcu implements the peer node registry and router (spec.md §3
// "MCU (peer node) record", §4.6). Grounded on kernel_cores_sync.c's
// MCUs_t/kernel_create_mcu/kernel_router_raw, and stylistically on the
// teacher's mempool.mempoolIDs (mempool/reactor.go): a mutex-guarded map
// keyed by peer identity, with a dedicated lookup surface rather
// than exposing the map directly.
package mcu

import (
	kerrors "github.com/arcology-network/nodekernel/kernel/errors"
	"github.com/arcology-network/nodekernel/kernel/metrics"
	"github.com/arcology-network/nodekernel/kernel/tunnel"
	"github.com/arcology-network/nodekernel/libs/log"
	"github.com/arcology-network/nodekernel/libs/syncx"
)

// ExternalTask is one task a peer advertises (spec.md §3: "intrusive
// list of external tasks {name, cached}"). Cached entries come from a
// persisted backup and are invisible to outbound announcements until a
// live discovery message confirms them (spec.md §4.9).
type ExternalTask struct {
	Name   string
	Cached bool
}

// Peer is one MCU record (spec.md §3). For the local record, Tunnels
// holds every local outbound tunnel (multi-homed announcements); for a
// remote peer, Tunnel holds the single tunnel chosen by minimum hop
// count.
type Peer struct {
	CoreName string

	IsLocal bool
	Tunnel  tunnel.Tunnel   // remote peers: the chosen tunnel
	Tunnels []tunnel.Tunnel // local record only: all local tunnels

	HopCount          int
	SupportsJSONExtra bool
	MmapReqSent       bool
	TaskModified      bool

	Tasks []*ExternalTask
}

// HasTask reports whether name is in Tasks, and the entry if so.
func (p *Peer) HasTask(name string) (*ExternalTask, bool) {
	for _, t := range p.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// AnyCached reports whether any of Peer's tasks are still cached
// (spec.md §4.8: peers whose task list "still contains any cached entry"
// are omitted from outbound announcements).
func (p *Peer) AnyCached() bool {
	for _, t := range p.Tasks {
		if t.Cached {
			return true
		}
	}
	return false
}

// Registry is the MCU list (spec.md §3 "Global state"): at most one
// is_local record, and a transport mutex serializing tunnel writes
// (spec.md §4.6 "The call is serialized by a transport mutex").
type Registry struct {
	mu        syncx.RWMutex
	txMu      syncx.Mutex
	peers     map[string]*Peer
	local     *Peer
	logger    log.Logger
	metrics   *metrics.Metrics
	allBinary bool
}

func NewRegistry(logger log.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if m == nil {
		m = metrics.NopMetrics()
	}
	return &Registry{
		peers:     make(map[string]*Peer),
		logger:    logger,
		metrics:   m,
		allBinary: true,
	}
}

// SetLocal installs the unique is_local record (spec.md §3 invariant:
// "exactly zero or one record has is_local = true").
func (r *Registry) SetLocal(coreName string, tunnels []tunnel.Tunnel) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := &Peer{CoreName: coreName, IsLocal: true, Tunnels: tunnels}
	r.local = p
	r.peers[coreName] = p
	return p
}

func (r *Registry) Local() *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local
}

// Get looks up a peer by core_name (spec.md §4.6: "Peer lookup is by
// core_name string equality").
func (r *Registry) Get(coreName string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[coreName]
	return p, ok
}

// All returns every known peer, local record included.
func (r *Registry) All() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// CreateOrUpdate inserts a new peer record, or re-homes an existing one
// to a tunnel with a strictly smaller hop count (spec.md §4.8 "hop
// reduction"). Returns the peer and whether a topology change occurred.
func (r *Registry) CreateOrUpdate(coreName string, tun tunnel.Tunnel, hop int) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.peers[coreName]; ok {
		if hop < p.HopCount {
			p.Tunnel = tun
			p.HopCount = hop
			p.TaskModified = true
			return p, true
		}
		return p, false
	}

	p := &Peer{CoreName: coreName, Tunnel: tun, HopCount: hop}
	r.peers[coreName] = p
	p.TaskModified = true
	return p, true
}

// Rehome switches an existing peer to tun/hop when hop is strictly
// smaller than its current hop count (SPEC_FULL.md §10, named
// separately from CreateOrUpdate's insert path for testability: exactly
// the original kernel_change_mcu_tunnel call site). Returns false if
// coreName is unknown or hop does not improve on the current route.
func (r *Registry) Rehome(coreName string, tun tunnel.Tunnel, hop int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[coreName]
	if !ok || hop >= p.HopCount {
		return false
	}
	p.Tunnel = tun
	p.HopCount = hop
	p.TaskModified = true
	return true
}

// FindPeerForTask returns the peer whose external task list contains
// taskName (spec.md §4.6 "try_post_msg_outside").
func (r *Registry) FindPeerForTask(taskName string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers {
		if p.IsLocal {
			continue
		}
		if _, ok := p.HasTask(taskName); ok {
			return p, true
		}
	}
	return nil, false
}

// EnsureTask adds taskName to coreName's external task list if absent,
// or clears an existing entry's Cached flag when a live (non-cached)
// sighting comes in (spec.md §4.8; source: kernel_add_task_to_mcu plus
// the "mark as non-cached" comment in the discovery loop). Returns
// whether it actually changed anything: false if coreName is unknown,
// or if taskName was already present with the same Cached state, so a
// repeat announcement of unchanged state doesn't look like a change.
func (r *Registry) EnsureTask(coreName, taskName string, cached bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[coreName]
	if !ok {
		return false
	}
	if t, found := p.HasTask(taskName); found {
		if !cached && t.Cached {
			t.Cached = false
			return true
		}
		return false
	}
	p.Tasks = append(p.Tasks, &ExternalTask{Name: taskName, Cached: cached})
	p.TaskModified = true
	return true
}

// ClearCachedTasks drops every still-cached task entry for coreName
// (spec.md §4.9; source: kernel_clear_cache_task_on_mcu, "only call
// when recv core update" — a cached entry surviving a full discovery
// pass over that peer's advertised tasks means it no longer exists).
func (r *Registry) ClearCachedTasks(coreName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[coreName]
	if !ok {
		return false
	}
	kept := p.Tasks[:0]
	removed := false
	for _, t := range p.Tasks {
		if t.Cached {
			removed = true
			continue
		}
		kept = append(kept, t)
	}
	p.Tasks = kept
	if removed {
		p.TaskModified = true
	}
	return removed
}

// SetSupportsJSONExtra records a peer's advertised binary-extra support
// (spec.md §6 "SupportJsonExtra").
func (r *Registry) SetSupportsJSONExtra(coreName string, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[coreName]; ok {
		p.SupportsJSONExtra = v
	}
}

// ClearTaskModified resets a peer's dirty flag once its task list has
// been included in a backup (spec.md §9 resolves the source's
// unaddressed "what clears task_modified" question: a successful
// backup is the only consumer of the flag, so it is the one that
// clears it — see DESIGN.md).
func (r *Registry) ClearTaskModified(coreName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[coreName]; ok {
		p.TaskModified = false
	}
}

// ReportPeersKnown publishes the current non-local peer count to the
// PeersKnown gauge (spec.md §4.8 observability).
func (r *Registry) ReportPeersKnown() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.peers {
		if !p.IsLocal {
			n++
		}
	}
	r.metrics.PeersKnown.Set(float64(n))
}

// RecomputeAllBinary recomputes all_peers_support_binary_extra as the
// AND of every non-local peer's SupportsJSONExtra flag (spec.md §4.8).
func (r *Registry) RecomputeAllBinary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := true
	for _, p := range r.peers {
		if p.IsLocal {
			continue
		}
		if !p.SupportsJSONExtra {
			all = false
			break
		}
	}
	r.allBinary = all
	return all
}

func (r *Registry) AllPeersSupportBinaryExtra() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allBinary
}

// RouteOut implements spec.md §4.6 "Route-out": router_raw(dst_core,
// bytes, avoid_tunnel).
func (r *Registry) RouteOut(dstCore string, data []byte, avoidTunnel tunnel.Tunnel) error {
	peer, ok := r.Get(dstCore)
	if !ok || peer.IsLocal {
		return kerrors.New(kerrors.UnknownTarget, "no route to core %q", dstCore)
	}
	if avoidTunnel != nil && peer.Tunnel == avoidTunnel {
		r.metrics.RouterDrops.Add(1)
		return nil // loop avoidance after forwarding an inbound frame
	}
	if peer.Tunnel == nil {
		return kerrors.New(kerrors.UnknownTarget, "core %q has no tunnel", dstCore)
	}
	if peer.Tunnel.Passive() && !peer.Tunnel.Enabled() {
		r.metrics.RouterDrops.Add(1)
		return nil // drops silently
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()
	n, err := peer.Tunnel.Send(data)
	if err != nil {
		return kerrors.Wrap(err, kerrors.TunnelDisabled, "send to core %q failed", dstCore)
	}
	r.metrics.RouterBytesSent.Add(float64(n))
	return nil
}
