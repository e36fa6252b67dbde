// Package tunnel defines the transport collaborator the kernel treats as
// opaque (spec.md §1: "Tunnel transport implementation... The core sees
// each tunnel as an opaque send(bytes) -> sent_len sink plus two flags:
// passive and enabled"). Naming follows other_examples's
// ibmendoza-iris-go/tunnel.go (Tunnel type, Send method, retry
// bookkeeping) adapted to a synchronous, single-threaded sink rather
// than that example's channel-and-goroutine streaming tunnel.
package tunnel

import "time"

// Tunnel is the out-of-scope transport sink (spec.md §1, §4.6).
type Tunnel interface {
	// Send writes bytes to the peer and reports how many were
	// accepted, matching the source's send(bytes) -> sent_len shape.
	Send(data []byte) (int, error)
	// Passive tunnels only carry traffic when Enabled reports true
	// (spec.md §4.6 router-out: "If the tunnel is passive and not
	// enabled, drops silently").
	Passive() bool
	Enabled() bool
	// NextRetry reports the minimum time until the next retryable send
	// should be attempted, feeding idle_time() (spec.md §4.5). The bool
	// is false when nothing is pending.
	NextRetry() (time.Duration, bool)
}

// LoopbackTunnel delivers bytes synchronously to an in-process handler,
// useful for wiring two simulated nodes together in tests without a
// real serial/bus driver.
type LoopbackTunnel struct {
	handler       func([]byte)
	passive       bool
	enabled       bool
	pendingRetry  time.Duration
	hasRetry      bool
}

// NewLoopbackTunnel builds a tunnel that calls handler synchronously on
// every Send. handler is normally the peer node's inbound envelope
// dispatcher (kernel.Node.HandleInbound).
func NewLoopbackTunnel(handler func([]byte)) *LoopbackTunnel {
	return &LoopbackTunnel{handler: handler, enabled: true}
}

func (t *LoopbackTunnel) Send(data []byte) (int, error) {
	if t.passive && !t.enabled {
		return 0, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	t.handler(cp)
	return len(data), nil
}

func (t *LoopbackTunnel) Passive() bool { return t.passive }
func (t *LoopbackTunnel) Enabled() bool { return t.enabled }

func (t *LoopbackTunnel) SetPassive(p bool)  { t.passive = p }
func (t *LoopbackTunnel) SetEnabled(e bool)  { t.enabled = e }

func (t *LoopbackTunnel) NextRetry() (time.Duration, bool) {
	return t.pendingRetry, t.hasRetry
}

func (t *LoopbackTunnel) ArmRetry(d time.Duration) {
	t.pendingRetry = d
	t.hasRetry = true
}

func (t *LoopbackTunnel) ClearRetry() {
	t.hasRetry = false
}
