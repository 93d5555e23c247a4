// Package pool coordinates a set of relay.Conn connections as a single
// fan-out unit: add/remove relays by capability, publish and subscribe
// across all of them at once, and reconcile via negentropy, without
// callers ever touching an individual relay.Conn directly.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb"
	"github.com/nostrcore/relaypool/relay"
)

// Pool holds every relay connection the application has added, keyed by
// normalized URL, plus the state every Conn shares (signer, store,
// admission policy, verified-id cache) and the subscription registry
// newly-added relays inherit from. Relays never hold a reference back
// to the Pool, so the relay<->pool graph stays acyclic.
type Pool struct {
	mu     sync.RWMutex
	relays map[relay.URL]*relay.Conn
	optsOf map[relay.URL]relay.Options

	shared *relay.Shared
	hub    *hub
	subs   *subRegistry

	monitor *Monitor

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New builds an empty Pool. admission may be nil to admit everything;
// verifiedTTL controls how long an event id's signature-verified state
// is cached across relays before re-verification (0 uses relay's
// default).
func New(signer nostr.Signer, store nostrdb.Store, admission relay.AdmissionPolicy, verifiedTTL time.Duration) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHub()
	p := &Pool{
		relays: make(map[relay.URL]*relay.Conn),
		optsOf: make(map[relay.URL]relay.Options),
		hub:    h,
		subs:   newSubRegistry(),
		ctx:    ctx,
		cancel: cancel,
	}
	p.shared = &relay.Shared{
		Signer:             signer,
		Store:              store,
		Admission:          admission,
		VerifiedIDs:        relay.NewVerifiedIDCache(verifiedTTL),
		Notify:             h.publish,
		SubscriptionVerify: true,
	}
	p.monitor = newMonitor(p)
	return p
}

// AddRelay normalizes url and inserts a new connection if absent, or
// merges capabilities into the existing one if present. Connection is
// not implied — call Connect/TryConnect afterward.
func (p *Pool) AddRelay(raw string, opts relay.Options) (relay.URL, error) {
	url, err := relay.Normalize(raw)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.optsOf[url]; ok {
		existing.Capabilities |= opts.Capabilities
		p.optsOf[url] = existing
		return url, nil
	}

	conn := relay.NewConn(url, opts, p.shared)
	p.relays[url] = conn
	p.optsOf[url] = opts
	p.subs.replayOnto(conn)
	return url, nil
}

// RemoveRelay implements the GOSSIP special case: a relay carrying the
// GOSSIP capability is never fully removed (the overlay may still be
// relying on it for discovery bookkeeping), only stripped of
// READ/WRITE/DISCOVERY. Everything else is disconnected and removed.
func (p *Pool) RemoveRelay(url relay.URL) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, ok := p.relays[url]
	if !ok {
		return newErr(ErrKindRelayNotFound, "%s", url)
	}

	opts := p.optsOf[url]
	if opts.Capabilities.Has(relay.Gossip) {
		opts.Capabilities &^= relay.Read | relay.Write | relay.Discovery
		p.optsOf[url] = opts
		return nil
	}

	conn.Shutdown()
	delete(p.relays, url)
	delete(p.optsOf, url)
	return nil
}

// ForceRemoveRelay disconnects and removes url regardless of capability.
func (p *Pool) ForceRemoveRelay(url relay.URL) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, ok := p.relays[url]
	if !ok {
		return newErr(ErrKindRelayNotFound, "%s", url)
	}
	conn.Shutdown()
	delete(p.relays, url)
	delete(p.optsOf, url)
	return nil
}

// RemoveAllRelays applies RemoveRelay's GOSSIP special case to every
// relay currently in the pool.
func (p *Pool) RemoveAllRelays() {
	for _, url := range p.urls() {
		_ = p.RemoveRelay(url)
	}
}

// ForceRemoveAllRelays disconnects and removes every relay unconditionally.
func (p *Pool) ForceRemoveAllRelays() {
	for _, url := range p.urls() {
		_ = p.ForceRemoveRelay(url)
	}
}

// Connect starts the reconnect loop for every relay currently in the pool.
func (p *Pool) Connect() {
	for _, conn := range p.conns() {
		conn.Connect(p.ctx)
	}
}

// TryConnect starts every relay's connect loop, then waits up to
// timeout for at least one to reach Connected.
func (p *Pool) TryConnect(timeout time.Duration) bool {
	p.Connect()
	return p.WaitForConnection(timeout)
}

// WaitForConnection blocks until at least one relay reaches Connected
// or timeout elapses.
func (p *Pool) WaitForConnection(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, conn := range p.conns() {
			if conn.State() == relay.Connected {
				return true
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
}

// Disconnect shuts down every relay connection without removing them
// from the registry.
func (p *Pool) Disconnect() {
	for _, conn := range p.conns() {
		conn.Disconnect()
	}
}

// Shutdown tears the pool down permanently: every relay is shut down,
// the notification bus is closed after a final Shutdown notification,
// and the verified-id cache sweep goroutine is stopped.
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() {
		p.cancel()
		for _, conn := range p.conns() {
			conn.Shutdown()
		}
		p.hub.broadcast(Notification{Kind: relay.NotifyStatusChange, State: relay.Shutdown})
		p.hub.shutdown()
		p.shared.VerifiedIDs.Close()
	})
}

// Notifications registers a listener on the pool-wide notification bus,
// distinct from Subscribe which opens a REQ against one or more relays.
func (p *Pool) Notifications(buffer int) (chan Notification, func()) {
	return p.hub.Subscribe(buffer)
}

// Monitor returns the pool's passive health/stats aggregator.
func (p *Pool) Monitor() *Monitor { return p.monitor }

// CapabilitiesOf reports the capability mask a relay is currently
// registered under, for callers (e.g. gossip.Overlay) that need to
// confirm how a relay was admitted.
func (p *Pool) CapabilitiesOf(url relay.URL) (relay.Capability, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	opts, ok := p.optsOf[url]
	if !ok {
		return 0, false
	}
	return opts.Capabilities, true
}

func (p *Pool) urls() []relay.URL {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]relay.URL, 0, len(p.relays))
	for u := range p.relays {
		out = append(out, u)
	}
	return out
}

func (p *Pool) conns() []*relay.Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*relay.Conn, 0, len(p.relays))
	for _, c := range p.relays {
		out = append(out, c)
	}
	return out
}

// connsWith returns every connection whose capabilities satisfy cap.
func (p *Pool) connsWith(cap relay.Capability) []*relay.Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*relay.Conn, 0, len(p.relays))
	for u, c := range p.relays {
		if p.optsOf[u].Capabilities.Has(cap) {
			out = append(out, c)
		}
	}
	return out
}

func (p *Pool) connsFor(urls []relay.URL) ([]*relay.Conn, []relay.URL) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*relay.Conn, 0, len(urls))
	var missing []relay.URL
	for _, u := range urls {
		if c, ok := p.relays[u]; ok {
			out = append(out, c)
		} else {
			missing = append(missing, u)
		}
	}
	return out, missing
}
