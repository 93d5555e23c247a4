package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/relay"
)

// subRegistry remembers every non-auto-closing subscription the pool
// has opened, keyed by id, so a relay added after the fact can be
// caught up by replaying them.
type subRegistry struct {
	mu   sync.RWMutex
	byID map[string][]nostr.Filter
}

func newSubRegistry() *subRegistry {
	return &subRegistry{byID: make(map[string][]nostr.Filter)}
}

func (r *subRegistry) save(id string, filters []nostr.Filter) {
	r.mu.Lock()
	r.byID[id] = filters
	r.mu.Unlock()
}

func (r *subRegistry) forget(id string) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

func (r *subRegistry) forgetAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.byID = make(map[string][]nostr.Filter)
	return ids
}

func (r *subRegistry) replayOnto(conn *relay.Conn) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, filters := range r.byID {
		_, _ = conn.Subscribe(context.Background(), id, filters, nil)
	}
}

var subIDCounter atomic.Int64

func nextSubID() string {
	return fmt.Sprintf("pool-%d", subIDCounter.Add(1))
}

// Subscribe opens filters against every relay with the READ capability,
// registering the subscription so relays added later inherit it.
func (p *Pool) Subscribe(ctx context.Context, filters []nostr.Filter, auto *relay.ExitPolicy) (*Output[string], error) {
	return p.SubscribeWithID(ctx, nextSubID(), filters, auto)
}

// SubscribeWithID is Subscribe with a caller-chosen subscription id.
func (p *Pool) SubscribeWithID(ctx context.Context, id string, filters []nostr.Filter, auto *relay.ExitPolicy) (*Output[string], error) {
	conns := p.connsWith(relay.Read)
	if len(conns) == 0 {
		return nil, newErr(ErrKindNoRelays, "no READ-capable relays")
	}
	if auto == nil {
		p.subs.save(id, filters)
	}
	out := newOutput(id)
	for _, c := range conns {
		if _, err := c.Subscribe(ctx, id, filters, auto); err != nil {
			out.fail(c.URL(), err)
			continue
		}
		out.ok(c.URL())
	}
	return out, nil
}

// SubscribeTo opens filters against exactly the named relays regardless
// of their pool capability; a relay whose own options disable reading
// still refuses and is reported under Failed.
func (p *Pool) SubscribeTo(ctx context.Context, urls []relay.URL, filters []nostr.Filter, auto *relay.ExitPolicy) (*Output[string], error) {
	if len(urls) == 0 {
		return nil, newErr(ErrKindNoRelaysSpecified, "")
	}
	conns, missing := p.connsFor(urls)
	id := nextSubID()
	if auto == nil {
		p.subs.save(id, filters)
	}
	out := newOutput(id)
	for _, u := range missing {
		out.fail(u, newErr(ErrKindRelayNotFound, "%s", u))
	}
	for _, c := range conns {
		if _, err := c.Subscribe(ctx, id, filters, auto); err != nil {
			out.fail(c.URL(), err)
			continue
		}
		out.ok(c.URL())
	}
	return out, nil
}

// SubscribeTargeted opens a distinct filter per relay under one
// subscription id, used after gossip.BreakDown routes an
// authors-filter's subset to each pubkey's outbox/inbox relays.
func (p *Pool) SubscribeTargeted(ctx context.Context, id string, byURL map[relay.URL]nostr.Filter, auto *relay.ExitPolicy) (*Output[string], error) {
	if len(byURL) == 0 {
		return nil, newErr(ErrKindNoRelaysSpecified, "")
	}
	out := newOutput(id)
	for url, f := range byURL {
		conns, missing := p.connsFor([]relay.URL{url})
		if len(missing) > 0 {
			out.fail(url, newErr(ErrKindRelayNotFound, "%s", url))
			continue
		}
		if _, err := conns[0].Subscribe(ctx, id, []nostr.Filter{f}, auto); err != nil {
			out.fail(url, err)
			continue
		}
		out.ok(url)
	}
	return out, nil
}

// Unsubscribe closes id on every relay currently holding it and drops
// it from the pool's replay registry.
func (p *Pool) Unsubscribe(id string) *Output[struct{}] {
	p.subs.forget(id)
	out := newOutput(struct{}{})
	for _, c := range p.conns() {
		if err := c.Unsubscribe(id); err != nil {
			out.fail(c.URL(), err)
			continue
		}
		out.ok(c.URL())
	}
	return out
}

// UnsubscribeAll closes every registered subscription across every relay.
func (p *Pool) UnsubscribeAll() {
	for _, id := range p.subs.forgetAll() {
		for _, c := range p.conns() {
			_ = c.Unsubscribe(id)
		}
	}
}
