package pool

import (
	"context"
	"sync"
	"time"

	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/relay"
)

// FetchEvents queries filter against every READ-capable relay and
// returns the deduplicated union of what came back by EOSE (or ctx
// cancellation).
func (p *Pool) FetchEvents(ctx context.Context, filter nostr.Filter) (*Output[[]nostr.Event], error) {
	return p.fetchConns(ctx, filter, p.connsWith(relay.Read))
}

// FetchEventsFrom queries filter against exactly the named relays.
func (p *Pool) FetchEventsFrom(ctx context.Context, urls []relay.URL, filter nostr.Filter) (*Output[[]nostr.Event], error) {
	if len(urls) == 0 {
		return nil, newErr(ErrKindNoRelaysSpecified, "")
	}
	conns, missing := p.connsFor(urls)
	out, err := p.fetchConns(ctx, filter, conns)
	if out != nil {
		for _, u := range missing {
			out.fail(u, newErr(ErrKindRelayNotFound, "%s", u))
		}
	}
	return out, err
}

// FetchEventsTargeted queries a distinct filter per relay, used after
// gossip.BreakDown routes authors to their outbox relays.
func (p *Pool) FetchEventsTargeted(ctx context.Context, byURL map[relay.URL]nostr.Filter) (*Output[[]nostr.Event], error) {
	if len(byURL) == 0 {
		return nil, newErr(ErrKindGossipFiltersEmpty, "")
	}
	var (
		mu      sync.Mutex
		dedup   = make(map[nostr.ID]struct{})
		merged  []nostr.Event
		out     = newOutput[[]nostr.Event](nil)
		wg      sync.WaitGroup
	)
	for url, f := range byURL {
		conns, missing := p.connsFor([]relay.URL{url})
		if len(missing) > 0 {
			out.fail(url, newErr(ErrKindRelayNotFound, "%s", url))
			continue
		}
		wg.Add(1)
		go func(url relay.URL, c *relay.Conn, f nostr.Filter) {
			defer wg.Done()
			events, err := c.Fetch(ctx, f)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.fail(url, err)
				return
			}
			for _, e := range events {
				if _, seen := dedup[e.ID]; !seen {
					dedup[e.ID] = struct{}{}
					merged = append(merged, e)
				}
			}
			out.ok(url)
		}(url, conns[0], f)
	}
	wg.Wait()
	out.Val = merged
	return out, nil
}

func (p *Pool) fetchConns(ctx context.Context, filter nostr.Filter, conns []*relay.Conn) (*Output[[]nostr.Event], error) {
	if len(conns) == 0 {
		return nil, newErr(ErrKindNoRelays, "no READ-capable relays")
	}
	var (
		mu     sync.Mutex
		dedup  = make(map[nostr.ID]struct{})
		merged []nostr.Event
		wg     sync.WaitGroup
	)
	out := newOutput[[]nostr.Event](nil)
	for _, c := range conns {
		wg.Add(1)
		go func(c *relay.Conn) {
			defer wg.Done()
			events, err := c.Fetch(ctx, filter)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.fail(c.URL(), err)
				return
			}
			for _, e := range events {
				if _, seen := dedup[e.ID]; !seen {
					dedup[e.ID] = struct{}{}
					merged = append(merged, e)
				}
			}
			out.ok(c.URL())
		}(c)
	}
	wg.Wait()
	out.Val = merged
	return out, nil
}

// StreamEvents opens a subscription with the given exit policy against
// every READ-capable relay and delivers deduplicated events on the
// returned channel, which is closed once every relay's subscription has
// exited.
func (p *Pool) StreamEvents(ctx context.Context, filter nostr.Filter, policy *relay.ExitPolicy) (<-chan nostr.Event, error) {
	return p.streamConns(ctx, filter, policy, p.connsWith(relay.Read))
}

// StreamEventsFrom streams filter from exactly the named relays.
func (p *Pool) StreamEventsFrom(ctx context.Context, urls []relay.URL, filter nostr.Filter, policy *relay.ExitPolicy) (<-chan nostr.Event, error) {
	if len(urls) == 0 {
		return nil, newErr(ErrKindNoRelaysSpecified, "")
	}
	conns, _ := p.connsFor(urls)
	return p.streamConns(ctx, filter, policy, conns)
}

func (p *Pool) streamConns(ctx context.Context, filter nostr.Filter, policy *relay.ExitPolicy, conns []*relay.Conn) (<-chan nostr.Event, error) {
	if len(conns) == 0 {
		return nil, newErr(ErrKindNoRelays, "no READ-capable relays")
	}
	out := make(chan nostr.Event, 64)

	var (
		mu    sync.Mutex
		dedup = make(map[nostr.ID]struct{})
		wg    sync.WaitGroup
	)
	id := nextSubID()
	for _, c := range conns {
		collect := make(chan nostr.Event, 64)
		sub, err := c.Subscribe(ctx, id, []nostr.Filter{filter}, policy)
		if err != nil {
			continue
		}
		sub.AttachCollector(collect)
		wg.Add(1)
		go func(c *relay.Conn, sub *relay.Subscription) {
			defer wg.Done()
			defer c.Unsubscribe(id)
			ticker := time.NewTicker(20 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case e := <-collect:
					mu.Lock()
					_, seen := dedup[e.ID]
					if !seen {
						dedup[e.ID] = struct{}{}
					}
					mu.Unlock()
					if !seen {
						select {
						case out <- e:
						case <-ctx.Done():
							return
						}
					}
				case <-ticker.C:
					if policy != nil && sub.ShouldExit() && len(collect) == 0 {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(c, sub)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}
