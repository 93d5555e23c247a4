package pool

import (
	"context"

	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/relay"
)

// SendEvent persists e locally, then fans it out to every relay with
// the WRITE capability.
func (p *Pool) SendEvent(ctx context.Context, e *nostr.Event) (*Output[struct{}], error) {
	if _, err := p.shared.Store.Save(ctx, e); err != nil {
		return nil, err
	}
	conns := p.connsWith(relay.Write)
	if len(conns) == 0 {
		return nil, newErr(ErrKindNoRelays, "no WRITE-capable relays")
	}
	out := newOutput(struct{}{})
	for _, c := range conns {
		if err := c.Publish(ctx, e); err != nil {
			out.fail(c.URL(), err)
			continue
		}
		out.ok(c.URL())
	}
	return out, nil
}

// SendMsgTo publishes e to exactly the named relays, after first
// persisting it to the local store.
func (p *Pool) SendMsgTo(ctx context.Context, urls []relay.URL, e *nostr.Event) (*Output[struct{}], error) {
	if len(urls) == 0 {
		return nil, newErr(ErrKindNoRelaysSpecified, "")
	}
	if len(p.urls()) == 0 {
		return nil, newErr(ErrKindNoRelays, "")
	}
	if _, err := p.shared.Store.Save(ctx, e); err != nil {
		return nil, err
	}

	conns, missing := p.connsFor(urls)
	out := newOutput(struct{}{})
	for _, u := range missing {
		out.fail(u, newErr(ErrKindRelayNotFound, "%s", u))
	}
	for _, c := range conns {
		if err := c.Publish(ctx, e); err != nil {
			out.fail(c.URL(), err)
			continue
		}
		out.ok(c.URL())
	}
	return out, nil
}

// BatchMsgTo publishes every event in msgs to exactly the named relays,
// persisting each one locally first.
func (p *Pool) BatchMsgTo(ctx context.Context, urls []relay.URL, msgs []*nostr.Event) (*Output[struct{}], error) {
	if len(urls) == 0 {
		return nil, newErr(ErrKindNoRelaysSpecified, "")
	}
	if len(p.urls()) == 0 {
		return nil, newErr(ErrKindNoRelays, "")
	}
	for _, e := range msgs {
		if _, err := p.shared.Store.Save(ctx, e); err != nil {
			return nil, err
		}
	}

	conns, missing := p.connsFor(urls)
	out := newOutput(struct{}{})
	for _, u := range missing {
		out.fail(u, newErr(ErrKindRelayNotFound, "%s", u))
	}
	for _, c := range conns {
		var firstErr error
		for _, e := range msgs {
			if err := c.Publish(ctx, e); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if firstErr != nil {
			out.fail(c.URL(), firstErr)
			continue
		}
		out.ok(c.URL())
	}
	return out, nil
}
