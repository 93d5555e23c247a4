package pool

import (
	"context"
	"sort"

	"github.com/nostrcore/relaypool/negentropy"
	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb"
	"github.com/nostrcore/relaypool/relay"
)

// itemSource is implemented by store backends (nostrdb/memory.Store)
// that can build a negentropy.Item list directly; backends without it
// fall back to localItems, which derives the same ascending
// (created_at, id) ordering from an ordinary Query.
type itemSource interface {
	NegentropyItems(ctx context.Context, f *nostr.Filter) ([]negentropy.Item, error)
}

func localItems(ctx context.Context, store nostrdb.Store, f *nostr.Filter) ([]negentropy.Item, error) {
	if src, ok := store.(itemSource); ok {
		return src.NegentropyItems(ctx, f)
	}
	events, err := store.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	items := make([]negentropy.Item, len(events))
	for i, e := range events {
		items[i] = negentropy.Item{ID: e.ID, Timestamp: e.CreatedAt.Unix()}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Timestamp != items[j].Timestamp {
			return items[i].Timestamp < items[j].Timestamp
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	return items, nil
}

// Sync reconciles filter against every relay with the DISCOVERY
// capability (negentropy is a bulk-catchup operation, not an ordinary
// read), returning the per-relay negentropy.Result.
func (p *Pool) Sync(ctx context.Context, filter *nostr.Filter) (*Output[map[relay.URL]*negentropy.Result], error) {
	return p.syncConns(ctx, filter, p.connsWith(relay.Discovery))
}

// SyncWith reconciles filter against exactly the named relays.
func (p *Pool) SyncWith(ctx context.Context, urls []relay.URL, filter *nostr.Filter) (*Output[map[relay.URL]*negentropy.Result], error) {
	if len(urls) == 0 {
		return nil, newErr(ErrKindNoRelaysSpecified, "")
	}
	conns, missing := p.connsFor(urls)
	out, err := p.syncConns(ctx, filter, conns)
	if out != nil {
		for _, u := range missing {
			out.fail(u, newErr(ErrKindRelayNotFound, "%s", u))
		}
	}
	return out, err
}

// SyncTargeted reconciles a distinct filter per relay, used after
// gossip.BreakDown routes per-pubkey filter subsets to discovery relays.
func (p *Pool) SyncTargeted(ctx context.Context, byURL map[relay.URL]nostr.Filter) (*Output[map[relay.URL]*negentropy.Result], error) {
	if len(byURL) == 0 {
		return nil, newErr(ErrKindGossipFiltersEmpty, "")
	}
	results := make(map[relay.URL]*negentropy.Result)
	out := newOutput(results)
	for url, f := range byURL {
		conns, missing := p.connsFor([]relay.URL{url})
		if len(missing) > 0 {
			out.fail(url, newErr(ErrKindRelayNotFound, "%s", url))
			continue
		}
		items, err := localItems(ctx, p.shared.Store, &f)
		if err != nil {
			out.fail(url, err)
			continue
		}
		res, err := negentropy.NewReconciler(conns[0], p.shared.Store).Sync(ctx, nextSubID(), &f, items)
		if err != nil {
			out.fail(url, newErr(ErrKindNegentropyReconciliationFailed, "%s: %v", url, err))
			continue
		}
		results[url] = res
		out.ok(url)
	}
	return out, nil
}

func (p *Pool) syncConns(ctx context.Context, filter *nostr.Filter, conns []*relay.Conn) (*Output[map[relay.URL]*negentropy.Result], error) {
	if len(conns) == 0 {
		return nil, newErr(ErrKindNoRelays, "no DISCOVERY-capable relays")
	}
	items, err := localItems(ctx, p.shared.Store, filter)
	if err != nil {
		return nil, err
	}

	results := make(map[relay.URL]*negentropy.Result)
	out := newOutput(results)
	for _, c := range conns {
		res, err := negentropy.NewReconciler(c, p.shared.Store).Sync(ctx, nextSubID(), filter, items)
		if err != nil {
			out.fail(c.URL(), newErr(ErrKindNegentropyReconciliationFailed, "%s: %v", c.URL(), err))
			continue
		}
		results[c.URL()] = res
		out.ok(c.URL())
	}
	return out, nil
}
