package gossip

import (
	"context"

	"github.com/nostrcore/relaypool/negentropy"
	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/relay"
)

// Fetch ensures filter.Authors are up to date, routes the filter to
// each author's outbox relays, and merges the per-relay results.
func (o *Overlay) Fetch(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	if len(filter.Authors) == 0 {
		return nil, errNoAuthors
	}
	o.Ensure(ctx, filter.Authors)
	byURL := o.BreakDown(filter, filter.Authors, false)
	out, err := o.pool.FetchEventsTargeted(ctx, byURL)
	if err != nil {
		return nil, err
	}
	return out.Val, nil
}

// PublishTo ensures pubkeys are up to date and routes e to each
// pubkey's inbox relays (e.g. a DM or a mention reply), returning the
// per-relay send outcome.
func (o *Overlay) PublishTo(ctx context.Context, e *nostr.Event, pubkeys []nostr.PubKey) (map[relay.URL]error, error) {
	if len(pubkeys) == 0 {
		return nil, errNoAuthors
	}
	o.Ensure(ctx, pubkeys)
	byURL := o.BreakDown(nostr.Filter{}, pubkeys, true)

	failed := make(map[relay.URL]error)
	for url := range byURL {
		out, err := o.pool.SendMsgTo(ctx, []relay.URL{url}, e)
		if err != nil {
			failed[url] = err
			continue
		}
		for u, sendErr := range out.Failed {
			failed[u] = sendErr
		}
	}
	return failed, nil
}

// Sync ensures filter.Authors are up to date and reconciles filter
// against each author's outbox relays via negentropy.
func (o *Overlay) Sync(ctx context.Context, filter nostr.Filter) (map[relay.URL]*negentropy.Result, error) {
	if len(filter.Authors) == 0 {
		return nil, errNoAuthors
	}
	o.Ensure(ctx, filter.Authors)
	byURL := o.BreakDown(filter, filter.Authors, false)
	out, err := o.pool.SyncTargeted(ctx, byURL)
	if err != nil {
		return nil, err
	}
	return out.Val, nil
}

type overlayError string

func (e overlayError) Error() string { return string(e) }

const errNoAuthors = overlayError("gossip: filter has no authors to route by")
