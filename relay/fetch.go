package relay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nostrcore/relaypool/nostr"
)

var fetchCounter atomic.Int64

func nextFetchSubID(prefix string) string {
	n := fetchCounter.Add(1)
	return fmt.Sprintf("%s-%d", prefix, n)
}

// Fetch opens a subscription for f, collects every event up to EOSE (or
// ctx cancellation), unsubscribes, and returns what it gathered. It is
// the synchronous building block pool.FetchEvents and
// negentropy.Reconciler's id-list downloads are built on.
func (c *Conn) Fetch(ctx context.Context, f nostr.Filter) ([]nostr.Event, error) {
	subID := nextFetchSubID("fetch")
	collect := make(chan nostr.Event, 64)

	sub, err := c.Subscribe(ctx, subID, []nostr.Filter{f}, &ExitPolicy{Kind: ExitOnEOSE})
	if err != nil {
		return nil, err
	}
	sub.attachCollector(collect)
	defer c.Unsubscribe(subID)

	var out []nostr.Event
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case e := <-collect:
			out = append(out, e)
		case <-ticker.C:
			if sub.EOSED() && len(collect) == 0 {
				return out, nil
			}
		case <-ctx.Done():
			return out, ctx.Err()
		case <-c.terminate:
			return out, newErr(c.url, ErrKindNotConnected, "connection terminated")
		}
	}
}

// FetchByIDs downloads the events for ids in chunks no larger than
// opts.MaxFilterIDs, used by negentropy reconciliation to pull down the
// ids the peer reported it has and we don't.
func (c *Conn) FetchByIDs(ctx context.Context, ids []nostr.ID) ([]nostr.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	chunkSize := nonZero2(c.opts.MaxFilterIDs, DefaultMaxFilterIDs)

	var out []nostr.Event
	for i := 0; i < len(ids); i += chunkSize {
		end := i + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		got, err := c.Fetch(ctx, nostr.Filter{IDs: ids[i:end]})
		if err != nil {
			return out, err
		}
		out = append(out, got...)
	}
	return out, nil
}
