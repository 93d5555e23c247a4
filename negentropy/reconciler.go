package negentropy

import (
	"context"
	"fmt"

	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb"
	"github.com/nostrcore/relaypool/relay"
)

// Result reports the four id sets a reconciliation round
// produces, plus any upload that didn't make it to the peer. Have and
// Need are negentropy's output: what differs. Sent and Received are
// what reconciliation actually managed to move, which can be a strict
// subset of Have/Need when a publish fails or a fetched id turns out
// rejected (e.g. already deleted).
type Result struct {
	Have     []nostr.ID         // local-only ids; we offered to upload them
	Need     []nostr.ID         // remote-only ids; we asked the peer for them
	Sent     []nostr.ID         // ids from Have successfully published to the peer
	Received []nostr.ID         // ids from Need successfully fetched and saved locally
	Failed   map[nostr.ID]error // ids from Have whose publish attempt failed
}

// Reconciler drives a Session against one relay connection: it opens a
// NEG-OPEN exchange, loops on NEG-MSG until both sides agree, then
// downloads the ids it was missing and uploads the ids the peer was
// missing, using the relay's ordinary Fetch/Publish operations for the
// actual event transfer.
type Reconciler struct {
	conn  *relay.Conn
	store nostrdb.Store
}

// NewReconciler builds a Reconciler bound to one relay connection and
// the local store that both supplies upload candidates and receives
// downloaded events.
func NewReconciler(conn *relay.Conn, store nostrdb.Store) *Reconciler {
	return &Reconciler{conn: conn, store: store}
}

// Sync reconciles items (the local view of what matches filter) against
// the peer, then exchanges the deltas. subID must be unique among the
// connection's live subscriptions/negentropy sessions.
func (r *Reconciler) Sync(ctx context.Context, subID string, filter *nostr.Filter, items []Item) (*Result, error) {
	storage := NewStorage(items)
	fallback := NewLegacyFallback(storage, DefaultFrameSizeLimit)

	initMsg, err := fallback.Initiate()
	if err != nil {
		return nil, fmt.Errorf("negentropy: initiate: %w", err)
	}

	replies := make(chan relay.Inbound, 16)
	if err := r.conn.OpenNegentropy(subID, filter, HexEncode(initMsg), func(in relay.Inbound) {
		select {
		case replies <- in:
		default:
		}
	}); err != nil {
		return nil, err
	}
	defer r.conn.CloseNegentropy(subID)

	for !fallback.Done() {
		select {
		case in := <-replies:
			if in.Kind == relay.InNegErr {
				return nil, fmt.Errorf("negentropy: relay reported: %s", in.Message)
			}
			raw, err := HexDecode(in.Hex)
			if err != nil {
				return nil, fmt.Errorf("negentropy: decode reply: %w", err)
			}
			out, err := fallback.Reconcile(raw)
			if err != nil {
				return nil, fmt.Errorf("negentropy: reconcile: %w", err)
			}
			if out != nil {
				if err := r.conn.SendNegentropyMsg(subID, HexEncode(out)); err != nil {
					return nil, err
				}
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	res := &Result{
		Have:   idsOf(fallback.Have()),
		Need:   idsOf(fallback.Need()),
		Failed: make(map[nostr.ID]error),
	}

	for _, chunk := range chunkIDs(res.Need, relay.DefaultMaxFilterIDs) {
		events, err := r.conn.FetchByIDs(ctx, chunk)
		if err != nil {
			return res, err
		}
		for i := range events {
			if saveRes, err := r.store.Save(ctx, &events[i]); err == nil && saveRes.Status != nostrdb.Rejected {
				res.Received = append(res.Received, events[i].ID)
			}
		}
	}

	for _, id := range res.Have {
		e, ok, err := r.store.EventByID(ctx, id)
		if err != nil || !ok {
			continue
		}
		if err := r.conn.Publish(ctx, &e); err != nil {
			res.Failed[id] = err
			continue
		}
		res.Sent = append(res.Sent, id)
	}

	return res, nil
}

func idsOf(items []Item) []nostr.ID {
	out := make([]nostr.ID, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func chunkIDs(ids []nostr.ID, size int) [][]nostr.ID {
	if size <= 0 {
		size = relay.DefaultMaxFilterIDs
	}
	var out [][]nostr.ID
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}
