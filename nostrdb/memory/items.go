package memory

import (
	"bytes"
	"context"
	"sort"

	"github.com/nostrcore/relaypool/negentropy"
	"github.com/nostrcore/relaypool/nostr"
)

// NegentropyItems returns the (id, created_at) pairs matching f, sorted
// the way negentropy.Storage requires (created_at ascending, id
// ascending as tiebreak).
func (s *Store) NegentropyItems(ctx context.Context, f *nostr.Filter) ([]negentropy.Item, error) {
	events, err := s.Query(ctx, f)
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
		return bytes.Compare(items[i].ID[:], items[j].ID[:]) < 0
	})
	return items, nil
}
