// Package negentropy implements range-based set reconciliation over
// (id, timestamp) pairs, the mechanism behind NIP-77 sync: two sides
// exchange a small number of fingerprinted-range messages instead of
// each dumping their full event id list, and end up agreeing on exactly
// which ids each side is missing.
package negentropy

import "github.com/nostrcore/relaypool/nostr"

// Item is one (id, timestamp) pair under reconciliation.
type Item struct {
	ID        nostr.ID
	Timestamp int64 // unix seconds
}
