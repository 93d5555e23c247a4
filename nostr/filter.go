package nostr

import "time"

// Filter selects a subset of events, mirroring NIP-01's REQ filter
// object plus the NIP-50 "search" extension.
type Filter struct {
	IDs     []ID
	Authors []PubKey
	Kinds   []int
	Tags    map[string][]string // single-letter tag name -> accepted values
	Since   *time.Time
	Until   *time.Time
	Limit   int
	Search  string
}

// IsEmpty reports whether f has no constraints at all (matches every
// event); such filters are rejected by stores that require at least one
// indexed constraint.
func (f *Filter) IsEmpty() bool {
	return len(f.IDs) == 0 && len(f.Authors) == 0 && len(f.Kinds) == 0 &&
		len(f.Tags) == 0 && f.Since == nil && f.Until == nil && f.Search == ""
}
