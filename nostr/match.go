package nostr

import "strings"

// MatchOptions tunes Match's behavior for callers that must not rely on
// a relay's definition of "search": subscription-match verification
// must not depend on substring matching.
type MatchOptions struct {
	SkipSearch bool
}

// Match reports whether e satisfies every constraint set on f. An empty
// slice/map field on f is treated as "no constraint on this field", per
// NIP-01: a REQ filter's fields are ANDed together, but values within a
// single field are ORed.
func Match(f *Filter, e *Event) bool {
	return MatchWithOptions(f, e, MatchOptions{})
}

// MatchWithOptions is Match with the NIP-50 search predicate optionally
// skipped (see MatchOptions.SkipSearch).
func MatchWithOptions(f *Filter, e *Event, opts MatchOptions) bool {
	if len(f.IDs) > 0 && !containsID(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsPubKey(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, e.Kind) {
		return false
	}
	if f.Since != nil && e.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.CreatedAt.After(*f.Until) {
		return false
	}
	for name, wanted := range f.Tags {
		if !matchesAnyTag(e, name, wanted) {
			return false
		}
	}
	if !opts.SkipSearch && f.Search != "" && !matchesSearch(e, f.Search) {
		return false
	}
	return true
}

func matchesAnyTag(e *Event, name string, wanted []string) bool {
	values := e.Tags.Values(name)
	for _, v := range values {
		for _, w := range wanted {
			if v == w {
				return true
			}
		}
	}
	return false
}

// matchesSearch is a plain case-insensitive substring check; stores with
// a real full-text index (see nostrdb.Capabilities.FullTextSearch) may
// ignore this and apply their own ranked search instead, falling back to
// it only to confirm a hit post-query.
func matchesSearch(e *Event, q string) bool {
	return strings.Contains(strings.ToLower(e.Content), strings.ToLower(q))
}

func containsID(ids []ID, id ID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func containsPubKey(pks []PubKey, pk PubKey) bool {
	for _, x := range pks {
		if x == pk {
			return true
		}
	}
	return false
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
