package memory

import (
	"context"

	"github.com/nostrcore/relaypool/nostr"
)

const defaultLimit = 500

// Query picks the cheapest applicable index for f and scans candidate
// entries newest-first, dropping deleted ids, checking the full
// predicate, and stopping as soon as f.Limit is reached.
func (s *Store) Query(ctx context.Context, f *nostr.Filter) ([]nostr.Event, error) {
	if f.Search != "" {
		return nil, nil
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	candidates := s.planCandidates(f)

	out := make([]nostr.Event, 0, limit)
	for _, en := range candidates {
		if _, deleted := s.deletedID.Load(en.event.ID); deleted {
			continue
		}
		if !nostr.Match(f, en.event) {
			continue
		}
		out = append(out, *en.event)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, f *nostr.Filter) (int, error) {
	if f.Search != "" {
		return 0, nil
	}
	candidates := s.planCandidates(f)
	n := 0
	for _, en := range candidates {
		if _, deleted := s.deletedID.Load(en.event.ID); deleted {
			continue
		}
		if nostr.Match(f, en.event) {
			n++
		}
	}
	return n, nil
}

// planCandidates returns a newest-first candidate slice. Preference
// order: single-author param-replaceable direct lookup, kind+author
// combined index, narrowest available tag index (author+tag, then
// kind+tag, then tag alone), author-only index, kind-only index, and
// finally the global created_at index (ci) as a last resort. Whatever
// comes back is re-checked against the full filter by nostr.Match, so
// picking a merely-narrower-than-ci index is always safe.
func (s *Store) planCandidates(f *nostr.Filter) []entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(f.Kinds) == 1 && len(f.Authors) == 1 {
		if d, ok := singleTagValue(f.Tags, "d"); ok {
			if nostr.Classify(f.Kinds[0]) == nostr.Addressable {
				coord := nostr.Coordinate{Kind: f.Kinds[0], Pubkey: f.Authors[0], D: d}
				if e, ok := s.addressable[coord]; ok {
					return []entry{{key: sortKey(e), event: e}}
				}
				return nil
			}
		}
	}

	if len(f.Kinds) > 0 && len(f.Authors) > 0 {
		var merged []entry
		for _, k := range f.Kinds {
			for _, a := range f.Authors {
				merged = mergeSorted(merged, s.byKindAuthor[kindAuthorKey{k, a}])
			}
		}
		return merged
	}

	if letter, values, ok := singleLetterTag(f.Tags); ok {
		if len(f.Authors) > 0 {
			var merged []entry
			for _, a := range f.Authors {
				for _, v := range values {
					merged = mergeSorted(merged, s.byAuthorTag[authorTagKey{a, letter, v}])
				}
			}
			return merged
		}
		if len(f.Kinds) > 0 {
			var merged []entry
			for _, k := range f.Kinds {
				for _, v := range values {
					merged = mergeSorted(merged, s.byKindTag[kindTagKey{k, letter, v}])
				}
			}
			return merged
		}
		var merged []entry
		for _, v := range values {
			merged = mergeSorted(merged, s.byTag[tagKey{letter, v}])
		}
		return merged
	}

	if len(f.Authors) > 0 {
		var merged []entry
		for _, a := range f.Authors {
			merged = mergeSorted(merged, s.byAuthor[a])
		}
		return merged
	}

	if len(f.Kinds) > 0 {
		var merged []entry
		for _, k := range f.Kinds {
			merged = mergeSorted(merged, s.byKind[k])
		}
		return merged
	}

	return s.byCreated
}

func singleTagValue(tags map[string][]string, name string) (string, bool) {
	values, ok := tags[name]
	if !ok || len(values) != 1 {
		return "", false
	}
	return values[0], true
}

// singleLetterTag picks one single-letter tag constraint out of f.Tags
// to drive an atc/ktc/tc lookup. Filter shape guarantees nostr.Match
// still checks every tag constraint afterward, so picking an arbitrary
// one among several is safe, not just convenient.
func singleLetterTag(tags map[string][]string) (byte, []string, bool) {
	for name, values := range tags {
		if len(name) == 1 && len(values) > 0 {
			return name[0], values, true
		}
	}
	return 0, nil, false
}

// mergeSorted merges two already-sorted-ascending entry slices,
// preserving order (ascending sortKey == newest first).
func mergeSorted(a, b []entry) []entry {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([]entry, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if cmpKey(a[i].key, b[j].key) <= 0 {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
