package nostr

import "sync"

// Tag is a single Nostr tag: ["e", "<id>", "<relay>", ...]. Element 0 is
// the tag name, element 1 (if present) is its primary value.
type Tag []string

// Name returns the tag's first element, or "" if the tag is empty.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the tag's second element, or "" if absent.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Tags is an ordered list of Tag with a lazily built name index so that
// repeated lookups on the same event don't rescan the slice.
type Tags struct {
	list []Tag

	indexOnce sync.Once
	index     map[string][]int
}

// NewTags wraps raw tag rows.
func NewTags(rows ...Tag) Tags {
	return Tags{list: rows}
}

// All returns the underlying tag slice.
func (t *Tags) All() []Tag { return t.list }

// Len returns the number of tags.
func (t *Tags) Len() int { return len(t.list) }

func (t *Tags) buildIndex() {
	t.indexOnce.Do(func() {
		t.index = make(map[string][]int, len(t.list))
		for i, tag := range t.list {
			name := tag.Name()
			t.index[name] = append(t.index[name], i)
		}
	})
}

// Find returns every tag whose name matches.
func (t *Tags) Find(name string) []Tag {
	t.buildIndex()
	idxs := t.index[name]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]Tag, len(idxs))
	for i, idx := range idxs {
		out[i] = t.list[idx]
	}
	return out
}

// First returns the first tag with the given name, or a nil Tag if none
// exists; callers may call .Value() on the result unconditionally.
func (t *Tags) First(name string) Tag {
	t.buildIndex()
	idxs := t.index[name]
	if len(idxs) == 0 {
		return nil
	}
	return t.list[idxs[0]]
}

// Values returns the second element of every tag with the given name;
// tags whose value is missing or empty are skipped.
func (t *Tags) Values(name string) []string {
	found := t.Find(name)
	if len(found) == 0 {
		return nil
	}
	out := make([]string, 0, len(found))
	for _, tag := range found {
		if v := tag.Value(); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Append adds a tag and invalidates nothing that matters: the index, if
// already built, is rebuilt lazily on next access by replacing it with a
// fresh Tags value. Callers that mutate should reassign the result.
func (t Tags) Append(tag Tag) Tags {
	list := make([]Tag, len(t.list), len(t.list)+1)
	copy(list, t.list)
	list = append(list, tag)
	return Tags{list: list}
}

// DedupeTags collapses tags that share a (name, value) pair, regardless
// of tag name length, keeping whichever colliding tag is longer (it
// carries strictly more information, e.g. a relay hint on an "e" tag)
// and placing it at the earliest colliding position. Non-colliding tags
// keep their original order.
func DedupeTags(in []Tag) []Tag {
	if len(in) == 0 {
		return in
	}

	type dedupVal struct {
		firstIdx int
		bestIdx  int
	}
	best := make(map[string]*dedupVal, len(in))
	order := make([]string, 0, len(in))
	for i, tag := range in {
		key := tag.Name() + "\x00" + tag.Value()
		if v, ok := best[key]; ok {
			if len(tag) > len(in[v.bestIdx]) {
				v.bestIdx = i
			}
			continue
		}
		best[key] = &dedupVal{firstIdx: i, bestIdx: i}
		order = append(order, key)
	}

	out := make([]Tag, 0, len(order))
	for _, key := range order {
		v := best[key]
		out = append(out, in[v.bestIdx])
	}
	return out
}
