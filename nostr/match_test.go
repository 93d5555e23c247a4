package nostr

import (
	"testing"
	"time"
)

func TestMatchKindsAndAuthors(t *testing.T) {
	pk := PubKey{0xaa}
	e := &Event{Kind: KindTextNote, PubKey: pk, CreatedAt: time.Unix(1000, 0)}

	f := &Filter{Kinds: []int{KindTextNote}, Authors: []PubKey{pk}}
	if !Match(f, e) {
		t.Fatalf("expected match")
	}

	f.Authors = []PubKey{{0xbb}}
	if Match(f, e) {
		t.Fatalf("expected no match for different author")
	}
}

func TestMatchTimeRange(t *testing.T) {
	e := &Event{CreatedAt: time.Unix(1000, 0)}
	since := time.Unix(1001, 0)
	f := &Filter{Since: &since}
	if Match(f, e) {
		t.Fatalf("event before Since must not match")
	}

	until := time.Unix(999, 0)
	f = &Filter{Until: &until}
	if Match(f, e) {
		t.Fatalf("event after Until must not match")
	}
}

func TestMatchTagFilterIsOrWithinFieldAndWithOthers(t *testing.T) {
	e := &Event{
		CreatedAt: time.Unix(1000, 0),
		Tags:      NewTags(Tag{"t", "go"}, Tag{"e", "deadbeef"}),
	}

	f := &Filter{Tags: map[string][]string{"t": {"rust", "go"}}}
	if !Match(f, e) {
		t.Fatalf("expected OR match within single tag filter")
	}

	f = &Filter{Tags: map[string][]string{"t": {"go"}, "e": {"nope"}}}
	if Match(f, e) {
		t.Fatalf("expected AND across distinct tag filters to reject")
	}
}

func TestMatchSearchIsCaseInsensitiveSubstring(t *testing.T) {
	e := &Event{Content: "Hello Nostr World", CreatedAt: time.Unix(1000, 0)}
	f := &Filter{Search: "nostr"}
	if !Match(f, e) {
		t.Fatalf("expected case-insensitive substring match")
	}
	f.Search = "bitcoin"
	if Match(f, e) {
		t.Fatalf("expected no match")
	}
}

func TestFilterIsEmpty(t *testing.T) {
	f := &Filter{}
	if !f.IsEmpty() {
		t.Fatalf("expected zero-value filter to be empty")
	}
	f.Limit = 5
	if !f.IsEmpty() {
		t.Fatalf("limit alone should not count as a constraint")
	}
	f.Kinds = []int{1}
	if f.IsEmpty() {
		t.Fatalf("expected non-empty once a kind constraint is set")
	}
}
