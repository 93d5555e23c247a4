package nostr

import "testing"

func TestTagsFindAndFirst(t *testing.T) {
	tags := NewTags(
		Tag{"e", "id1", "wss://relay.one"},
		Tag{"e", "id2"},
		Tag{"p", "pubkey1"},
	)

	es := tags.Find("e")
	if len(es) != 2 {
		t.Fatalf("expected 2 e-tags, got %d", len(es))
	}
	if tags.First("e").Value() != "id1" {
		t.Fatalf("expected first e-tag value id1, got %q", tags.First("e").Value())
	}
	if tags.First("x") != nil {
		t.Fatalf("expected nil for missing tag name")
	}
}

func TestDedupeTagsCollapsesAnyTagName(t *testing.T) {
	in := []Tag{
		{"e", "id1"},
		{"e", "id1"},
		{"alt", "dup"},
		{"alt", "dup"},
	}
	out := DedupeTags(in)

	eCount, altCount := 0, 0
	for _, tag := range out {
		switch tag.Name() {
		case "e":
			eCount++
		case "alt":
			altCount++
		}
	}
	if eCount != 1 {
		t.Fatalf("expected single-letter duplicate collapsed, got %d", eCount)
	}
	if altCount != 1 {
		t.Fatalf("expected multi-char tag name collapsed too, got %d", altCount)
	}
}

func TestDedupeTagsKeepsLongerAtFirstPosition(t *testing.T) {
	in := []Tag{
		{"t", "test"},
		{"t", "test1"},
		{"t", "test", "wss://relay.damus.io"},
	}
	out := DedupeTags(in)

	if len(out) != 2 {
		t.Fatalf("expected 2 tags after dedup, got %d: %v", len(out), out)
	}
	if out[0].Value() != "test" || len(out[0]) != 3 {
		t.Fatalf("expected the longer test tag to win at the first position, got %v", out[0])
	}
	if out[1].Value() != "test1" {
		t.Fatalf("expected the non-colliding tag preserved, got %v", out[1])
	}
}

func TestTagsValues(t *testing.T) {
	tags := NewTags(Tag{"p", "a"}, Tag{"p", "b"}, Tag{"e", "c"})
	vals := tags.Values("p")
	if len(vals) != 2 || vals[0] != "a" || vals[1] != "b" {
		t.Fatalf("unexpected values: %v", vals)
	}
}
