package memory

import (
	"context"
	"testing"
	"time"

	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb"
)

func mustSigner(t *testing.T) *nostr.KeySigner {
	t.Helper()
	s, err := nostr.GenerateKeySigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	return s
}

func mustEvent(t *testing.T, kind int, content string, tags []nostr.Tag, signer nostr.Signer, at time.Time) nostr.Event {
	t.Helper()
	b := nostr.NewBuilder(kind).Content(content).CreatedAt(at)
	for _, tag := range tags {
		b.Tag(tag)
	}
	e, err := b.Build(context.Background(), signer)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return e
}

func TestSaveAndQueryRegular(t *testing.T) {
	store := New()
	signer := mustSigner(t)
	e := mustEvent(t, nostr.KindTextNote, "hi", nil, signer, time.Unix(1000, 0))

	res, err := store.Save(context.Background(), &e)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.Status != nostrdb.Saved {
		t.Fatalf("expected Saved, got %v", res.Status)
	}

	out, err := store.Query(context.Background(), &nostr.Filter{Authors: []nostr.PubKey{signer.PubKey()}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 || out[0].ID != e.ID {
		t.Fatalf("expected to find saved event, got %+v", out)
	}
}

func TestSaveDuplicate(t *testing.T) {
	store := New()
	signer := mustSigner(t)
	e := mustEvent(t, nostr.KindTextNote, "hi", nil, signer, time.Unix(1000, 0))

	store.Save(context.Background(), &e)
	res, err := store.Save(context.Background(), &e)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.Status != nostrdb.Duplicate {
		t.Fatalf("expected Duplicate, got %v", res.Status)
	}
}

func TestReplaceableKeepsOnlyNewest(t *testing.T) {
	store := New()
	signer := mustSigner(t)
	older := mustEvent(t, nostr.KindMetadata, "old", nil, signer, time.Unix(1000, 0))
	newer := mustEvent(t, nostr.KindMetadata, "new", nil, signer, time.Unix(2000, 0))

	store.Save(context.Background(), &older)
	res, err := store.Save(context.Background(), &newer)
	if err != nil {
		t.Fatalf("save newer: %v", err)
	}
	if res.Status != nostrdb.Replaced {
		t.Fatalf("expected Replaced, got %v", res.Status)
	}

	out, _ := store.Query(context.Background(), &nostr.Filter{Authors: []nostr.PubKey{signer.PubKey()}, Kinds: []int{nostr.KindMetadata}})
	if len(out) != 1 || out[0].Content != "new" {
		t.Fatalf("expected only newest metadata event, got %+v", out)
	}
}

func TestReplaceableRejectsOlderArrivingLate(t *testing.T) {
	store := New()
	signer := mustSigner(t)
	newer := mustEvent(t, nostr.KindMetadata, "new", nil, signer, time.Unix(2000, 0))
	older := mustEvent(t, nostr.KindMetadata, "old", nil, signer, time.Unix(1000, 0))

	store.Save(context.Background(), &newer)
	res, err := store.Save(context.Background(), &older)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.Status != nostrdb.Rejected || res.Reason != nostrdb.ReasonSuperseded {
		t.Fatalf("expected Rejected/Superseded, got %v/%v", res.Status, res.Reason)
	}
}

func TestAddressableCoordinateReplacement(t *testing.T) {
	store := New()
	signer := mustSigner(t)
	v1 := mustEvent(t, 30023, "draft", []nostr.Tag{{"d", "article-1"}}, signer, time.Unix(1000, 0))
	v2 := mustEvent(t, 30023, "final", []nostr.Tag{{"d", "article-1"}}, signer, time.Unix(2000, 0))

	store.Save(context.Background(), &v1)
	store.Save(context.Background(), &v2)

	out, err := store.Query(context.Background(), &nostr.Filter{
		Kinds:   []int{30023},
		Authors: []nostr.PubKey{signer.PubKey()},
		Tags:    map[string][]string{"d": {"article-1"}},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 || out[0].Content != "final" {
		t.Fatalf("expected only final version, got %+v", out)
	}
}

func TestDeletionRemovesOwnedEventByID(t *testing.T) {
	store := New()
	signer := mustSigner(t)
	target := mustEvent(t, nostr.KindTextNote, "will be deleted", nil, signer, time.Unix(1000, 0))
	store.Save(context.Background(), &target)

	del := mustEvent(t, nostr.KindDeletion, "", []nostr.Tag{{"e", target.ID.String()}}, signer, time.Unix(1001, 0))
	res, err := store.Save(context.Background(), &del)
	if err != nil {
		t.Fatalf("save deletion: %v", err)
	}
	if res.Status != nostrdb.Deleted {
		t.Fatalf("expected Deleted, got %v", res.Status)
	}

	out, _ := store.Query(context.Background(), &nostr.Filter{IDs: []nostr.ID{target.ID}})
	if len(out) != 0 {
		t.Fatalf("expected deleted event to be gone, got %+v", out)
	}

	repost, err := store.Save(context.Background(), &target)
	if err != nil {
		t.Fatalf("resave: %v", err)
	}
	if repost.Status != nostrdb.Rejected || repost.Reason != nostrdb.ReasonDeletedByAuthor {
		t.Fatalf("expected re-save of deleted id to be rejected, got %v/%v", repost.Status, repost.Reason)
	}
}

func TestDeletionCannotBeDeleted(t *testing.T) {
	store := New()
	signer := mustSigner(t)
	del1 := mustEvent(t, nostr.KindDeletion, "", nil, signer, time.Unix(1000, 0))
	store.Save(context.Background(), &del1)

	del2 := mustEvent(t, nostr.KindDeletion, "", []nostr.Tag{{"e", del1.ID.String()}}, signer, time.Unix(1001, 0))
	store.Save(context.Background(), &del2)

	out, _ := store.Query(context.Background(), &nostr.Filter{IDs: []nostr.ID{del1.ID}})
	if len(out) != 1 {
		t.Fatalf("deletion events must not themselves be deletable, got %+v", out)
	}
}

func TestDeletionByOtherAuthorIsIgnored(t *testing.T) {
	store := New()
	owner := mustSigner(t)
	attacker := mustSigner(t)

	target := mustEvent(t, nostr.KindTextNote, "mine", nil, owner, time.Unix(1000, 0))
	store.Save(context.Background(), &target)

	del := mustEvent(t, nostr.KindDeletion, "", []nostr.Tag{{"e", target.ID.String()}}, attacker, time.Unix(1001, 0))
	store.Save(context.Background(), &del)

	out, _ := store.Query(context.Background(), &nostr.Filter{IDs: []nostr.ID{target.ID}})
	if len(out) != 1 {
		t.Fatalf("expected event to survive a deletion from a non-owner, got %+v", out)
	}
}
