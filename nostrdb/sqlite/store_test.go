package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
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
		t.Fatalf("build: %v", err)
	}
	return e
}

func TestSQLiteSaveAndQuery(t *testing.T) {
	store := openTestStore(t)
	signer, _ := nostr.GenerateKeySigner()
	e := mustEvent(t, nostr.KindTextNote, "hello sqlite", nil, signer, time.Unix(1000, 0))

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
		t.Fatalf("expected to find event, got %+v", out)
	}
}

func TestSQLiteFullTextSearch(t *testing.T) {
	store := openTestStore(t)
	signer, _ := nostr.GenerateKeySigner()
	e := mustEvent(t, nostr.KindTextNote, "the quick brown fox", nil, signer, time.Unix(1000, 0))
	store.Save(context.Background(), &e)

	out, err := store.Query(context.Background(), &nostr.Filter{Search: "brown"})
	if err != nil {
		t.Fatalf("search query: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one fts match, got %d", len(out))
	}
}

func TestSQLiteAddressableReplacement(t *testing.T) {
	store := openTestStore(t)
	signer, _ := nostr.GenerateKeySigner()
	v1 := mustEvent(t, 30023, "draft", []nostr.Tag{{"d", "post-1"}}, signer, time.Unix(1000, 0))
	v2 := mustEvent(t, 30023, "final", []nostr.Tag{{"d", "post-1"}}, signer, time.Unix(2000, 0))

	store.Save(context.Background(), &v1)
	res, err := store.Save(context.Background(), &v2)
	if err != nil {
		t.Fatalf("save v2: %v", err)
	}
	if res.Status != nostrdb.Replaced {
		t.Fatalf("expected Replaced, got %v", res.Status)
	}

	out, _ := store.Query(context.Background(), &nostr.Filter{
		Kinds: []int{30023}, Authors: []nostr.PubKey{signer.PubKey()}, Tags: map[string][]string{"d": {"post-1"}},
	})
	if len(out) != 1 || out[0].Content != "final" {
		t.Fatalf("expected only final version, got %+v", out)
	}
}

func TestSQLiteDeletion(t *testing.T) {
	store := openTestStore(t)
	signer, _ := nostr.GenerateKeySigner()
	target := mustEvent(t, nostr.KindTextNote, "doomed", nil, signer, time.Unix(1000, 0))
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
		t.Fatalf("expected deleted event gone, got %+v", out)
	}
}

func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}
