package gossip

import (
	"context"
	"testing"

	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb/memory"
	"github.com/nostrcore/relaypool/pool"
	"github.com/nostrcore/relaypool/relay"
)

func mustSigner(t *testing.T) *nostr.KeySigner {
	t.Helper()
	signer, err := nostr.GenerateKeySigner()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return signer
}

func relayListEvent(t *testing.T, signer *nostr.KeySigner, rTags ...nostr.Tag) nostr.Event {
	t.Helper()
	b := nostr.NewBuilder(nostr.KindRelayList).Tags(rTags...)
	e, err := b.Build(context.Background(), signer)
	if err != nil {
		t.Fatalf("build relay list: %v", err)
	}
	return e
}

func TestBreakDownRoutesToWriteRelaysForFetch(t *testing.T) {
	signer := mustSigner(t)
	p := pool.New(signer, memory.New(), nil, 0)
	defer p.Shutdown()
	o := New(memory.New(), p, []relay.URL{"wss://seed.example"}, 2)

	e := relayListEvent(t, signer,
		nostr.Tag{"r", "wss://write.example", "write"},
		nostr.Tag{"r", "wss://read.example", "read"},
		nostr.Tag{"r", "wss://both.example"},
	)
	remaining := map[nostr.PubKey]struct{}{signer.PubKey(): {}}
	o.absorb([]nostr.Event{e}, remaining)

	byURL := o.BreakDown(nostr.Filter{Kinds: []int{nostr.KindTextNote}}, []nostr.PubKey{signer.PubKey()}, false)

	found := make(map[relay.URL]bool)
	for url, f := range byURL {
		found[url] = true
		if len(f.Authors) != 1 || f.Authors[0] != signer.PubKey() {
			t.Fatalf("expected filter routed to %s to carry the author", url)
		}
	}
	if !found["wss://write.example"] {
		t.Fatalf("expected fetch routing to include the write relay, got %v", byURL)
	}
	if found["wss://read.example"] {
		t.Fatalf("fetch routing should not use the read-only relay, got %v", byURL)
	}
}

func TestBreakDownFallsBackToSeedsWhenUnknown(t *testing.T) {
	signer := mustSigner(t)
	p := pool.New(signer, memory.New(), nil, 0)
	defer p.Shutdown()
	o := New(memory.New(), p, []relay.URL{"wss://seed.example"}, 2)

	byURL := o.BreakDown(nostr.Filter{}, []nostr.PubKey{signer.PubKey()}, false)
	if _, ok := byURL["wss://seed.example"]; !ok {
		t.Fatalf("expected fallback to seed relays for an unknown pubkey, got %v", byURL)
	}
}

func TestBreakDownCapsRelaysPerPubkey(t *testing.T) {
	signer := mustSigner(t)
	p := pool.New(signer, memory.New(), nil, 0)
	defer p.Shutdown()
	o := New(memory.New(), p, nil, 1)

	e := relayListEvent(t, signer,
		nostr.Tag{"r", "wss://a.example", "write"},
		nostr.Tag{"r", "wss://b.example", "write"},
		nostr.Tag{"r", "wss://c.example", "write"},
	)
	remaining := map[nostr.PubKey]struct{}{signer.PubKey(): {}}
	o.absorb([]nostr.Event{e}, remaining)

	byURL := o.BreakDown(nostr.Filter{}, []nostr.PubKey{signer.PubKey()}, false)
	if len(byURL) != 1 {
		t.Fatalf("expected routing capped to 1 relay, got %d: %v", len(byURL), byURL)
	}
}
