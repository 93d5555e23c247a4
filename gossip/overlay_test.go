package gossip

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nostrcore/relaypool/internal/wstest"
	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb/memory"
	"github.com/nostrcore/relaypool/pool"
	"github.com/nostrcore/relaypool/relay"
)

// relayListReqHandler answers any REQ for kind 10002/10050 with a single
// relay-list event for author, then EOSE.
func relayListReqHandler(e nostr.Event) func(*wstest.ClientConn, []byte) {
	return func(conn *wstest.ClientConn, frame []byte) {
		var arr []json.RawMessage
		if err := json.Unmarshal(frame, &arr); err != nil || len(arr) < 2 {
			return
		}
		var tag string
		json.Unmarshal(arr[0], &tag)
		if tag != "REQ" {
			return
		}
		var subID string
		json.Unmarshal(arr[1], &subID)
		conn.SendJSON("EVENT", subID, &e)
		conn.SendJSON("EOSE", subID)
	}
}

func TestOverlayEnsureFallsBackToSeedRelaysWhenNoDiscoveryRelay(t *testing.T) {
	signer := mustSigner(t)
	e := relayListEvent(t, signer,
		nostr.Tag{"r", "wss://write.example", "write"},
		nostr.Tag{"r", "wss://read.example", "read"},
	)

	srv := wstest.New()
	defer srv.Close()
	srv.Handler = relayListReqHandler(e)

	p := pool.New(signer, memory.New(), nil, 0)
	defer p.Shutdown()

	opts := relay.DefaultOptions()
	opts.AutoAuth = false
	seedURL, err := p.AddRelay(srv.WSURL(), opts)
	if err != nil {
		t.Fatalf("add seed relay: %v", err)
	}
	p.Connect()
	if !p.WaitForConnection(2 * time.Second) {
		t.Fatalf("timed out waiting for pool connection")
	}
	time.Sleep(50 * time.Millisecond)

	o := New(memory.New(), p, []relay.URL{seedURL}, 2)
	if o.StatusOf(signer.PubKey()) != Unknown {
		t.Fatalf("expected Unknown status before any sync")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	o.Ensure(ctx, []nostr.PubKey{signer.PubKey()})

	if got := o.StatusOf(signer.PubKey()); got != UpToDate {
		t.Fatalf("expected UpToDate after Ensure, got %s", got)
	}

	urls := o.relaysFor(signer.PubKey(), false)
	found := false
	for _, u := range urls {
		if u == "wss://write.example" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the discovered write relay in outbox set, got %v", urls)
	}
}

func TestOverlayEnsureIsNoopWhenAlreadyUpToDate(t *testing.T) {
	signer := mustSigner(t)
	p := pool.New(signer, memory.New(), nil, 0)
	defer p.Shutdown()

	o := New(memory.New(), p, nil, 2)
	e := relayListEvent(t, signer, nostr.Tag{"r", "wss://write.example", "write"})
	remaining := map[nostr.PubKey]struct{}{signer.PubKey(): {}}
	o.absorb([]nostr.Event{e}, remaining)

	if o.StatusOf(signer.PubKey()) != UpToDate {
		t.Fatalf("expected UpToDate after absorb")
	}

	// Ensure must not block or panic when nothing is stale; no relays are
	// configured, so any attempted sync would hang on fallbackFetch.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	o.Ensure(ctx, []nostr.PubKey{signer.PubKey()})
}

func TestOverlayAddsDiscoveredRelaysAsGossipOnly(t *testing.T) {
	signer := mustSigner(t)
	p := pool.New(signer, memory.New(), nil, 0)
	defer p.Shutdown()

	o := New(memory.New(), p, nil, 2)
	e := relayListEvent(t, signer, nostr.Tag{"r", "wss://discovered.example", "write"})
	remaining := map[nostr.PubKey]struct{}{signer.PubKey(): {}}
	o.absorb([]nostr.Event{e}, remaining)

	caps, ok := p.CapabilitiesOf("wss://discovered.example")
	if !ok {
		t.Fatalf("expected the discovered relay to be registered with the pool")
	}
	if caps != relay.Gossip {
		t.Fatalf("expected GOSSIP-only capability for a discovered relay, got %v", caps)
	}
}
