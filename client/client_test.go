package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nostrcore/relaypool/internal/wstest"
	"github.com/nostrcore/relaypool/nostr"
)

func echoOKHandler(got chan<- nostr.Event) func(*wstest.ClientConn, []byte) {
	return func(conn *wstest.ClientConn, frame []byte) {
		var arr []json.RawMessage
		if err := json.Unmarshal(frame, &arr); err != nil || len(arr) < 2 {
			return
		}
		var tag string
		json.Unmarshal(arr[0], &tag)
		if tag != "EVENT" {
			return
		}
		var ev nostr.Event
		if err := ev.UnmarshalJSON(arr[1]); err != nil {
			return
		}
		got <- ev
		conn.SendJSON("OK", ev.ID.String(), true, "")
	}
}

func TestClientLoadConfigAppliesDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	if cfg.Store != "memory" {
		t.Fatalf("expected memory store default, got %q", cfg.Store)
	}
	if cfg.VerifiedIDCacheTTL != 10*time.Minute {
		t.Fatalf("expected default verified id cache ttl, got %s", cfg.VerifiedIDCacheTTL)
	}
	if cfg.GossipPerPubkeyCap != 2 {
		t.Fatalf("expected default gossip cap of 2, got %d", cfg.GossipPerPubkeyCap)
	}
}

func TestClientGeneratesEphemeralKeyWhenUnset(t *testing.T) {
	cfg := &Config{}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer c.Shutdown()
	if c.PubKey() == (nostr.PubKey{}) {
		t.Fatalf("expected a non-zero generated pubkey")
	}
}

func TestClientPublishSignsAndSendsToWriteRelays(t *testing.T) {
	srv := wstest.New()
	defer srv.Close()
	got := make(chan nostr.Event, 1)
	srv.Handler = echoOKHandler(got)

	cfg := &Config{
		Relays: []RelayConfig{{URL: srv.WSURL(), AutoAuthOff: true}},
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer c.Shutdown()

	if !c.Connect(2 * time.Second) {
		t.Fatalf("timed out connecting")
	}
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e, out, err := c.Publish(ctx, nostr.NewBuilder(nostr.KindTextNote).Content("hello"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(out.Success) != 1 {
		t.Fatalf("expected 1 successful relay, got failed=%v", out.Failed)
	}
	if e.PubKey != c.PubKey() {
		t.Fatalf("expected the built event to carry the client's pubkey")
	}

	select {
	case ev := <-got:
		if ev.ID != e.ID {
			t.Fatalf("relay received a different event than the client built")
		}
	case <-time.After(time.Second):
		t.Fatalf("relay never received the published event")
	}
}

func TestClientRejectsUnknownStoreBackend(t *testing.T) {
	cfg := &Config{Store: "postgres"}
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected an error for an unsupported store backend")
	}
}
