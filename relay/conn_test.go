package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nostrcore/relaypool/internal/wstest"
	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb/memory"
)

func testShared(t *testing.T) (*Shared, *nostr.KeySigner) {
	t.Helper()
	signer, err := nostr.GenerateKeySigner()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &Shared{
		Signer:      signer,
		Store:       memory.New(),
		VerifiedIDs: NewVerifiedIDCache(time.Minute),
	}, signer
}

func waitForState(t *testing.T, c *Conn, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, c.State())
}

func TestConnConnectsAndPublishes(t *testing.T) {
	relayServer := wstest.New()
	defer relayServer.Close()

	var gotFrame []byte
	relayServer.Handler = func(conn *wstest.ClientConn, frame []byte) {
		var arr []json.RawMessage
		if err := json.Unmarshal(frame, &arr); err != nil || len(arr) < 2 {
			return
		}
		var tag string
		json.Unmarshal(arr[0], &tag)
		if tag != "EVENT" {
			return
		}
		gotFrame = frame
		var ev nostr.Event
		if err := ev.UnmarshalJSON(arr[1]); err != nil {
			return
		}
		conn.SendJSON("OK", ev.ID.String(), true, "")
	}

	shared, signer := testShared(t)
	url, err := Normalize(relayServer.WSURL())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	opts := DefaultOptions()
	opts.AutoAuth = false
	c := NewConn(url, opts, shared)
	c.Connect(context.Background())
	defer c.Shutdown()

	waitForState(t, c, Connected, 2*time.Second)

	e, err := nostr.NewBuilder(nostr.KindTextNote).Content("hello").Build(context.Background(), signer)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Publish(ctx, &e); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if gotFrame == nil {
		t.Fatalf("relay never received an EVENT frame")
	}
}

func TestConnSubscriptionReceivesEvent(t *testing.T) {
	relayServer := wstest.New()
	defer relayServer.Close()

	shared, signer := testShared(t)
	e, err := nostr.NewBuilder(nostr.KindTextNote).Content("sub test").Build(context.Background(), signer)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}

	relayServer.Handler = func(conn *wstest.ClientConn, frame []byte) {
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

	url, err := Normalize(relayServer.WSURL())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	received := make(chan nostr.Event, 1)
	shared.Notify = func(n Notification) {
		if n.Kind == NotifyEvent {
			received <- n.Event
		}
	}

	opts := DefaultOptions()
	opts.AutoAuth = false
	c := NewConn(url, opts, shared)
	c.Connect(context.Background())
	defer c.Shutdown()

	waitForState(t, c, Connected, 2*time.Second)

	sub, err := c.Subscribe(context.Background(), "sub1", []nostr.Filter{{Kinds: []int{nostr.KindTextNote}}}, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case got := <-received:
		if got.ID != e.ID {
			t.Fatalf("received wrong event: got %s want %s", got.ID, e.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event notification")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !sub.EOSED() {
		time.Sleep(5 * time.Millisecond)
	}
	if !sub.EOSED() {
		t.Fatal("subscription never reached EOSE")
	}
}

func TestConnReconnectsAfterDrop(t *testing.T) {
	relayServer := wstest.New()
	defer relayServer.Close()

	shared, _ := testShared(t)
	url, err := Normalize(relayServer.WSURL())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	opts := DefaultOptions()
	opts.AutoAuth = false
	opts.BaseBackoff = 10 * time.Millisecond
	opts.MaxBackoff = 50 * time.Millisecond
	c := NewConn(url, opts, shared)
	c.Connect(context.Background())
	defer c.Shutdown()

	waitForState(t, c, Connected, 2*time.Second)

	relayServer.DisconnectAll()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && c.Stats().Attempts.Load() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Stats().Attempts.Load() < 2 {
		t.Fatalf("expected at least 2 connect attempts, got %d", c.Stats().Attempts.Load())
	}
	waitForState(t, c, Connected, 2*time.Second)
}
