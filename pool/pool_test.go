package pool

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nostrcore/relaypool/internal/wstest"
	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb/memory"
	"github.com/nostrcore/relaypool/relay"
)

func echoOKHandler(t *testing.T, got chan<- nostr.Event) func(*wstest.ClientConn, []byte) {
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

func waitConnected(t *testing.T, p *Pool, timeout time.Duration) {
	t.Helper()
	if !p.WaitForConnection(timeout) {
		t.Fatalf("timed out waiting for pool connection")
	}
}

func TestPoolAddRelayDoesNotImplyConnection(t *testing.T) {
	p := New(mustSigner(t), memory.New(), nil, 0)
	defer p.Shutdown()

	url, err := p.AddRelay("ws://127.0.0.1:1", relay.DefaultOptions())
	if err != nil {
		t.Fatalf("add relay: %v", err)
	}
	for _, c := range p.conns() {
		if c.URL() == url && c.State() != relay.Initialized {
			t.Fatalf("expected Initialized state before Connect, got %s", c.State())
		}
	}
}

func TestPoolSendEventFansOutToWriteRelays(t *testing.T) {
	srv1 := wstest.New()
	defer srv1.Close()
	srv2 := wstest.New()
	defer srv2.Close()

	got1 := make(chan nostr.Event, 1)
	got2 := make(chan nostr.Event, 1)
	srv1.Handler = echoOKHandler(t, got1)
	srv2.Handler = echoOKHandler(t, got2)

	p := New(mustSigner(t), memory.New(), nil, 0)
	defer p.Shutdown()

	opts := relay.DefaultOptions()
	opts.AutoAuth = false
	if _, err := p.AddRelay(srv1.WSURL(), opts); err != nil {
		t.Fatalf("add relay 1: %v", err)
	}
	if _, err := p.AddRelay(srv2.WSURL(), opts); err != nil {
		t.Fatalf("add relay 2: %v", err)
	}
	p.Connect()
	waitConnected(t, p, 2*time.Second)
	time.Sleep(100 * time.Millisecond) // let the slower of the two finish its handshake

	signer, _ := nostr.GenerateKeySigner()
	e, err := nostr.NewBuilder(nostr.KindTextNote).Content("fan out").Build(context.Background(), signer)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := p.SendEvent(ctx, &e)
	if err != nil {
		t.Fatalf("send event: %v", err)
	}
	if len(out.Success) != 2 {
		t.Fatalf("expected 2 successful relays, got %d (failed=%v)", len(out.Success), out.Failed)
	}

	select {
	case <-got1:
	case <-time.After(time.Second):
		t.Fatalf("relay 1 never received the event")
	}
	select {
	case <-got2:
	case <-time.After(time.Second):
		t.Fatalf("relay 2 never received the event")
	}
}

func TestPoolFetchEventsDedupesAcrossRelays(t *testing.T) {
	srv1 := wstest.New()
	defer srv1.Close()
	srv2 := wstest.New()
	defer srv2.Close()

	signer, _ := nostr.GenerateKeySigner()
	e, err := nostr.NewBuilder(nostr.KindTextNote).Content("dup").Build(context.Background(), signer)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}

	reqHandler := func(conn *wstest.ClientConn, frame []byte) {
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
	srv1.Handler = reqHandler
	srv2.Handler = reqHandler

	p := New(mustSigner(t), memory.New(), nil, 0)
	defer p.Shutdown()

	opts := relay.DefaultOptions()
	opts.AutoAuth = false
	if _, err := p.AddRelay(srv1.WSURL(), opts); err != nil {
		t.Fatalf("add relay 1: %v", err)
	}
	if _, err := p.AddRelay(srv2.WSURL(), opts); err != nil {
		t.Fatalf("add relay 2: %v", err)
	}
	p.Connect()
	waitConnected(t, p, 2*time.Second)
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := p.FetchEvents(ctx, nostr.Filter{Kinds: []int{nostr.KindTextNote}})
	if err != nil {
		t.Fatalf("fetch events: %v", err)
	}
	if len(out.Val) != 1 {
		t.Fatalf("expected 1 deduplicated event, got %d", len(out.Val))
	}
}

func TestPoolRemoveRelayKeepsGossipCapability(t *testing.T) {
	p := New(mustSigner(t), memory.New(), nil, 0)
	defer p.Shutdown()

	opts := relay.DefaultOptions()
	opts.Capabilities = relay.Read | relay.Write | relay.Gossip
	url, err := p.AddRelay("ws://127.0.0.1:1", opts)
	if err != nil {
		t.Fatalf("add relay: %v", err)
	}

	if err := p.RemoveRelay(url); err != nil {
		t.Fatalf("remove relay: %v", err)
	}

	p.mu.RLock()
	remaining, ok := p.optsOf[url]
	_, stillConnected := p.relays[url]
	p.mu.RUnlock()

	if !ok || !stillConnected {
		t.Fatalf("relay carrying GOSSIP capability should not be removed from the registry")
	}
	if remaining.Capabilities.Has(relay.Read) || remaining.Capabilities.Has(relay.Write) {
		t.Fatalf("expected READ/WRITE stripped, got capabilities=%v", remaining.Capabilities)
	}
	if !remaining.Capabilities.Has(relay.Gossip) {
		t.Fatalf("expected GOSSIP capability retained")
	}
}

func TestPoolSendMsgToRejectsMissingRelay(t *testing.T) {
	p := New(mustSigner(t), memory.New(), nil, 0)
	defer p.Shutdown()

	signer, _ := nostr.GenerateKeySigner()
	e, err := nostr.NewBuilder(nostr.KindTextNote).Content("x").Build(context.Background(), signer)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}

	opts := relay.DefaultOptions()
	if _, err := p.AddRelay("ws://127.0.0.1:1", opts); err != nil {
		t.Fatalf("add relay: %v", err)
	}

	out, err := p.SendMsgTo(context.Background(), []relay.URL{"ws://127.0.0.1:2"}, &e)
	if err != nil {
		t.Fatalf("send msg to: %v", err)
	}
	if len(out.Failed) != 1 {
		t.Fatalf("expected missing relay to fail, got success=%v failed=%v", out.Success, out.Failed)
	}
}

func mustSigner(t *testing.T) *nostr.KeySigner {
	t.Helper()
	signer, err := nostr.GenerateKeySigner()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return signer
}
