package negentropy

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

func testID(b byte) nostr.ID {
	var id nostr.ID
	id[0] = b
	id[31] = b
	return id
}

// runToCompletion drives two Sessions against each other as initiator
// (a) and responder (b) until one side has nothing more to send, mirroring what a
// Reconciler and a real relay exchange over NEG-OPEN/NEG-MSG.
func runToCompletion(t *testing.T, a, b *Session) {
	t.Helper()
	msg, err := a.Initiate()
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	for i := 0; i < 64; i++ {
		if a.Done() && b.Done() {
			return
		}
		reply, err := b.Reconcile(msg)
		if err != nil {
			t.Fatalf("responder reconcile: %v", err)
		}
		if reply == nil {
			return
		}
		msg, err = a.Reconcile(reply)
		if err != nil {
			t.Fatalf("initiator reconcile: %v", err)
		}
		if msg == nil {
			return
		}
	}
	t.Fatalf("reconciliation did not converge within 64 rounds")
}

// TestSessionRoundTripUnion checks the round-trip invariant (P11):
// starting from two disjoint item sets, after one reconciliation round
// each side's Have/Need exactly accounts for what the other side needs
// to reach the union, with nothing left over and nothing duplicated.
func TestSessionRoundTripUnion(t *testing.T) {
	aOnly := []Item{{ID: testID(1), Timestamp: 100}, {ID: testID(2), Timestamp: 200}}
	bOnly := []Item{{ID: testID(3), Timestamp: 150}, {ID: testID(4), Timestamp: 250}}
	shared := []Item{{ID: testID(5), Timestamp: 300}}

	aItems := append(append([]Item{}, aOnly...), shared...)
	bItems := append(append([]Item{}, bOnly...), shared...)

	a := NewSession(NewStorage(aItems), DefaultFrameSizeLimit)
	b := NewSession(NewStorage(bItems), DefaultFrameSizeLimit)
	runToCompletion(t, a, b)

	assertSameIDs(t, "a.Have", a.Have(), aOnly)
	assertSameIDs(t, "a.Need", a.Need(), bOnly)
	assertSameIDs(t, "b.Have", b.Have(), bOnly)
	assertSameIDs(t, "b.Need", b.Need(), aOnly)
}

func assertSameIDs(t *testing.T, label string, got []Item, want []Item) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: expected %d items, got %d (%v)", label, len(want), len(got), got)
	}
	wantSet := make(map[nostr.ID]struct{}, len(want))
	for _, it := range want {
		wantSet[it.ID] = struct{}{}
	}
	for _, it := range got {
		if _, ok := wantSet[it.ID]; !ok {
			t.Fatalf("%s: unexpected id %s", label, it.ID)
		}
	}
}

// TestReconcilerSyncAsymmetric drives Reconciler.Sync against a
// scripted relay implementing the negentropy responder side, the
// REQ/EVENT id download, and EVENT/OK publish. L starts with {e1, e2},
// R (simulated) holds {e2, e3}: after Sync, local must download e3 and
// upload e1, while e2 (already shared) moves nowhere.
func TestReconcilerSyncAsymmetric(t *testing.T) {
	signer, err := nostr.GenerateKeySigner()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	build := func(content string, at time.Time) nostr.Event {
		e, err := nostr.NewBuilder(nostr.KindTextNote).Content(content).CreatedAt(at).Build(ctx, signer)
		if err != nil {
			t.Fatalf("build event: %v", err)
		}
		return e
	}

	e1 := build("e1", base)
	e2 := build("e2", base.Add(time.Second))
	e3 := build("e3", base.Add(2*time.Second))

	store := memory.New()
	if _, err := store.Save(ctx, &e1); err != nil {
		t.Fatalf("save e1: %v", err)
	}
	if _, err := store.Save(ctx, &e2); err != nil {
		t.Fatalf("save e2: %v", err)
	}

	remoteEvents := map[nostr.ID]nostr.Event{e2.ID: e2, e3.ID: e3}
	remoteItems := []Item{
		{ID: e2.ID, Timestamp: e2.CreatedAt.Unix()},
		{ID: e3.ID, Timestamp: e3.CreatedAt.Unix()},
	}

	relayServer := wstest.New()
	defer relayServer.Close()

	sessions := map[string]*Session{}
	relayServer.Handler = func(conn *wstest.ClientConn, frame []byte) {
		var arr []json.RawMessage
		if err := json.Unmarshal(frame, &arr); err != nil || len(arr) < 2 {
			return
		}
		var tag string
		json.Unmarshal(arr[0], &tag)

		switch tag {
		case "NEG-OPEN":
			var subID, initHex string
			json.Unmarshal(arr[1], &subID)
			json.Unmarshal(arr[3], &initHex)
			raw, err := HexDecode(initHex)
			if err != nil {
				return
			}
			sess := NewSession(NewStorage(remoteItems), DefaultFrameSizeLimit)
			sessions[subID] = sess
			out, err := sess.Reconcile(raw)
			if err != nil || out == nil {
				return
			}
			conn.SendJSON("NEG-MSG", subID, HexEncode(out))

		case "NEG-MSG":
			var subID, hexMsg string
			json.Unmarshal(arr[1], &subID)
			json.Unmarshal(arr[2], &hexMsg)
			sess, ok := sessions[subID]
			if !ok {
				return
			}
			raw, err := HexDecode(hexMsg)
			if err != nil {
				return
			}
			out, err := sess.Reconcile(raw)
			if err != nil || out == nil {
				return
			}
			conn.SendJSON("NEG-MSG", subID, HexEncode(out))

		case "REQ":
			var subID string
			json.Unmarshal(arr[1], &subID)
			var f struct {
				IDs []string `json:"ids"`
			}
			if len(arr) > 2 {
				json.Unmarshal(arr[2], &f)
			}
			for _, idHex := range f.IDs {
				id, err := nostr.ParseID(idHex)
				if err != nil {
					continue
				}
				if e, ok := remoteEvents[id]; ok {
					eJSON, _ := json.Marshal(e)
					conn.SendJSON("EVENT", subID, json.RawMessage(eJSON))
				}
			}
			conn.SendJSON("EOSE", subID)

		case "EVENT":
			var ev nostr.Event
			if err := ev.UnmarshalJSON(arr[1]); err != nil {
				return
			}
			conn.SendJSON("OK", ev.ID.String(), true, "")
		}
	}

	url, err := relay.Normalize(relayServer.WSURL())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	shared := &relay.Shared{Signer: signer, Store: store, VerifiedIDs: relay.NewVerifiedIDCache(time.Minute)}
	opts := relay.DefaultOptions()
	opts.AutoAuth = false
	conn := relay.NewConn(url, opts, shared)
	conn.Connect(ctx)
	defer conn.Shutdown()

	deadline := time.Now().Add(2 * time.Second)
	for conn.State() != relay.Connected && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.State() != relay.Connected {
		t.Fatalf("connection did not reach Connected state")
	}

	r := NewReconciler(conn, store)
	localItems := []Item{
		{ID: e1.ID, Timestamp: e1.CreatedAt.Unix()},
		{ID: e2.ID, Timestamp: e2.CreatedAt.Unix()},
	}

	syncCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := r.Sync(syncCtx, "sync-1", &nostr.Filter{}, localItems)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	assertSameIDs(t, "res.Have", itemsFromIDs(res.Have), []Item{{ID: e1.ID}})
	assertSameIDs(t, "res.Need", itemsFromIDs(res.Need), []Item{{ID: e3.ID}})
	assertSameIDs(t, "res.Sent", itemsFromIDs(res.Sent), []Item{{ID: e1.ID}})
	assertSameIDs(t, "res.Received", itemsFromIDs(res.Received), []Item{{ID: e3.ID}})
	if len(res.Failed) != 0 {
		t.Fatalf("expected no failed publishes, got %v", res.Failed)
	}

	if _, ok, _ := store.EventByID(ctx, e3.ID); !ok {
		t.Fatalf("expected e3 to be saved locally after sync")
	}
}

func itemsFromIDs(ids []nostr.ID) []Item {
	out := make([]Item, len(ids))
	for i, id := range ids {
		out[i] = Item{ID: id}
	}
	return out
}
