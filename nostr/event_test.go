package nostr

import (
	"context"
	"testing"
	"time"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	signer, err := GenerateKeySigner()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	e, err := NewBuilder(KindTextNote).
		Content("hello from the test suite").
		Tag(Tag{"t", "go"}).
		CreatedAt(time.Unix(1700000000, 0)).
		Build(context.Background(), signer)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if e.PubKey != signer.PubKey() {
		t.Fatalf("pubkey mismatch")
	}
	if err := Verify(&e); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsTamperedContent(t *testing.T) {
	signer, err := GenerateKeySigner()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	e, err := NewBuilder(KindTextNote).Content("original").Build(context.Background(), signer)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	e.Content = "tampered"
	if err := Verify(&e); err == nil {
		t.Fatalf("expected verify to fail on tampered content")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	signer, err := GenerateKeySigner()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	e, err := NewBuilder(KindTextNote).
		Content("round trip").
		Tag(Tag{"e", "abcd"}).
		CreatedAt(time.Unix(1700000000, 0)).
		Build(context.Background(), signer)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	data, err := e.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Event
	if err := decoded.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != e.ID || decoded.PubKey != e.PubKey || decoded.Sig != e.Sig {
		t.Fatalf("round trip mismatch")
	}

	fast, err := FastDecodeEvent(data)
	if err != nil {
		t.Fatalf("fast decode: %v", err)
	}
	if fast.ID != e.ID {
		t.Fatalf("fast decode id mismatch")
	}
}

func TestSupersedesTieBreak(t *testing.T) {
	base := time.Unix(1700000000, 0)
	a := &Event{ID: ID{0x01}, CreatedAt: base}
	b := &Event{ID: ID{0x02}, CreatedAt: base}

	if !a.Supersedes(b) {
		t.Fatalf("expected lower id to supersede on equal timestamp")
	}
	if b.Supersedes(a) {
		t.Fatalf("higher id must not supersede lower id on equal timestamp")
	}

	newer := &Event{ID: ID{0x02}, CreatedAt: base.Add(time.Second)}
	if !newer.Supersedes(a) {
		t.Fatalf("expected strictly newer event to supersede regardless of id")
	}
}
