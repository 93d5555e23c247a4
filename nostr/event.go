// Package nostr implements the core Nostr data model: events, keys,
// tags, filters and signature verification. It has no dependency on any
// other package in this module.
package nostr

import (
	"encoding/hex"
	"fmt"
	"time"
)

// ID is the 32-byte SHA-256 digest of an event's canonical serialization.
type ID [32]byte

// PubKey is a 32-byte BIP-340 x-only public key.
type PubKey [32]byte

// Signature is a 64-byte Schnorr signature.
type Signature [64]byte

func (id ID) String() string      { return hex.EncodeToString(id[:]) }
func (pk PubKey) String() string  { return hex.EncodeToString(pk[:]) }
func (sig Signature) String() string { return hex.EncodeToString(sig[:]) }

func (id ID) IsZero() bool     { return id == ID{} }
func (pk PubKey) IsZero() bool { return pk == PubKey{} }

// ParseID decodes a 64-character lowercase hex id.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := decodeFixedHex(s, len(id))
	if err != nil {
		return id, fmt.Errorf("nostr: parse id: %w", err)
	}
	copy(id[:], b)
	return id, nil
}

// ParsePubKey decodes a 64-character lowercase hex public key.
func ParsePubKey(s string) (PubKey, error) {
	var pk PubKey
	b, err := decodeFixedHex(s, len(pk))
	if err != nil {
		return pk, fmt.Errorf("nostr: parse pubkey: %w", err)
	}
	copy(pk[:], b)
	return pk, nil
}

// ParseSignature decodes a 128-character lowercase hex signature.
func ParseSignature(s string) (Signature, error) {
	var sig Signature
	b, err := decodeFixedHex(s, len(sig))
	if err != nil {
		return sig, fmt.Errorf("nostr: parse signature: %w", err)
	}
	copy(sig[:], b)
	return sig, nil
}

func decodeFixedHex(s string, n int) ([]byte, error) {
	if len(s) != n*2 {
		return nil, fmt.Errorf("expected %d hex chars, got %d", n*2, len(s))
	}
	return hex.DecodeString(s)
}

// Event is a single Nostr event as defined by NIP-01, extended with a
// lazily built tag index (see Tags.index) for fast single-letter lookups.
type Event struct {
	ID        ID
	PubKey    PubKey
	CreatedAt time.Time
	Kind      int
	Tags      Tags
	Content   string
	Sig       Signature
}

// Coordinate identifies an addressable (NIP-33-style) event: the tuple
// (kind, pubkey, d-tag) that a replacement must match to supersede it.
type Coordinate struct {
	Kind   int
	Pubkey PubKey
	D      string
}

// Identifier returns the replaceable/addressable coordinate for e, or
// ok=false if e's kind is not replaceable or addressable.
func (e *Event) Identifier() (Coordinate, bool) {
	switch Classify(e.Kind) {
	case Replaceable:
		return Coordinate{Kind: e.Kind, Pubkey: e.PubKey}, true
	case Addressable:
		return Coordinate{Kind: e.Kind, Pubkey: e.PubKey, D: e.Tags.First("d").Value()}, true
	default:
		return Coordinate{}, false
	}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%d:%s:%s", c.Kind, c.Pubkey, c.D)
}

// Supersedes reports whether e should replace other under the tie-break
// rule (created_at desc, id asc) used for replaceable/addressable kinds.
func (e *Event) Supersedes(other *Event) bool {
	if e.CreatedAt.After(other.CreatedAt) {
		return true
	}
	if e.CreatedAt.Before(other.CreatedAt) {
		return false
	}
	return bytesLess(e.ID[:], other.ID[:])
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
