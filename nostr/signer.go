package nostr

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Signer produces Schnorr signatures over event ids. Implementations
// must be safe for concurrent use.
type Signer interface {
	PubKey() PubKey
	Sign(ctx context.Context, id ID) (Signature, error)
}

// KeySigner signs with an in-memory secp256k1 private key.
type KeySigner struct {
	priv   *btcec.PrivateKey
	pubkey PubKey
}

// NewKeySigner builds a KeySigner from a 32-byte raw private key.
func NewKeySigner(sk [32]byte) (*KeySigner, error) {
	priv, pub := btcec.PrivKeyFromBytes(sk[:])
	var pk PubKey
	copy(pk[:], schnorr.SerializePubKey(pub))
	return &KeySigner{priv: priv, pubkey: pk}, nil
}

// GenerateKeySigner creates a new random keypair.
func GenerateKeySigner() (*KeySigner, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("nostr: generate key: %w", err)
	}
	var pk PubKey
	copy(pk[:], schnorr.SerializePubKey(priv.PubKey()))
	return &KeySigner{priv: priv, pubkey: pk}, nil
}

func (s *KeySigner) PubKey() PubKey { return s.pubkey }

func (s *KeySigner) Sign(_ context.Context, id ID) (Signature, error) {
	sig, err := schnorr.Sign(s.priv, id[:], schnorr.WithSignAuxData(auxData()))
	if err != nil {
		return Signature{}, fmt.Errorf("nostr: sign: %w", err)
	}
	var out Signature
	copy(out[:], sig.Serialize())
	return out, nil
}

func auxData() [32]byte {
	var aux [32]byte
	_, _ = rand.Read(aux[:])
	return aux
}

// Sign fills in e.PubKey, e.CreatedAt (if zero), e.ID and e.Sig using s.
func Sign(ctx context.Context, e *Event, s Signer) error {
	e.PubKey = s.PubKey()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	id, err := ComputeID(e)
	if err != nil {
		return err
	}
	e.ID = id
	sig, err := s.Sign(ctx, id)
	if err != nil {
		return err
	}
	e.Sig = sig
	return nil
}

// Verify checks that e.ID matches its canonical serialization and that
// e.Sig is a valid Schnorr signature over e.ID by e.PubKey.
func Verify(e *Event) error {
	want, err := ComputeID(e)
	if err != nil {
		return fmt.Errorf("nostr: verify: %w", err)
	}
	if want != e.ID {
		return fmt.Errorf("nostr: verify: id mismatch (event was tampered with or miscomputed)")
	}
	pub, err := schnorr.ParsePubKey(e.PubKey[:])
	if err != nil {
		return fmt.Errorf("nostr: verify: bad pubkey: %w", err)
	}
	sig, err := schnorr.ParseSignature(e.Sig[:])
	if err != nil {
		return fmt.Errorf("nostr: verify: bad signature encoding: %w", err)
	}
	if !sig.Verify(e.ID[:], pub) {
		return fmt.Errorf("nostr: verify: signature invalid")
	}
	return nil
}
