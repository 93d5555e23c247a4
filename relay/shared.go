package relay

import (
	"context"

	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb"
)

// AdmissionPolicy runs in the hot path on inbound events and inbound
// connections: implementations must be fast and must not block on
// other relays. A nil policy admits everything.
type AdmissionPolicy interface {
	AdmitEvent(ctx context.Context, url URL, e *nostr.Event) bool
	AdmitConnect(ctx context.Context, url URL) bool
}

// NotificationKind discriminates the pool-level notification bus
// entries a Conn emits.
type NotificationKind int

const (
	NotifyEvent NotificationKind = iota
	NotifyMessage
	NotifyStatusChange
)

// Notification is one entry on the pool-wide bus. Conn never holds a
// reference back to the pool; it only calls Shared.Notify.
type Notification struct {
	Kind  NotificationKind
	URL   URL
	SubID string
	Event nostr.Event
	Raw   Inbound
	State State
}

// Shared is the state every Conn borrows from the pool that owns it —
// never the reverse, so relay<->pool stays acyclic.
type Shared struct {
	Signer      nostr.Signer
	Store       nostrdb.Store
	Admission   AdmissionPolicy
	VerifiedIDs *VerifiedIDCache
	Notify      func(Notification)

	// SubscriptionVerify enables the "does this EVENT actually match the
	// filters we subscribed with" check.
	SubscriptionVerify bool
}

func (s *Shared) notify(n Notification) {
	if s.Notify != nil {
		s.Notify(n)
	}
}

func (s *Shared) admitEvent(ctx context.Context, url URL, e *nostr.Event) bool {
	if s.Admission == nil {
		return true
	}
	return s.Admission.AdmitEvent(ctx, url, e)
}
