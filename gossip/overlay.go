// Package gossip maintains a per-pubkey view of NIP-65 outbox/inbox
// relay lists and NIP-17 DM-relay lists, and routes application
// filters to the relays each pubkey actually publishes to, instead of
// broadcasting every request to every relay in the pool.
package gossip

import (
	"context"
	"sync"
	"time"

	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb"
	"github.com/nostrcore/relaypool/pool"
	"github.com/nostrcore/relaypool/relay"
)

// Status is how fresh the overlay's view of a pubkey's relay lists is.
type Status int

const (
	Unknown Status = iota
	Outdated
	UpToDate
)

func (s Status) String() string {
	switch s {
	case UpToDate:
		return "up_to_date"
	case Outdated:
		return "outdated"
	default:
		return "unknown"
	}
}

// StaleAfter bounds how long a pubkey's relay-list view is trusted
// before the next touch re-triggers a gossip-sync.
const StaleAfter = 6 * time.Hour

type entry struct {
	status    Status
	updatedAt time.Time
	relayList *nostr.Event // kind 10002, may be nil
	dmList    *nostr.Event // kind 10050, may be nil
}

// Overlay tracks, per pubkey, a Status plus the last-seen NIP-65/NIP-17
// replaceable events, and drives the bounded gossip-sync that keeps
// them current.
type Overlay struct {
	store nostrdb.Store
	pool  *pool.Pool

	seedRelays []relay.URL
	perPubkeyCap int

	mu      sync.RWMutex
	known   map[nostr.PubKey]*entry

	syncPermit chan struct{}
}

// New builds an Overlay bound to store and pool. seedRelays is used as
// the fallback relay set when a pubkey's own outbox cannot be
// determined yet; perPubkeyCap bounds how many relays BreakDown routes
// a single pubkey to.
func New(store nostrdb.Store, p *pool.Pool, seedRelays []relay.URL, perPubkeyCap int) *Overlay {
	if perPubkeyCap <= 0 {
		perPubkeyCap = 2
	}
	permit := make(chan struct{}, 1)
	permit <- struct{}{}
	return &Overlay{
		store:        store,
		pool:         p,
		seedRelays:   seedRelays,
		perPubkeyCap: perPubkeyCap,
		known:        make(map[nostr.PubKey]*entry),
		syncPermit:   permit,
	}
}

// StatusOf reports the overlay's current view of pk without touching
// the network.
func (o *Overlay) StatusOf(pk nostr.PubKey) Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	en, ok := o.known[pk]
	if !ok {
		return Unknown
	}
	if time.Since(en.updatedAt) > StaleAfter {
		return Outdated
	}
	return en.status
}

// Ensure checks every pubkey's status and, if any are Outdated or
// Unknown, runs a single bounded gossip-sync to catch them up. Only one
// sync may run at a time; concurrent callers wait for it and then
// re-check their own pubkeys rather than starting a second sync.
func (o *Overlay) Ensure(ctx context.Context, pubkeys []nostr.PubKey) {
	stale := o.staleOf(pubkeys)
	if len(stale) == 0 {
		return
	}

	select {
	case <-o.syncPermit:
		defer func() { o.syncPermit <- struct{}{} }()
		stale = o.staleOf(pubkeys)
		if len(stale) == 0 {
			return
		}
		o.sync(ctx, stale)
	case <-ctx.Done():
		return
	}
}

func (o *Overlay) staleOf(pubkeys []nostr.PubKey) []nostr.PubKey {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var stale []nostr.PubKey
	for _, pk := range pubkeys {
		en, ok := o.known[pk]
		if !ok || en.status != UpToDate || time.Since(en.updatedAt) > StaleAfter {
			stale = append(stale, pk)
		}
	}
	return stale
}

// sync reconciles NIP-65/NIP-17 lists for pubkeys from every DISCOVERY
// relay, then sends a direct REQ to the seed relays for pubkeys the
// reconciliation left unresolved, and issues one final catch-up REQ for
// pubkeys still missing afterward. The REQ fallback always goes to the
// seed relays; it is not aimed at the relays whose reconciliation failed.
func (o *Overlay) sync(ctx context.Context, pubkeys []nostr.PubKey) {
	filter := &nostr.Filter{
		Authors: pubkeys,
		Kinds:   []int{nostr.KindRelayList, nostr.KindDMRelayList},
	}

	_, err := o.pool.Sync(ctx, filter)
	remaining := make(map[nostr.PubKey]struct{}, len(pubkeys))
	for _, pk := range pubkeys {
		remaining[pk] = struct{}{}
	}

	if err == nil {
		o.absorbLocal(filter, remaining)
	}
	if len(remaining) == 0 {
		return
	}

	stillMissing := o.fallbackFetch(ctx, remaining)
	if len(stillMissing) == 0 {
		return
	}
	o.catchUpFetch(ctx, stillMissing)
}

func (o *Overlay) absorbLocal(filter *nostr.Filter, remaining map[nostr.PubKey]struct{}) {
	events, err := o.store.Query(context.Background(), filter)
	if err != nil {
		return
	}
	o.absorb(events, remaining)
}

func (o *Overlay) fallbackFetch(ctx context.Context, remaining map[nostr.PubKey]struct{}) map[nostr.PubKey]struct{} {
	pks := make([]nostr.PubKey, 0, len(remaining))
	for pk := range remaining {
		pks = append(pks, pk)
	}
	relays := o.seedRelays
	out, err := o.pool.FetchEventsFrom(ctx, relays, nostr.Filter{
		Authors: pks,
		Kinds:   []int{nostr.KindRelayList, nostr.KindDMRelayList},
	})
	if err != nil {
		return remaining
	}
	o.absorb(out.Val, remaining)
	return remaining
}

func (o *Overlay) catchUpFetch(ctx context.Context, remaining map[nostr.PubKey]struct{}) {
	pks := make([]nostr.PubKey, 0, len(remaining))
	for pk := range remaining {
		pks = append(pks, pk)
	}
	out, err := o.pool.FetchEvents(ctx, nostr.Filter{
		Authors: pks,
		Kinds:   []int{nostr.KindRelayList, nostr.KindDMRelayList},
	})
	if err != nil {
		o.markUnknown(remaining)
		return
	}
	o.absorb(out.Val, remaining)
	o.markUnknown(remaining)
}

func (o *Overlay) absorb(events []nostr.Event, remaining map[nostr.PubKey]struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	for i := range events {
		e := &events[i]
		en, ok := o.known[e.PubKey]
		if !ok {
			en = &entry{}
			o.known[e.PubKey] = en
		}
		switch e.Kind {
		case nostr.KindRelayList:
			if en.relayList == nil || e.Supersedes(en.relayList) {
				en.relayList = e
			}
		case nostr.KindDMRelayList:
			if en.dmList == nil || e.Supersedes(en.dmList) {
				en.dmList = e
			}
		}
		o.addDiscoveredRelays(e)
		en.status = UpToDate
		en.updatedAt = now
		delete(remaining, e.PubKey)
	}
}

// addDiscoveredRelays registers every relay named in e's "r" tags with
// the pool, carrying only the GOSSIP capability — discovery traffic
// should not suddenly start routing ordinary reads/writes through a
// relay nobody asked to trust for that.
func (o *Overlay) addDiscoveredRelays(e *nostr.Event) {
	for _, tag := range e.Tags.All() {
		if tag.Name() != "r" || len(tag) < 2 {
			continue
		}
		opts := relay.DefaultOptions()
		opts.Capabilities = relay.Gossip
		_, _ = o.pool.AddRelay(tag.Value(), opts)
	}
}

func (o *Overlay) markUnknown(remaining map[nostr.PubKey]struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	for pk := range remaining {
		en, ok := o.known[pk]
		if !ok {
			en = &entry{}
			o.known[pk] = en
		}
		en.status = Unknown
		en.updatedAt = now
	}
}
