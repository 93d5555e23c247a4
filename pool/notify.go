package pool

import (
	"sync"

	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/relay"
)

// Notification is one entry on the pool-wide bus, re-exported from the
// relay package so application code only imports pool. StatusChange
// fires per relay; Event fires only the first time a given event id
// has been seen across every relay currently in the pool, so a
// subscriber fanned out to ten relays doesn't see the same note ten
// times.
type Notification = relay.Notification

// hub fans Conn-level notifications out to every application
// subscriber through a mutex-guarded subscriber set, plus a
// bounded first-seen event-id ring so a note arriving over several
// relays at once is only delivered once.
type hub struct {
	mu          sync.RWMutex
	subscribers map[chan Notification]struct{}

	seenMu sync.Mutex
	seen   map[nostr.ID]struct{}
	seenQ  []nostr.ID
}

const maxSeenEventIDs = 4096

func newHub() *hub {
	return &hub{
		subscribers: make(map[chan Notification]struct{}),
		seen:        make(map[nostr.ID]struct{}),
	}
}

// Subscribe registers a new listener with a reasonably sized buffer so a
// slow application consumer doesn't stall relay ingest; returns an
// unsubscribe func.
func (h *hub) Subscribe(buffer int) (chan Notification, func()) {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan Notification, buffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() { h.unsubscribe(ch) }
}

func (h *hub) unsubscribe(ch chan Notification) {
	h.mu.Lock()
	if _, ok := h.subscribers[ch]; ok {
		delete(h.subscribers, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(n Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers {
		select {
		case ch <- n:
		default:
		}
	}
}

// publish is the callback wired into every Conn's Shared.Notify. It
// passes StatusChange and Message through unconditionally but collapses
// duplicate Event notifications for the same id arriving from multiple
// relays down to the first.
func (h *hub) publish(n relay.Notification) {
	if n.Kind == relay.NotifyEvent && !h.firstSeen(n.Event.ID) {
		return
	}
	h.broadcast(n)
}

func (h *hub) firstSeen(id nostr.ID) bool {
	h.seenMu.Lock()
	defer h.seenMu.Unlock()
	if _, ok := h.seen[id]; ok {
		return false
	}
	h.seen[id] = struct{}{}
	h.seenQ = append(h.seenQ, id)
	if len(h.seenQ) > maxSeenEventIDs {
		drop := h.seenQ[0]
		h.seenQ = h.seenQ[1:]
		delete(h.seen, drop)
	}
	return true
}

func (h *hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		close(ch)
	}
	h.subscribers = make(map[chan Notification]struct{})
}
