package relay

import (
	"sync"
	"time"

	"github.com/nostrcore/relaypool/nostr"
)

// ExitPolicyKind selects when an auto-closing subscription should stop
// and close itself.
type ExitPolicyKind int

const (
	ExitOnEOSE ExitPolicyKind = iota
	ExitWaitDurationAfterEOSE
	ExitWaitForEvents
	ExitWaitForEventsAfterEOSE
)

// ExitPolicy describes when an auto-closing subscription is done.
type ExitPolicy struct {
	Kind     ExitPolicyKind
	Duration time.Duration // ExitWaitDurationAfterEOSE
	Count    int           // ExitWaitForEvents / ExitWaitForEventsAfterEOSE
}

// Subscription is a live (sub_id, filters) pair registered against one
// relay. It survives reconnects unless an auto-close policy is set.
type Subscription struct {
	ID      string
	Filters []nostr.Filter
	Auto    *ExitPolicy

	mu          sync.Mutex
	eosed       bool
	closed      bool // relay sent CLOSED with a retryable prefix; not removed
	eventsAfter int // count of events received post-EOSE, for exit policies
	receivedAll int // total events received, for single-filter limit enforcement pre-EOSE
	collect     chan nostr.Event
}

// attachCollector routes every event this subscription receives onto ch
// in addition to the pool-wide notification bus, for callers (like
// negentropy's Reconciler) that need a private, synchronous feed from
// one specific subscription.
func (s *Subscription) attachCollector(ch chan nostr.Event) {
	s.mu.Lock()
	s.collect = ch
	s.mu.Unlock()
}

// AttachCollector is the exported form of attachCollector, for
// callers outside this package (pool.StreamEvents) that need their own
// per-subscription event feed alongside the shared notification bus.
func (s *Subscription) AttachCollector(ch chan nostr.Event) {
	s.attachCollector(ch)
}

func (s *Subscription) collector() chan nostr.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect
}

func newSubscription(id string, filters []nostr.Filter, auto *ExitPolicy) *Subscription {
	return &Subscription{ID: id, Filters: filters, Auto: auto}
}

func (s *Subscription) markEOSE() {
	s.mu.Lock()
	s.eosed = true
	s.mu.Unlock()
}

func (s *Subscription) EOSED() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eosed
}

func (s *Subscription) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// recordEvent increments the post/pre-EOSE counters and reports whether
// the single-filter pre-EOSE limit was exceeded.
func (s *Subscription) recordEvent() (overLimit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivedAll++
	if !s.eosed {
		if len(s.Filters) == 1 && s.Filters[0].Limit > 0 && s.receivedAll > s.Filters[0].Limit {
			return true
		}
	} else {
		s.eventsAfter++
	}
	return false
}

// ShouldExit reports whether an auto-closing subscription's exit
// condition has been satisfied.
func (s *Subscription) ShouldExit() bool {
	if s.Auto == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.Auto.Kind {
	case ExitOnEOSE:
		return s.eosed
	case ExitWaitForEvents:
		return s.receivedAll >= s.Auto.Count
	case ExitWaitForEventsAfterEOSE:
		return s.eosed && s.eventsAfter >= s.Auto.Count
	case ExitWaitDurationAfterEOSE:
		return false // caller drives this with a timer after EOSE
	default:
		return false
	}
}
