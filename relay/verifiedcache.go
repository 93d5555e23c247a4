package relay

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nostrcore/relaypool/nostr"
)

// VerifiedIDCache is the process-wide "we already checked this
// signature" set, so an event arriving over several relays in the same
// moment is only verified once. It is backed by an xsync concurrent
// map with a background TTL sweep since it sits on the hot ingest
// path.
type VerifiedIDCache struct {
	entries *xsync.MapOf[nostr.ID, time.Time]
	ttl     time.Duration
	stop    chan struct{}
}

// DefaultVerifiedIDCacheTTL bounds how long a verified id is trusted
// before a future occurrence is re-verified from scratch.
const DefaultVerifiedIDCacheTTL = 10 * time.Minute

// NewVerifiedIDCache starts a cache with a background sweep goroutine
// that expires old entries every ttl/2. Call Close to stop the sweep.
func NewVerifiedIDCache(ttl time.Duration) *VerifiedIDCache {
	if ttl <= 0 {
		ttl = DefaultVerifiedIDCacheTTL
	}
	c := &VerifiedIDCache{
		entries: xsync.NewMapOf[nostr.ID, time.Time](),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *VerifiedIDCache) sweepLoop() {
	interval := c.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.entries.Range(func(id nostr.ID, at time.Time) bool {
				if now.Sub(at) > c.ttl {
					c.entries.Delete(id)
				}
				return true
			})
		}
	}
}

// Seen reports whether id was verified recently.
func (c *VerifiedIDCache) Seen(id nostr.ID) bool {
	_, ok := c.entries.Load(id)
	return ok
}

// MarkVerified records that id's signature has been checked.
func (c *VerifiedIDCache) MarkVerified(id nostr.ID) {
	c.entries.Store(id, time.Now())
}

// Close stops the background sweep goroutine.
func (c *VerifiedIDCache) Close() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}
