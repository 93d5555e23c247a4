// Package client is the ergonomic facade application code is expected
// to use instead of wiring pool, gossip, and nostrdb together by hand.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/nostrcore/relaypool/gossip"
	"github.com/nostrcore/relaypool/internal/xlog"
	"github.com/nostrcore/relaypool/negentropy"
	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb"
	"github.com/nostrcore/relaypool/nostrdb/memory"
	"github.com/nostrcore/relaypool/nostrdb/sqlite"
	"github.com/nostrcore/relaypool/pool"
	"github.com/nostrcore/relaypool/relay"
)

// Client bundles a signer, a connection pool, and a gossip overlay
// behind a small surface an application can call without knowing how
// outbox/inbox routing or fan-out results are represented internally.
type Client struct {
	signer  nostr.Signer
	store   nostrdb.Store
	pool    *pool.Pool
	overlay *gossip.Overlay
	log     *xlog.Logger
}

// New builds a Client from cfg: resolves the signer, opens the storage
// backend, constructs the pool, registers every configured relay
// (without dialing), and wires a gossip overlay seeded from
// cfg.GossipSeedRelays.
func New(cfg *Config) (*Client, error) {
	cfg.applyDefaults()

	signer, err := cfg.Signer()
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	p := pool.New(signer, store, nil, cfg.VerifiedIDCacheTTL)

	seeds := make([]relay.URL, 0, len(cfg.GossipSeedRelays))
	for _, raw := range cfg.GossipSeedRelays {
		u, err := relay.Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("client: gossip seed relay: %w", err)
		}
		seeds = append(seeds, u)
	}
	overlay := gossip.New(store, p, seeds, cfg.GossipPerPubkeyCap)

	c := &Client{
		signer:  signer,
		store:   store,
		pool:    p,
		overlay: overlay,
		log:     xlog.New("client", xlog.LevelInfo),
	}

	for _, rc := range cfg.Relays {
		if _, err := p.AddRelay(rc.URL, rc.Options()); err != nil {
			return nil, fmt.Errorf("client: add relay %s: %w", rc.URL, err)
		}
	}
	return c, nil
}

func openStore(cfg *Config) (nostrdb.Store, error) {
	switch cfg.Store {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		if cfg.StorePath == "" {
			return nil, fmt.Errorf("client: store_path is required for the sqlite backend")
		}
		return sqlite.Open(cfg.StorePath)
	default:
		return nil, fmt.Errorf("client: unknown store backend %q", cfg.Store)
	}
}

// PubKey returns the public key this client signs events with.
func (c *Client) PubKey() nostr.PubKey { return c.signer.PubKey() }

// Pool exposes the underlying connection pool for callers that need
// operations this facade doesn't wrap (e.g. Pool.Monitor).
func (c *Client) Pool() *pool.Pool { return c.pool }

// Overlay exposes the gossip overlay for direct BreakDown/StatusOf use.
func (c *Client) Overlay() *gossip.Overlay { return c.overlay }

// Connect dials every registered relay and returns once at least one
// connects or timeout elapses.
func (c *Client) Connect(timeout time.Duration) bool {
	c.pool.Connect()
	return c.pool.WaitForConnection(timeout)
}

// AddRelay registers a new relay with the pool without dialing it;
// Connect dials every registered relay.
func (c *Client) AddRelay(url string, opts relay.Options) (relay.URL, error) {
	return c.pool.AddRelay(url, opts)
}

// Publish signs e with the client's key, stores it locally, and sends
// it to every WRITE-capable relay.
func (c *Client) Publish(ctx context.Context, b *nostr.Builder) (*nostr.Event, *pool.Output[struct{}], error) {
	e, err := b.Build(ctx, c.signer)
	if err != nil {
		return nil, nil, fmt.Errorf("client: build event: %w", err)
	}
	out, err := c.pool.SendEvent(ctx, &e)
	return &e, out, err
}

// PublishTo signs e and delivers it to the inbox relays of pubkeys,
// routing via the gossip overlay (NIP-17 DM delivery, mention replies).
func (c *Client) PublishTo(ctx context.Context, b *nostr.Builder, pubkeys []nostr.PubKey) (*nostr.Event, map[relay.URL]error, error) {
	e, err := b.Build(ctx, c.signer)
	if err != nil {
		return nil, nil, fmt.Errorf("client: build event: %w", err)
	}
	failed, err := c.overlay.PublishTo(ctx, &e, pubkeys)
	return &e, failed, err
}

// Subscribe opens a REQ against every READ-capable relay.
func (c *Client) Subscribe(ctx context.Context, filters []nostr.Filter, auto *relay.ExitPolicy) (*pool.Output[string], error) {
	return c.pool.Subscribe(ctx, filters, auto)
}

// Fetch queries every READ-capable relay and returns the deduplicated
// union of results.
func (c *Client) Fetch(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	out, err := c.pool.FetchEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	return out.Val, nil
}

// FetchFromAuthors routes filter to each author's outbox relays via the
// gossip overlay instead of broadcasting to the whole pool.
func (c *Client) FetchFromAuthors(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	return c.overlay.Fetch(ctx, filter)
}

// Sync reconciles filter against every DISCOVERY-capable relay via
// negentropy.
func (c *Client) Sync(ctx context.Context, filter *nostr.Filter) (map[relay.URL]*negentropy.Result, error) {
	out, err := c.pool.Sync(ctx, filter)
	if err != nil {
		return nil, err
	}
	return out.Val, nil
}

// Notifications subscribes to the pool-wide notification bus.
func (c *Client) Notifications(buffer int) (chan pool.Notification, func()) {
	return c.pool.Notifications(buffer)
}

// Shutdown tears down the pool and releases the storage backend if it
// supports being closed.
func (c *Client) Shutdown() {
	c.pool.Shutdown()
	if closer, ok := c.store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
