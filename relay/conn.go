// Package relay implements the per-relay connection state machine:
// reconnect policy, NIP-42 authentication, subscription lifecycle,
// ping/pong liveness, inbound message ingest and ordered outbound
// dispatch. Three cooperating goroutines run per live connection
// (sender, reader, ingester), generalized from a one-shot dial into a
// persistent, auto-reconnecting state machine.
package relay

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nostrcore/relaypool/internal/wsconn"
	"github.com/nostrcore/relaypool/internal/xlog"
	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb"
)

type outboundMsg struct {
	frame []byte
	done  chan error // optional; fulfilled right after the transport accepts the frame
}

type ingestCmd struct {
	challenge string
}

// Conn is one relay's connection state machine. The zero value is not
// usable; construct with NewConn.
type Conn struct {
	url    URL
	opts   Options
	shared *Shared
	log    *xlog.Logger

	state     atomic.Int32
	terminate chan struct{}
	closeOnce sync.Once

	outbound chan outboundMsg
	ingestCh chan ingestCmd

	subsMu sync.RWMutex
	subs   map[string]*Subscription

	waitersMu sync.Mutex
	waiters   map[nostr.ID]chan okResult

	negMu       sync.Mutex
	negHandlers map[string]func(Inbound)

	stats *Stats

	pingMu     sync.Mutex
	pingNonce  [8]byte
	pingSentAt time.Time
	hasPing    bool
}

type okResult struct {
	ok      bool
	message string
}

// NewConn constructs a relay connection in the Initialized state. It
// does nothing network-visible until Connect is called.
func NewConn(url URL, opts Options, shared *Shared) *Conn {
	c := &Conn{
		url:         url,
		opts:        opts,
		shared:      shared,
		log:         xlog.Default.With(string(url)),
		terminate:   make(chan struct{}),
		outbound:    make(chan outboundMsg, DefaultOutboundQueueSize),
		ingestCh:    make(chan ingestCmd, 8),
		subs:        make(map[string]*Subscription),
		waiters:     make(map[nostr.ID]chan okResult),
		negHandlers: make(map[string]func(Inbound)),
		stats:       newStats(),
	}
	c.state.Store(int32(Initialized))
	return c
}

func (c *Conn) URL() URL     { return c.url }
func (c *Conn) State() State { return State(c.state.Load()) }
func (c *Conn) Stats() *Stats { return c.stats }

func (c *Conn) setState(s State) { c.state.Store(int32(s)) }

// transition performs a CAS-style move, allowed from any of `from`.
func (c *Conn) transition(to State, from ...State) bool {
	cur := State(c.state.Load())
	for _, f := range from {
		if cur == f {
			return c.state.CompareAndSwap(int32(f), int32(to))
		}
	}
	return false
}

// Ban moves the relay to the sticky Banned state (admission rejection,
// subscription-mismatch policy, or operator action).
func (c *Conn) Ban(reason string) {
	cur := State(c.state.Load())
	if cur.Terminal() {
		return
	}
	c.log.Warnf("banned: %s", reason)
	c.setState(Banned)
	c.signalTerminate()
}

// Shutdown moves the relay to the sticky Shutdown state, used only by
// pool-wide shutdown.
func (c *Conn) Shutdown() {
	cur := State(c.state.Load())
	if cur.Terminal() {
		return
	}
	c.setState(Shutdown)
	c.signalTerminate()
}

// Disconnect requests a graceful, explicit disconnect; reconnection
// will not be attempted afterward.
func (c *Conn) Disconnect() {
	cur := State(c.state.Load())
	if cur.Terminal() {
		return
	}
	c.setState(Terminated)
	c.signalTerminate()
}

func (c *Conn) signalTerminate() {
	c.closeOnce.Do(func() { close(c.terminate) })
}

// Connect starts the reconnect loop if the relay isn't already
// connecting/connected. Safe to call repeatedly (e.g. to wake a
// Sleeping relay).
func (c *Conn) Connect(ctx context.Context) {
	if !c.transition(Pending, Initialized, Disconnected, Terminated, Sleeping) {
		return
	}
	go c.runLoop(ctx)
}

func (c *Conn) runLoop(ctx context.Context) {
	failures := 0
	for {
		select {
		case <-c.terminate:
			return
		default:
		}

		c.setState(Connecting)
		c.stats.Attempts.Add(1)

		dialCtx, cancel := context.WithTimeout(ctx, nonZero(c.opts.HandshakeTimeout, DefaultHandshakeTimeout))
		ws, _, err := wsconn.Dial(dialCtx, string(c.url), c.opts.HandshakeTimeout)
		cancel()

		if err != nil {
			if !c.opts.ReconnectEnabled {
				c.setState(Terminated)
				return
			}
			c.setState(Disconnected)
			failures++
			wait := nextBackoff(nonZero(c.opts.BaseBackoff, DefaultBaseBackoff), nonZero(c.opts.MaxBackoff, DefaultMaxBackoff), failures)
			c.log.Warnf("connect failed (attempt %d, retry in %s): %v", failures, wait, err)
			select {
			case <-time.After(wait):
				continue
			case <-c.terminate:
				return
			}
		}

		c.stats.Successes.Add(1)
		failures = 0
		c.stats.recordWake(time.Now())
		c.setState(Connected)
		c.shared.notify(Notification{Kind: NotifyStatusChange, URL: c.url, State: Connected})

		c.runConnected(ctx, ws)

		if State(c.state.Load()).Terminal() {
			return
		}
		if State(c.state.Load()) == Terminated {
			return
		}
		if !c.opts.ReconnectEnabled {
			c.setState(Terminated)
			return
		}
		c.setState(Disconnected)
		c.shared.notify(Notification{Kind: NotifyStatusChange, URL: c.url, State: Disconnected})
	}
}

func nonZero(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// runConnected drives sender/reader/ingester for one live connection
// and returns once any of them stops (error, peer close, or
// terminate).
func (c *Conn) runConnected(ctx context.Context, ws wsconn.Conn) {
	ws.SetReadLimit(int64(nonZero2(c.opts.MaxMessageSize, DefaultMaxMessageSize)))

	connDone := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(connDone); ws.Close() }) }

	ws.SetPongHandler(func(appData string) error {
		c.handlePong(appData)
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); defer stop(); c.runSender(ws, connDone) }()
	go func() { defer wg.Done(); defer stop(); c.runReader(ctx, ws, connDone) }()
	go func() { defer wg.Done(); defer stop(); c.runIngester(ctx, connDone) }()

	select {
	case <-connDone:
	case <-c.terminate:
		stop()
	}
	wg.Wait()
}

func nonZero2(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}

func (c *Conn) handlePong(appData string) {
	raw, err := hex.DecodeString(appData)
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	if err != nil || !c.hasPing || len(raw) != 8 {
		return
	}
	for i := 0; i < 8; i++ {
		if raw[i] != c.pingNonce[i] {
			return
		}
	}
	c.stats.recordLatency(time.Since(c.pingSentAt))
	c.hasPing = false
}

// runSender owns the websocket write side: it drains the outbound
// queue in FIFO order and periodically emits a ping with a fresh nonce.
func (c *Conn) runSender(ws wsconn.Conn, done <-chan struct{}) {
	interval := nonZero(c.opts.PingInterval, DefaultPingInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	writeTimeout := nonZero(c.opts.WriteTimeout, DefaultWriteTimeout)

	for {
		select {
		case <-done:
			return
		case msg := <-c.outbound:
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := ws.WriteMessage(wsconn.TextMessage, msg.frame)
			if msg.done != nil {
				msg.done <- err
			}
			if err != nil {
				c.log.Warnf("write failed: %v", err)
				return
			}
			c.stats.BytesOut.Add(int64(len(msg.frame)))
		case <-ticker.C:
			var nonce [8]byte
			binary.BigEndian.PutUint64(nonce[:], uint64(time.Now().UnixNano()))
			_, _ = rand.Read(nonce[:]) // mix in real entropy alongside the time seed
			c.pingMu.Lock()
			c.pingNonce = nonce
			c.pingSentAt = time.Now()
			c.hasPing = true
			c.pingMu.Unlock()
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteControl(wsconn.PingMessage, nonce[:], time.Now().Add(writeTimeout)); err != nil {
				c.log.Warnf("ping failed: %v", err)
				return
			}
		}
	}
}

// runReader owns the websocket read side: it parses every frame and
// dispatches it by message type.
func (c *Conn) runReader(ctx context.Context, ws wsconn.Conn, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if wsconn.IsUnexpectedClose(err) {
				c.log.Warnf("read failed: %v", err)
			}
			return
		}

		switch msgType {
		case wsconn.BinaryMessage:
			c.log.Debugf("dropped unexpected binary frame (%d bytes)", len(data))
			continue
		case wsconn.CloseMessage:
			return
		case wsconn.TextMessage:
			c.stats.BytesIn.Add(int64(len(data)))
			in, err := decodeInbound(data)
			if err != nil {
				c.log.Debugf("malformed message: %v", err)
				continue
			}
			c.shared.notify(Notification{Kind: NotifyMessage, URL: c.url, Raw: in})
			c.handleInbound(ctx, in)
		}
	}
}

func (c *Conn) handleInbound(ctx context.Context, in Inbound) {
	switch in.Kind {
	case InEvent:
		c.handleEvent(ctx, in)
	case InOK:
		c.handleOK(in)
	case InEOSE:
		c.handleEOSE(in)
	case InClosed:
		c.handleClosed(in)
	case InNotice:
		c.log.Infof("NOTICE: %s", in.Message)
	case InAuth:
		if c.opts.AutoAuth {
			select {
			case c.ingestCh <- ingestCmd{challenge: in.Message}:
			default:
				c.log.Warnf("ingest queue full, dropping AUTH challenge")
			}
		}
	case InCount:
		// Counts are delivered to the pool via the Message notification
		// above; no per-relay state to update.
	case InNegMsg, InNegErr:
		c.negMu.Lock()
		h := c.negHandlers[in.SubID]
		c.negMu.Unlock()
		if h != nil {
			h(in)
		}
	}
}

func (c *Conn) handleEvent(ctx context.Context, in Inbound) {
	e := in.Event

	if len(e.Tags.All()) > nonZero2(c.opts.MaxEventTags, DefaultMaxEventTags) {
		c.log.Debugf("dropping event %s: too many tags", e.ID)
		return
	}

	sub := c.getSubscription(in.SubID)
	if c.shared.SubscriptionVerify && sub != nil {
		opts := nostr.MatchOptions{SkipSearch: true}
		matched := false
		for i := range sub.Filters {
			if nostr.MatchWithOptions(&sub.Filters[i], &e, opts) {
				matched = true
				break
			}
		}
		if !matched {
			if c.opts.BanOnMismatch {
				c.Ban(fmt.Sprintf("event %s does not match subscription %s filters", e.ID, in.SubID))
			} else {
				c.log.Debugf("dropping event %s: does not match subscription %s", e.ID, in.SubID)
			}
			return
		}
		if over := sub.recordEvent(); over {
			if c.opts.BanOnMismatch {
				c.Ban(fmt.Sprintf("subscription %s exceeded its single-filter limit", in.SubID))
			}
			return
		}
	} else if sub != nil {
		sub.recordEvent()
	}

	if expiresAt := e.Tags.First("expiration").Value(); expiresAt != "" {
		if secs, ok := parseUnixSeconds(expiresAt); ok && time.Unix(secs, 0).Before(time.Now()) {
			return
		}
	}

	if !c.shared.admitEvent(ctx, c.url, &e) {
		return
	}

	status, err := c.shared.Store.CheckID(ctx, e.ID)
	if err != nil {
		c.log.Warnf("check_id failed: %v", err)
		return
	}
	switch status {
	case nostrdb.ExistsSaved:
		c.emitEvent(in.SubID, e)
		return
	case nostrdb.ExistsDeleted:
		return
	}

	if !c.shared.VerifiedIDs.Seen(e.ID) {
		if err := nostr.Verify(&e); err != nil {
			c.log.Debugf("dropping event %s: signature invalid: %v", e.ID, err)
			return
		}
		c.shared.VerifiedIDs.MarkVerified(e.ID)
	}

	res, err := c.shared.Store.Save(ctx, &e)
	if err != nil {
		c.log.Warnf("save failed: %v", err)
		return
	}
	c.stats.EventsIn.Add(1)

	switch res.Status {
	case nostrdb.Saved, nostrdb.Duplicate:
		c.emitEvent(in.SubID, e)
	case nostrdb.Replaced, nostrdb.Deleted, nostrdb.Rejected:
		// a replaced/deleted/rejected event never reaches application
		// subscribers, only ones that actually landed in the store
	}
}

func parseUnixSeconds(s string) (int64, bool) {
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

func (c *Conn) emitEvent(subID string, e nostr.Event) {
	if sub := c.getSubscription(subID); sub != nil {
		if ch := sub.collector(); ch != nil {
			select {
			case ch <- e:
			default:
			}
		}
	}
	c.shared.notify(Notification{Kind: NotifyEvent, URL: c.url, SubID: subID, Event: e})
}

func (c *Conn) handleOK(in Inbound) {
	c.waitersMu.Lock()
	ch, ok := c.waiters[in.OKID]
	if ok {
		delete(c.waiters, in.OKID)
	}
	c.waitersMu.Unlock()
	if ok {
		ch <- okResult{ok: in.OKOk, message: in.Message}
	}
}

func (c *Conn) handleEOSE(in Inbound) {
	if sub := c.getSubscription(in.SubID); sub != nil {
		sub.markEOSE()
	}
}

func (c *Conn) handleClosed(in Inbound) {
	prefix, _ := parsePrefix(in.Message)
	sub := c.getSubscription(in.SubID)
	if sub == nil {
		return
	}
	if prefix == PrefixAuthRequired || prefix == PrefixRateLimited {
		sub.markClosed()
		return
	}
	c.removeSubscription(in.SubID)
}

// --- subscription registry ---

func (c *Conn) getSubscription(id string) *Subscription {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subs[id]
}

func (c *Conn) removeSubscription(id string) {
	c.subsMu.Lock()
	delete(c.subs, id)
	c.subsMu.Unlock()
}

// Subscriptions returns every live subscription id on this relay.
func (c *Conn) Subscriptions() []string {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for id := range c.subs {
		out = append(out, id)
	}
	return out
}

// --- health checks ---

func (c *Conn) canSend() error {
	switch State(c.state.Load()) {
	case Banned:
		return newErr(c.url, ErrKindBanned, "relay is banned")
	case Shutdown:
		return newErr(c.url, ErrKindNotConnected, "pool is shut down")
	case Sleeping:
		return newErr(c.url, ErrKindSleeping, "relay is sleeping")
	}
	if attempts := c.stats.Attempts.Load(); attempts > int64(nonZero3(c.opts.MinAttempts, DefaultMinAttempts)) {
		minRate := c.opts.MinSuccessRate
		if minRate <= 0 {
			minRate = DefaultMinSuccessRate
		}
		if c.stats.SuccessRate() < minRate {
			timeout := nonZero(c.opts.ConnectionTimeout, DefaultConnectionTimeout)
			if time.Since(c.stats.lastWakeAt()) > timeout {
				return newErr(c.url, ErrKindNotReady, "relay has a low success rate and hasn't reconnected recently")
			}
		}
	}
	maxLatency := nonZero(c.opts.MaxAvgLatency, DefaultMaxAvgLatency)
	if avg := c.stats.AverageLatency(); avg > maxLatency {
		return newErr(c.url, ErrKindNotReady, "relay average latency %s exceeds limit %s", avg, maxLatency)
	}
	return nil
}

func nonZero3(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}

func (c *Conn) enqueue(frame []byte, wait bool) error {
	if err := c.canSend(); err != nil {
		return err
	}
	msg := outboundMsg{frame: frame}
	if wait {
		msg.done = make(chan error, 1)
	}
	select {
	case c.outbound <- msg:
	default:
		return newErr(c.url, ErrKindNotReady, "outbound queue is full")
	}
	if wait {
		return <-msg.done
	}
	return nil
}
