package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nostrcore/relaypool/nostr"
)

// runIngester handles work that must not block the reader goroutine:
// signing and sending the NIP-42 AUTH response, and waiting for its OK.
func (c *Conn) runIngester(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case cmd := <-c.ingestCh:
			c.authenticate(ctx, cmd.challenge)
		}
	}
}

func (c *Conn) authenticate(ctx context.Context, challenge string) {
	if c.shared.Signer == nil {
		return
	}
	e, err := nostr.NewBuilder(nostr.KindAuthRequest).
		Tag(nostr.Tag{"relay", string(c.url)}).
		Tag(nostr.Tag{"challenge", challenge}).
		Build(ctx, c.shared.Signer)
	if err != nil {
		c.log.Warnf("auth: build failed: %v", err)
		return
	}

	frame, err := encodeAuthMsg(&e)
	if err != nil {
		c.log.Warnf("auth: encode failed: %v", err)
		return
	}

	wait := c.registerWaiter(e.ID)
	defer c.forgetWaiter(e.ID)

	select {
	case c.outbound <- outboundMsg{frame: frame}:
	default:
		c.log.Warnf("auth: outbound queue full")
		return
	}

	timeout := nonZero(c.opts.AuthWaitTimeout, DefaultAuthWaitTimeout)
	select {
	case res := <-wait:
		if !res.ok {
			c.log.Warnf("auth: rejected: %s", res.message)
			return
		}
		c.resubscribeAll()
	case <-time.After(timeout):
		c.log.Warnf("auth: timed out waiting for OK")
	case <-c.terminate:
	}
}

func (c *Conn) registerWaiter(id nostr.ID) chan okResult {
	ch := make(chan okResult, 1)
	c.waitersMu.Lock()
	c.waiters[id] = ch
	c.waitersMu.Unlock()
	return ch
}

func (c *Conn) forgetWaiter(id nostr.ID) {
	c.waitersMu.Lock()
	delete(c.waiters, id)
	c.waitersMu.Unlock()
}

func (c *Conn) resubscribeAll() {
	c.subsMu.RLock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subsMu.RUnlock()
	for _, s := range subs {
		frame, err := encodeReqMsg(s.ID, s.Filters)
		if err != nil {
			continue
		}
		_ = c.enqueue(frame, false)
	}
}

// Publish sends an EVENT and waits for the relay's OK, honoring the
// health-check predicate before sending anything.
func (c *Conn) Publish(ctx context.Context, e *nostr.Event) error {
	if !c.opts.Capabilities.Has(Write) {
		return newErr(c.url, ErrKindWriteDisabled, "relay is read-only")
	}
	if err := c.canSend(); err != nil {
		return err
	}
	frame, err := encodeEventMsg(e)
	if err != nil {
		return newErr(c.url, ErrKindTransport, "encode event: %v", err)
	}
	if len(frame) > nonZero2(c.opts.MaxMessageSize, DefaultMaxMessageSize) {
		return newErr(c.url, ErrKindEventTooLarge, "event exceeds max message size")
	}

	wait := c.registerWaiter(e.ID)
	defer c.forgetWaiter(e.ID)

	if err := c.enqueue(frame, false); err != nil {
		return err
	}

	timeout := nonZero(c.opts.OKWaitTimeout, DefaultOKWaitTimeout)
	select {
	case res := <-wait:
		if !res.ok {
			return newErr(c.url, ErrKindRelayMessage, "%s", res.message)
		}
		return nil
	case <-time.After(timeout):
		return newErr(c.url, ErrKindTimeout, "timed out waiting for OK on %s", e.ID)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.terminate:
		return newErr(c.url, ErrKindNotConnected, "connection terminated")
	}
}

// Subscribe opens a REQ subscription and registers it locally so
// inbound EVENT/EOSE/CLOSED messages route to it.
func (c *Conn) Subscribe(ctx context.Context, id string, filters []nostr.Filter, auto *ExitPolicy) (*Subscription, error) {
	if !c.opts.Capabilities.Has(Read) {
		return nil, newErr(c.url, ErrKindReadDisabled, "relay is write-only")
	}
	if err := c.canSend(); err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("relay: subscribe requires at least one filter")
	}
	for i := range filters {
		if len(filters[i].IDs) > nonZero2(c.opts.MaxFilterIDs, DefaultMaxFilterIDs) {
			return nil, newErr(c.url, ErrKindTooManyEvents, "filter has too many ids")
		}
	}

	sub := newSubscription(id, filters, auto)
	c.subsMu.Lock()
	c.subs[id] = sub
	c.subsMu.Unlock()

	frame, err := encodeReqMsg(id, filters)
	if err != nil {
		c.removeSubscription(id)
		return nil, newErr(c.url, ErrKindTransport, "encode req: %v", err)
	}
	if err := c.enqueue(frame, false); err != nil {
		c.removeSubscription(id)
		return nil, err
	}
	return sub, nil
}

// Unsubscribe sends CLOSE and removes the local subscription record.
func (c *Conn) Unsubscribe(subID string) error {
	c.removeSubscription(subID)
	frame, err := encodeCloseMsg(subID)
	if err != nil {
		return newErr(c.url, ErrKindTransport, "encode close: %v", err)
	}
	return c.enqueue(frame, false)
}

// Count sends a COUNT request; the numeric result arrives later as a
// Message notification on the shared bus, since COUNT has no dedicated
// waiter channel in the wire protocol.
func (c *Conn) Count(subID string, f *nostr.Filter) error {
	if err := c.canSend(); err != nil {
		return err
	}
	frame, err := encodeCountMsg(subID, f)
	if err != nil {
		return newErr(c.url, ErrKindTransport, "encode count: %v", err)
	}
	return c.enqueue(frame, false)
}

// --- negentropy session plumbing (driven by the pool package) ---

// OpenNegentropy starts a NEG-OPEN exchange and registers handler to
// receive every NEG-MSG/NEG-ERR reply for subID until CloseNegentropy is
// called.
func (c *Conn) OpenNegentropy(subID string, f *nostr.Filter, initialHex string, handler func(Inbound)) error {
	if err := c.canSend(); err != nil {
		return err
	}
	c.negMu.Lock()
	c.negHandlers[subID] = handler
	c.negMu.Unlock()

	frame, err := encodeNegOpenMsg(subID, f, initialHex)
	if err != nil {
		c.forgetNegHandler(subID)
		return newErr(c.url, ErrKindTransport, "encode neg-open: %v", err)
	}
	if err := c.enqueue(frame, false); err != nil {
		c.forgetNegHandler(subID)
		return err
	}
	return nil
}

// SendNegentropyMsg continues an open negentropy exchange with the next
// reconciliation payload.
func (c *Conn) SendNegentropyMsg(subID, hexMsg string) error {
	frame, err := encodeNegMsgMsg(subID, hexMsg)
	if err != nil {
		return newErr(c.url, ErrKindTransport, "encode neg-msg: %v", err)
	}
	return c.enqueue(frame, false)
}

// CloseNegentropy ends a negentropy exchange and forgets its handler.
func (c *Conn) CloseNegentropy(subID string) error {
	c.forgetNegHandler(subID)
	frame, err := encodeNegCloseMsg(subID)
	if err != nil {
		return newErr(c.url, ErrKindTransport, "encode neg-close: %v", err)
	}
	return c.enqueue(frame, false)
}

func (c *Conn) forgetNegHandler(subID string) {
	c.negMu.Lock()
	delete(c.negHandlers, subID)
	c.negMu.Unlock()
}
