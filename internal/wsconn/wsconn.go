// Package wsconn adapts github.com/gorilla/websocket to the narrow
// duplex frame-stream contract relay.Conn needs, so the per-relay state
// machine can depend on an interface instead of a concrete websocket
// library.
package wsconn

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn that relay.Conn depends on.
// Test doubles (see internal/wstest) can satisfy it without a real
// socket if a future test needs byte-level fault injection; today's
// tests run a real gorilla/websocket server instead.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

var dialer = websocket.Dialer{
	Proxy:            http.ProxyFromEnvironment,
	HandshakeTimeout: 45 * time.Second,
}

// Dial opens a WebSocket connection to url, honoring ctx's deadline for
// the handshake.
func Dial(ctx context.Context, url string, handshakeTimeout time.Duration) (Conn, *http.Response, error) {
	d := dialer
	if handshakeTimeout > 0 {
		d.HandshakeTimeout = handshakeTimeout
	}
	c, resp, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, resp, err
	}
	return c, resp, nil
}

const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
	PingMessage   = websocket.PingMessage
	PongMessage   = websocket.PongMessage
	CloseMessage  = websocket.CloseMessage
)

// IsUnexpectedClose reports whether err represents an abnormal close
// worth logging rather than a routine shutdown.
func IsUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
