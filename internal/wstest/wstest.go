// Package wstest runs a real WebSocket relay over httptest.Server so
// relay and pool tests exercise gorilla/websocket end to end instead of
// a hand-rolled transport double.
package wstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Relay is a scriptable mock Nostr relay. Tests set Handler to decide
// how to respond to each inbound frame; the zero Handler accepts
// everything silently (no OK, no echo), which is enough for connection-
// and ping-level tests.
type Relay struct {
	srv     *httptest.Server
	Handler func(conn *ClientConn, frame []byte)

	mu      sync.Mutex
	clients map[*ClientConn]struct{}
}

// ClientConn is one accepted WebSocket connection on the mock relay
// side.
type ClientConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Send writes a raw text frame to the client.
func (c *ClientConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// SendJSON marshals parts as a JSON array and sends it, mirroring the
// client-side wire encoders in relay/message.go.
func (c *ClientConn) SendJSON(parts ...interface{}) error {
	b, err := json.Marshal(parts)
	if err != nil {
		return err
	}
	return c.Send(b)
}

// Close closes this one connection from the relay side, simulating an
// abrupt disconnect.
func (c *ClientConn) Close() error {
	return c.ws.Close()
}

// New starts a mock relay listening on an ephemeral local port.
func New() *Relay {
	r := &Relay{clients: make(map[*ClientConn]struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("/", r.serveWS)
	r.srv = httptest.NewServer(mux)
	return r
}

func (r *Relay) serveWS(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	c := &ClientConn{ws: ws}
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.clients, c)
		r.mu.Unlock()
		ws.Close()
	}()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if r.Handler != nil {
			r.Handler(c, data)
		}
	}
}

// WSURL returns the relay's address as a ws:// URL suitable for
// wsconn.Dial / relay.NewConn.
func (r *Relay) WSURL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

// DisconnectAll abruptly closes every currently accepted connection
// without shutting down the relay itself, simulating a relay-side drop
// that the client must reconnect from.
func (r *Relay) DisconnectAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		c.ws.Close()
	}
}

// Close shuts down the relay and every accepted connection.
func (r *Relay) Close() {
	r.mu.Lock()
	for c := range r.clients {
		c.ws.Close()
	}
	r.mu.Unlock()
	r.srv.Close()
}

// Broadcast sends frame to every currently connected client, used by
// tests to simulate a relay pushing an unsolicited EVENT/NOTICE.
func (r *Relay) Broadcast(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		_ = c.Send(frame)
	}
}
