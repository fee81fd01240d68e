package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Envelope is the wire frame: one logical event per message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

const writeTimeout = 10 * time.Second

// wsConn is one live socket. Writes are serialized by a mutex; the read
// loop is the only reader.
type wsConn struct {
	id     string
	user   string // empty for guests
	name   string
	rating int

	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  bool
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(event string, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return websocket.CloseError{Code: websocket.StatusGoingAway}
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, outEnvelope{Event: event, Data: payload})
}

func (c *wsConn) close(code websocket.StatusCode, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.Close(code, reason)
}
