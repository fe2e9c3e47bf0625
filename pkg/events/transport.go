package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 5 * time.Second
	readWait         = 90 * time.Second
)

// Conn is one live push-stream connection. Implementations must be
// safe for one reader plus concurrent Ping calls.
type Conn interface {
	// ReadEvent blocks until the next event frame arrives.
	ReadEvent() (*Event, error)

	// Ping sends the client keepalive frame.
	Ping() error

	// Close tears the connection down.
	Close() error
}

// Dialer opens a Conn. The stream uses it for every (re)connect, which
// lets tests inject a scripted transport.
type Dialer func(ctx context.Context, url string) (Conn, error)

// DialWebSocket is the production dialer, connecting to the bridge's
// /ws/events endpoint with gorilla/websocket.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	ws.SetReadDeadline(time.Now().Add(readWait))
	return &wsConn{ws: ws}, nil
}

// wsConn adapts a gorilla connection to the Conn interface.
type wsConn struct {
	ws *websocket.Conn
}

// ReadEvent reads frames until a real event arrives. The bridge's
// {type:"pong"} keepalive replies are consumed here and never reach
// subscribers.
func (c *wsConn) ReadEvent() (*Event, error) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		c.ws.SetReadDeadline(time.Now().Add(readWait))

		ev, err := parseFrame(raw)
		if err != nil {
			// Non-event noise on the stream is skipped, not fatal.
			continue
		}
		if ev.Type == "pong" {
			continue
		}
		return ev, nil
	}
}

// Ping sends the bridge's JSON keepalive, not a WS control frame: the
// bridge answers {type:"pong", timestamp} on the data channel.
func (c *wsConn) Ping() error {
	msg, _ := json.Marshal(map[string]string{"type": "ping"})
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

// Close closes the underlying websocket.
func (c *wsConn) Close() error {
	return c.ws.Close()
}
