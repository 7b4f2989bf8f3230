package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Conn is an established event-stream connection. WriteMessage and Close may
// be called concurrently with ReadMessage.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens event-stream connections.
type Dialer interface {
	Dial(ctx context.Context, url, credential string) (Conn, error)
}

// WebSocketDialer dials the event stream over a WebSocket, sending the
// credential as a bearer token on the upgrade request.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
}

func (d WebSocketDialer) Dial(ctx context.Context, url, credential string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  d.HandshakeTimeout,
		EnableCompression: true,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	c, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", url, ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsConn{conn: c}, nil
}

// wsConn serializes writes; gorilla connections support one concurrent
// reader and one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}
