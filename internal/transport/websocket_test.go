package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketDialerSendsBearerToken(t *testing.T) {
	upgrader := websocket.Upgrader{}
	authHeader := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader <- r.Header.Get("Authorization")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		// Echo a pong for every ping.
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			f, err := wire.Parse(data)
			if err != nil {
				return
			}
			reply, _ := wire.Encode(wire.EventAck, wire.Pong{Timestamp: time.Now()}, f.Ack)
			if err := c.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := WebSocketDialer{HandshakeTimeout: 2 * time.Second}
	conn, err := d.Dial(context.Background(), wsURL(srv), "secret")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "Bearer secret", <-authHeader)

	ping, _ := wire.Encode(wire.EventPing, wire.Ping{Timestamp: 1}, 9)
	require.NoError(t, conn.WriteMessage(ping))
	data, err := conn.ReadMessage()
	require.NoError(t, err)
	f, err := wire.Parse(data)
	require.NoError(t, err)
	assert.True(t, f.IsAck())
	assert.Equal(t, uint64(9), f.Ack)
}

func TestWebSocketDialerUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := WebSocketDialer{}.Dial(context.Background(), wsURL(srv), "bad")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
