package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/data"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(discard())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func serve(t *testing.T, hub *Hub) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(hub, conn)
		c.Queue([]byte(`{"type":"hello"}`))
		if !hub.Register(c) {
			conn.Close()
			return
		}
		go c.WritePump()
		go c.ReadPump()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestBroadcastReachesClient(t *testing.T) {
	hub, _ := startHub(t)
	conn, _, err := websocket.DefaultDialer.Dial(serve(t, hub), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "hello", readMessage(t, conn).Type)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	hub.BroadcastAlert(data.Alert{ID: 7, Message: "Humedad baja"})
	m := readMessage(t, conn)
	assert.Equal(t, TypeAlert, m.Type)
	assert.Equal(t, 7.0, m.Payload.(map[string]any)["id"])

	hub.BroadcastSnapshot(map[string]any{"isLive": true})
	assert.Equal(t, TypeSnapshot, readMessage(t, conn).Type)
}

func TestClosedConnectionUnregisters(t *testing.T) {
	hub, _ := startHub(t)
	conn, _, err := websocket.DefaultDialer.Dial(serve(t, hub), nil)
	require.NoError(t, err)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSlowClientIsDropped(t *testing.T) {
	hub, _ := startHub(t)
	slow := &Client{ID: "slow", Hub: hub, Send: make(chan []byte)}
	require.True(t, hub.Register(slow))
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	hub.BroadcastAlert(data.Alert{ID: 1})
	require.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-slow.Send
	assert.False(t, open)
}

func TestStoppedHubRejectsClients(t *testing.T) {
	hub, cancel := startHub(t)
	cancel()
	require.Eventually(t, func() bool {
		return !hub.Register(&Client{ID: "late", Hub: hub, Send: make(chan []byte, 1)})
	}, time.Second, 5*time.Millisecond)

	// publishing after stop must not block
	hub.BroadcastSnapshot(nil)
}

func TestEncode(t *testing.T) {
	raw, err := Encode(TypeSnapshot, map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"snapshot","payload":{"a":1}}`, string(raw))
}
