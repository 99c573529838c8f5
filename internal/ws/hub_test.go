package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) WSEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev WSEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubReplaysLastAndBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer srv.Close()

	hub.BroadcastEvent("session_update", map[string]string{"state": "connecting"})

	conn := dial(t, srv.URL)
	ev := readEvent(t, conn)
	assert.Equal(t, "session_update", ev.Type)
	assert.Equal(t, map[string]any{"state": "connecting"}, ev.Data)

	hub.BroadcastEvent("session_update", map[string]string{"state": "connected"})
	ev = readEvent(t, conn)
	assert.Equal(t, map[string]any{"state": "connected"}, ev.Data)
}

func TestFollow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer srv.Close()
	conn := dial(t, srv.URL)

	updates := make(chan string, 1)
	done := make(chan struct{})
	go func() {
		Follow(ctx, hub, updates, func(s string) any { return map[string]string{"state": s} })
		close(done)
	}()

	// A client registered after the update still gets it replayed.
	updates <- "connected"
	ev := readEvent(t, conn)
	assert.Equal(t, map[string]any{"state": "connected"}, ev.Data)

	close(updates)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Follow did not return after updates closed")
	}
}
