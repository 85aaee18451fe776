package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
}

func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers: got %d, want %d", hub.SubscriberCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastReachesSubscriber(t *testing.T) {
	hub := newTestHub()
	conn := dialTestHub(t, hub)
	waitForSubscribers(t, hub, 1)

	hub.Broadcast(StreamUpdate{
		StreamKey:    "cam1",
		IsActive:     true,
		VideoCodec:   "h264",
		VideoBitrate: 2500000,
		Timestamp:    time.Now().UnixMilli(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got StreamUpdate
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.StreamKey != "cam1" || !got.IsActive || got.VideoBitrate != 2500000 {
		t.Errorf("unexpected update: %+v", got)
	}
}

func TestHub_TerminalUpdateZeroFields(t *testing.T) {
	hub := newTestHub()
	conn := dialTestHub(t, hub)
	waitForSubscribers(t, hub, 1)

	hub.Broadcast(StreamUpdate{StreamKey: "cam1", IsActive: false, Timestamp: time.Now().UnixMilli()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got StreamUpdate
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.IsActive || got.VideoBitrate != 0 || got.FrameRate != 0 || got.Resolution != "" {
		t.Errorf("terminal update should have zeroed fields: %+v", got)
	}
}

func TestHub_DisconnectedSubscriberRemoved(t *testing.T) {
	hub := newTestHub()
	conn := dialTestHub(t, hub)
	waitForSubscribers(t, hub, 1)

	conn.Close()
	waitForSubscribers(t, hub, 0)

	// Broadcast after disconnect must not fail or block.
	hub.Broadcast(StreamUpdate{StreamKey: "cam1", IsActive: true})
}
