package live

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/septivank/sensor-rollup/internal/mq"
	"go.uber.org/zap"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.Count(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubBroadcastsRunEvents(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	first, second := dial(t, srv), dial(t, srv)
	waitForClients(t, hub, 2)

	event := mq.RunCompletedEvent{RunID: "run-1", Period: "hour", Success: true, Rows: 7}
	if err := hub.NotifyRunCompleted(context.Background(), event); err != nil {
		t.Fatalf("NotifyRunCompleted failed: %v", err)
	}

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}

		var msg struct {
			Type string               `json:"type"`
			Data mq.RunCompletedEvent `json:"data"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("invalid payload %s: %v", payload, err)
		}
		if msg.Type != EventRunCompleted || msg.Data.RunID != "run-1" || msg.Data.Rows != 7 {
			t.Errorf("message = %+v", msg)
		}
	}
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	waitForClients(t, hub, 0)
	if n := hub.Broadcast([]byte(`{}`)); n != 0 {
		t.Errorf("Broadcast reached %d clients, want 0", n)
	}
}
