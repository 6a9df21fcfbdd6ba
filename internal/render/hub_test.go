package render

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_SnapshotThenBroadcast(t *testing.T) {
	h := NewHub(func() []Message {
		return []Message{{Type: TypeSnapshot, LockID: "front", Data: map[string]any{"state": "locked"}}}
	}, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv)
	defer conn.Close()

	if msg := readMessage(t, conn); msg.Type != TypeSnapshot || msg.LockID != "front" {
		t.Errorf("first message = %+v, want snapshot", msg)
	}

	waitClients(t, h, 1)
	h.Broadcast(Message{Type: TypeVisual, LockID: "front", Data: map[string]any{"state": "unlocking"}})

	msg := readMessage(t, conn)
	if msg.Type != TypeVisual {
		t.Fatalf("message = %+v, want visual", msg)
	}
	data, _ := msg.Data.(map[string]any)
	if data["state"] != "unlocking" {
		t.Errorf("data = %v", msg.Data)
	}
}

func TestHub_Commands(t *testing.T) {
	got := make(chan Command, 1)
	h := NewHub(nil, func(cmd Command) { got <- cmd })
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv)
	defer conn.Close()

	if err := conn.WriteJSON(Command{Type: "tap", LockID: "front"}); err != nil {
		t.Fatal(err)
	}

	select {
	case cmd := <-got:
		if cmd.Type != "tap" || cmd.LockID != "front" {
			t.Errorf("command = %+v", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command not delivered")
	}
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	h := NewHub(nil, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, h, 1)

	conn.Close()
	waitClients(t, h, 0)

	// Broadcasting with no clients is a no-op.
	h.Broadcast(Message{Type: TypeVisual})
}
