package homeassistant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dokzlo13/lockd/internal/eventbus"
)

type fakeHA struct {
	token  string
	states []EntityState

	mu    sync.Mutex
	calls []command
}

var upgrader = websocket.Upgrader{}

func (f *fakeHA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.WriteJSON(map[string]any{"type": typeAuthRequired, "ha_version": "2025.1.0"})

	var auth authMessage
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != f.token {
		conn.WriteJSON(map[string]any{"type": typeAuthInvalid, "message": "Invalid access token"})
		return
	}
	conn.WriteJSON(map[string]any{"type": typeAuthOK, "ha_version": "2025.1.0"})

	for {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}

		switch cmd.Type {
		case typeSubscribe:
			conn.WriteJSON(map[string]any{"id": cmd.ID, "type": typeResult, "success": true})
			conn.WriteJSON(map[string]any{
				"id":   cmd.ID,
				"type": typeEvent,
				"event": map[string]any{
					"event_type": eventStateChanged,
					"data": map[string]any{
						"entity_id": "lock.front",
						"new_state": map[string]any{"entity_id": "lock.front", "state": "locking"},
					},
				},
			})

		case typeGetStates:
			conn.WriteJSON(map[string]any{"id": cmd.ID, "type": typeResult, "success": true, "result": f.states})

		case typeCallService:
			f.mu.Lock()
			f.calls = append(f.calls, cmd)
			f.mu.Unlock()

			if cmd.Service == "explode" {
				conn.WriteJSON(map[string]any{
					"id": cmd.ID, "type": typeResult, "success": false,
					"error": map[string]any{"code": "service_not_found", "message": "Service not found."},
				})
				continue
			}
			conn.WriteJSON(map[string]any{"id": cmd.ID, "type": typeResult, "success": true})
		}
	}
}

type busRecorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *busRecorder) Publish(e eventbus.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *busRecorder) states() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]string)
	for _, e := range b.events {
		if e.Type == eventbus.EventTypeStateChanged {
			out[e.EntityID()+"/"+boolString(e.Data["initial"])], _ = e.Data["state"].(string)
		}
	}
	return out
}

func boolString(v any) string {
	if b, _ := v.(bool); b {
		return "initial"
	}
	return "change"
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClient_StatesAndServiceCalls(t *testing.T) {
	ha := &fakeHA{
		token: "secret",
		states: []EntityState{
			{EntityID: "lock.front", State: "unlocked"},
			{EntityID: "sensor.front_battery", State: "87"},
		},
	}
	srv := httptest.NewServer(ha)
	defer srv.Close()

	bus := &busRecorder{}
	c := New(Config{URL: wsURL(srv), Token: "secret", Timeout: 2 * time.Second}, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "states", func() bool { return len(bus.states()) == 3 })
	states := bus.states()
	if states["lock.front/initial"] != "unlocked" || states["lock.front/change"] != "locking" || states["sensor.front_battery/initial"] != "87" {
		t.Errorf("states = %v", states)
	}

	waitFor(t, "connection", c.Connected)
	if err := c.CallService(ctx, "lock", "lock", map[string]any{"entity_id": "lock.front"}); err != nil {
		t.Fatalf("CallService() error = %v", err)
	}

	err := c.CallService(ctx, "lock", "explode", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "service_not_found" {
		t.Errorf("CallService(explode) error = %v", err)
	}

	ha.mu.Lock()
	calls := append([]command(nil), ha.calls...)
	ha.mu.Unlock()
	if len(calls) != 2 || calls[0].Domain != "lock" || calls[0].ServiceData["entity_id"] != "lock.front" {
		t.Errorf("calls = %+v", calls)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if err := c.CallService(context.Background(), "lock", "lock", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("CallService after stop error = %v, want ErrNotConnected", err)
	}
}

func TestClient_AuthFailureExhaustsReconnects(t *testing.T) {
	srv := httptest.NewServer(&fakeHA{token: "secret"})
	defer srv.Close()

	c := New(Config{
		URL:           wsURL(srv),
		Token:         "wrong",
		MinBackoff:    10 * time.Millisecond,
		MaxBackoff:    20 * time.Millisecond,
		MaxReconnects: 1,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Run(ctx); !errors.Is(err, ErrMaxReconnectsExceeded) {
		t.Errorf("Run() error = %v, want ErrMaxReconnectsExceeded", err)
	}
}
