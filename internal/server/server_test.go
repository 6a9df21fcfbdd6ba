package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dokzlo13/lockd/internal/actions"
	"github.com/dokzlo13/lockd/internal/gate"
	"github.com/dokzlo13/lockd/internal/ledger"
	"github.com/dokzlo13/lockd/internal/lock"
	"github.com/dokzlo13/lockd/internal/machine"
)

type fakeLocks struct {
	decisions map[string]gate.Decision
	holds     []string
}

func (f *fakeLocks) Interact(_ context.Context, id string, hold bool) (gate.Decision, error) {
	d, ok := f.decisions[id]
	if !ok {
		return gate.Decision{}, fmt.Errorf("lock %q: %w", id, ErrUnknownLock)
	}
	if hold {
		f.holds = append(f.holds, id)
	}
	return d, nil
}

func (f *fakeLocks) Status(_ context.Context, id string) (machine.Status, error) {
	if _, ok := f.decisions[id]; !ok {
		return machine.Status{}, ErrUnknownLock
	}
	return machine.Status{ID: id, Backend: lock.StateLocked}, nil
}

func (f *fakeLocks) List(context.Context) ([]machine.Status, error) {
	return []machine.Status{{ID: "back"}, {ID: "front"}}, nil
}

func newTestServer() (*fakeLocks, http.Handler) {
	locks := &fakeLocks{decisions: map[string]gate.Decision{
		"front": {Allowed: true, Action: actions.Action{Kind: actions.KindUnlock}},
		"back":  {Reason: gate.ReasonDoor},
	}}
	return locks, NewServer("127.0.0.1", 0, locks, nil).Handler()
}

func TestServer_Interactions(t *testing.T) {
	locks, h := newTestServer()

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   InteractionResponse
	}{
		{"tap allowed", http.MethodPost, "/locks/front/tap", http.StatusOK, InteractionResponse{Allowed: true, Action: "unlock"}},
		{"tap blocked", http.MethodPost, "/locks/back/tap", http.StatusConflict, InteractionResponse{Reason: gate.ReasonDoor}},
		{"hold allowed", http.MethodPost, "/locks/front/hold", http.StatusOK, InteractionResponse{Allowed: true, Action: "unlock"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var got InteractionResponse
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.wantBody {
				t.Errorf("body = %+v, want %+v", got, tt.wantBody)
			}
		})
	}

	if len(locks.holds) != 1 || locks.holds[0] != "front" {
		t.Errorf("holds = %v, want [front]", locks.holds)
	}
}

func TestServer_Errors(t *testing.T) {
	_, h := newTestServer()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodPost, "/locks/garage/tap", http.StatusNotFound},
		{http.MethodGet, "/locks/garage", http.StatusNotFound},
		{http.MethodGet, "/locks/front/tap", http.StatusMethodNotAllowed},
		{http.MethodPost, "/nothing/here", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestServer_Status(t *testing.T) {
	_, h := newTestServer()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/locks/front", nil))
	var status machine.Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.ID != "front" || status.Backend != lock.StateLocked {
		t.Errorf("status = %+v", status)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/locks", nil))
	var list []machine.Status
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("list = %+v", list)
	}
}

type fakeHistory struct {
	limits []int
}

func (f *fakeHistory) GetByLock(lockID string, limit int) ([]*ledger.Entry, error) {
	f.limits = append(f.limits, limit)
	return []*ledger.Entry{{ID: 2, EventType: ledger.EventTapBlocked, LockID: lockID}}, nil
}

func TestServer_History(t *testing.T) {
	locks, _ := newTestServer()
	history := &fakeHistory{}
	h := NewServer("127.0.0.1", 0, locks, nil).WithHistory(history).Handler()

	tests := []struct {
		path string
		want int
	}{
		{"/locks/front/history", http.StatusOK},
		{"/locks/front/history?limit=5", http.StatusOK},
		{"/locks/front/history?limit=100000", http.StatusOK},
		{"/locks/front/history?limit=zero", http.StatusBadRequest},
		{"/locks/garage/history", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	want := []int{defaultHistoryLimit, 5, maxHistoryLimit}
	if fmt.Sprint(history.limits) != fmt.Sprint(want) {
		t.Errorf("limits = %v, want %v", history.limits, want)
	}

	_, plain := newTestServer()
	rec := httptest.NewRecorder()
	plain.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/locks/front/history", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("history without ledger status = %d, want 404", rec.Code)
	}
}

func TestMatchPath(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    map[string]string
		ok      bool
	}{
		{"/locks/{id}/tap", "/locks/front/tap", map[string]string{"id": "front"}, true},
		{"/locks/{id}/tap", "/locks/front/tap/", map[string]string{"id": "front"}, true},
		{"/locks/{id}/tap", "/locks/front/hold", nil, false},
		{"/locks/{id}", "/locks/front/tap", nil, false},
		{"/locks", "/locks", map[string]string{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.path, func(t *testing.T) {
			got, ok := MatchPath(tt.pattern, tt.path)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("params = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("params[%s] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}
