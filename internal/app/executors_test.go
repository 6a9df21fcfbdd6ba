package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dokzlo13/lockd/internal/actions"
	"github.com/dokzlo13/lockd/internal/metrics"
	"github.com/dokzlo13/lockd/internal/render"
)

type serviceCall struct {
	domain, service string
	data            map[string]any
}

type fakeBackend struct {
	mu    sync.Mutex
	calls []serviceCall
	err   error
}

func (f *fakeBackend) CallService(_ context.Context, domain, service string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, serviceCall{domain, service, data})
	return f.err
}

func TestExecutors(t *testing.T) {
	backend := &fakeBackend{}
	reg := actions.NewRegistry()
	script := actions.ExecutorFunc(func(context.Context, actions.Request) error { return nil })
	if err := registerExecutors(reg, backend, script, render.NewHub(nil, nil)); err != nil {
		t.Fatalf("registerExecutors() error = %v", err)
	}

	tests := []struct {
		name    string
		action  actions.Action
		want    *serviceCall
		wantErr error
	}{
		{
			name:   "lock",
			action: actions.Action{Kind: actions.KindLock},
			want:   &serviceCall{"lock", "lock", map[string]any{"entity_id": "lock.front"}},
		},
		{
			name:   "unlock with code",
			action: actions.Action{Kind: actions.KindUnlock, Data: map[string]any{"code": "1234"}},
			want:   &serviceCall{"lock", "unlock", map[string]any{"entity_id": "lock.front", "code": "1234"}},
		},
		{
			name:   "call service targets other entity",
			action: actions.Action{Kind: actions.KindCallService, Service: "light.turn_on", Data: map[string]any{"entity_id": "light.porch"}},
			want:   &serviceCall{"light", "turn_on", map[string]any{"entity_id": "light.porch"}},
		},
		{
			name:    "call service without domain",
			action:  actions.Action{Kind: actions.KindCallService, Service: "turn_on"},
			wantErr: ErrInvalidService,
		},
		{
			name:   "more info",
			action: actions.Action{Kind: actions.KindMoreInfo},
		},
		{
			name:   "script",
			action: actions.Action{Kind: actions.KindScript, Script: "return"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend.calls = nil
			exec, ok := reg.Get(tt.action.Kind)
			if !ok {
				t.Fatalf("no executor for %s", tt.action.Kind)
			}

			err := exec.Execute(context.Background(), actions.Request{LockID: "front", Entity: "lock.front", Action: tt.action})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Execute() error = %v, want %v", err, tt.wantErr)
			}

			if tt.want == nil {
				if len(backend.calls) != 0 {
					t.Errorf("calls = %+v, want none", backend.calls)
				}
				return
			}
			if len(backend.calls) != 1 {
				t.Fatalf("calls = %+v, want one", backend.calls)
			}
			got := backend.calls[0]
			if got.domain != tt.want.domain || got.service != tt.want.service || len(got.data) != len(tt.want.data) {
				t.Errorf("call = %+v, want %+v", got, *tt.want)
			}
			for k, v := range tt.want.data {
				if got.data[k] != v {
					t.Errorf("data[%s] = %v, want %v", k, got.data[k], v)
				}
			}
		})
	}

	if _, ok := reg.Get(actions.KindToggle); ok {
		t.Error("toggle must be resolved before reaching the registry")
	}
}

func TestActionRunner(t *testing.T) {
	backend := &fakeBackend{err: errors.New("unavailable")}
	reg := actions.NewRegistry()
	script := actions.ExecutorFunc(func(context.Context, actions.Request) error { return nil })
	if err := registerExecutors(reg, backend, script, render.NewHub(nil, nil)); err != nil {
		t.Fatal(err)
	}

	m := metrics.New(prometheus.NewRegistry())
	runner := NewActionRunner(actions.NewInvoker(reg, nil), m)
	runner.Start(context.Background())

	runner.Submit(actions.Request{LockID: "front", Entity: "lock.front", Action: actions.Action{Kind: actions.KindLock}})
	runner.Submit(actions.Request{LockID: "front", Entity: "lock.front", Action: actions.Action{Kind: actions.KindMoreInfo}})
	runner.Wait()

	if got := testutil.ToFloat64(m.Actions.WithLabelValues("lock", "error")); got != 1 {
		t.Errorf("lock errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Actions.WithLabelValues("more-info", "success")); got != 1 {
		t.Errorf("more-info successes = %v, want 1", got)
	}
}
