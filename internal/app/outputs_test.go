package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dokzlo13/lockd/internal/db"
	"github.com/dokzlo13/lockd/internal/gate"
	"github.com/dokzlo13/lockd/internal/ledger"
	"github.com/dokzlo13/lockd/internal/lock"
	"github.com/dokzlo13/lockd/internal/machine"
	"github.com/dokzlo13/lockd/internal/metrics"
	"github.com/dokzlo13/lockd/internal/render"
	"github.com/dokzlo13/lockd/internal/state"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "lockd.sqlite"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestOutputs_PersistAndRecord(t *testing.T) {
	database := openTestDB(t)
	l := ledger.New(database.DB)
	store := state.NewLockStore(state.NewStore(database.DB))
	m := metrics.New(prometheus.NewRegistry())

	o := NewOutputs(render.NewHub(nil, nil), m, nil, l, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	o.VisualStateChanged(machine.VisualState{
		LockID: "front", Entity: "lock.front", State: lock.StateLocking, Phase: lock.PhaseTransitioning, At: at,
	})
	o.VisualStateChanged(machine.VisualState{
		LockID: "front", Entity: "lock.front", State: lock.StateLocked, Phase: lock.PhaseIdle, LastStable: lock.StateLocked, At: at,
	})
	o.InteractionBlocked(machine.Blocked{LockID: "front", Reason: gate.ReasonDoor, At: at})
	o.RolledBack("front", lock.StateUnlockRequested, lock.StateLocked)
	o.Interaction("front", gate.Decision{Reason: gate.ReasonDebounce})
	o.Close()

	rec, ok, err := store.Get("front")
	if err != nil || !ok {
		t.Fatalf("Get() ok = %v, err = %v", ok, err)
	}
	if rec.Entity != "lock.front" || rec.LastStable != "locked" || rec.Visual != "locked" {
		t.Errorf("record = %+v", rec)
	}

	entries, err := l.GetByLock("front", 10)
	if err != nil {
		t.Fatal(err)
	}
	types := map[ledger.EventType]bool{}
	for _, e := range entries {
		types[e.EventType] = true
	}
	if !types[ledger.EventTapBlocked] || !types[ledger.EventRollback] {
		t.Errorf("ledger types = %v, want tap_blocked and rollback", types)
	}

	if got := testutil.ToFloat64(m.VisualTransitions.WithLabelValues("front", "locked")); got != 1 {
		t.Errorf("locked transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Rollbacks.WithLabelValues("front")); got != 1 {
		t.Errorf("rollbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Interactions.WithLabelValues("front", string(gate.ReasonDebounce))); got != 1 {
		t.Errorf("debounced interactions = %v, want 1", got)
	}
}
