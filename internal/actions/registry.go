package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Request is a resolved action ready to run against a lock.
type Request struct {
	LockID string
	Entity string
	Action Action
	// Trigger is "tap" or "hold".
	Trigger string
	At      time.Time
	// IdempotencyKey dedupes execution through the ledger. Empty disables dedupe.
	IdempotencyKey string
}

// Executor runs one kind of action
type Executor interface {
	Execute(ctx context.Context, req Request) error
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, req Request) error

func (f ExecutorFunc) Execute(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// Registry maps action kinds to executors
type Registry struct {
	mu        sync.RWMutex
	executors map[Kind]Executor
}

// NewRegistry creates a new executor registry
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[Kind]Executor),
	}
}

// Register adds an executor for a kind
func (r *Registry) Register(kind Kind, exec Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[kind]; exists {
		return fmt.Errorf("executor for %q already registered", kind)
	}

	r.executors[kind] = exec
	return nil
}

// RegisterFunc adds an executor function (convenience method)
func (r *Registry) RegisterFunc(kind Kind, fn func(ctx context.Context, req Request) error) error {
	return r.Register(kind, ExecutorFunc(fn))
}

// Get retrieves the executor for a kind
func (r *Registry) Get(kind Kind) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, exists := r.executors[kind]
	return exec, exists
}

// Kinds returns all registered kinds, sorted
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.executors))
	for kind := range r.executors {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
