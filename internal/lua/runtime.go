// Package lua runs script actions on a single gopher-lua VM.
package lua

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lockd/internal/actions"
	"github.com/dokzlo13/lockd/internal/loop"
	"github.com/dokzlo13/lockd/internal/lua/modules"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = errors.New("lua runtime closed")

// ErrEmptyScript is returned for a script action without source.
var ErrEmptyScript = errors.New("script action has no source")

// Runtime owns one LState. All Lua execution goes through its loop, which is
// the only goroutine that touches the VM.
type Runtime struct {
	L    *lua.LState
	loop *loop.Loop

	// Set only on the loop goroutine while a script runs
	current modules.Invocation
}

// NewRuntime creates a runtime whose scripts call services through caller.
func NewRuntime(caller modules.ServiceCaller) *Runtime {
	r := &Runtime{
		L:    lua.NewState(),
		loop: loop.NewWithSize("lua", 100),
	}

	current := func() modules.Invocation { return r.current }
	r.L.PreloadModule("log", modules.NewLogModule(func() map[string]string {
		return map[string]string{"lock_id": r.current.LockID}
	}).Loader)
	r.L.PreloadModule("lock", modules.NewLockModule(caller, current).Loader)

	return r
}

// Run executes queued scripts until ctx is cancelled or Close is called.
func (r *Runtime) Run(ctx context.Context) {
	r.loop.Run(ctx)
}

// Close stops accepting scripts and, once the loop has drained, closes the VM.
func (r *Runtime) Close() {
	r.loop.Close()
	go func() {
		<-r.loop.Done()
		r.L.Close()
	}()
}

// Execute implements actions.Executor for script actions.
func (r *Runtime) Execute(ctx context.Context, req actions.Request) error {
	if req.Action.Script == "" {
		return ErrEmptyScript
	}

	err := r.loop.DoSyncWithResult(ctx, func(c context.Context) error {
		r.current = modules.Invocation{
			LockID:  req.LockID,
			Entity:  req.Entity,
			Trigger: req.Trigger,
			Data:    req.Action.Data,
		}
		defer func() { r.current = modules.Invocation{} }()

		r.L.SetContext(c)
		defer r.L.RemoveContext()

		log.Debug().Str("lock_id", req.LockID).Str("trigger", req.Trigger).Msg("Running script action")
		if err := r.L.DoString(req.Action.Script); err != nil {
			return fmt.Errorf("script for %s: %w", req.LockID, err)
		}
		return nil
	})
	if errors.Is(err, loop.ErrLoopClosed) {
		return ErrRuntimeClosed
	}
	return err
}
