// Package loop provides a single-goroutine work queue. Everything that touches
// a lock state machine runs through one Loop, which gives the machine the
// serialized, cooperative execution model it assumes.
package loop

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrLoopClosed is returned when the loop no longer accepts work.
var ErrLoopClosed = errors.New("loop closed")

// DefaultQueueSize is the work queue capacity used by New.
const DefaultQueueSize = 64

// Work is a unit of work executed on the loop goroutine.
type Work func(ctx context.Context)

// Loop executes queued work one item at a time on a single goroutine.
type Loop struct {
	name  string
	queue chan Work

	// Closing this channel signals senders to stop
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a loop with the default queue size.
func New(name string) *Loop {
	return NewWithSize(name, DefaultQueueSize)
}

// NewWithSize creates a loop with a custom queue size.
func NewWithSize(name string, queueSize int) *Loop {
	return &Loop{
		name:    name,
		queue:   make(chan Work, queueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Do queues work without blocking.
// Returns false if the loop is closing, the queue is full, or ctx is done.
func (l *Loop) Do(ctx context.Context, work Work) bool {
	if l.isClosing() {
		log.Warn().Str("loop", l.name).Msg("Loop closing, dropping work")
		return false
	}

	select {
	case <-l.closing:
		log.Warn().Str("loop", l.name).Msg("Loop closing, dropping work")
		return false
	case <-ctx.Done():
		log.Warn().Str("loop", l.name).Msg("Context cancelled, dropping work")
		return false
	case l.queue <- work:
		return true
	default:
		log.Warn().Str("loop", l.name).Msg("Loop queue full, dropping work")
		return false
	}
}

// Post queues a context-free callback, blocking until there is room or the
// loop closes. Timer callbacks use this so they are never silently dropped.
func (l *Loop) Post(fn func()) {
	if l.isClosing() {
		return
	}

	select {
	case <-l.closing:
	case l.queue <- func(context.Context) { fn() }:
	}
}

// DoSyncWithResult queues work and waits for it to finish.
func (l *Loop) DoSyncWithResult(ctx context.Context, work func(context.Context) error) error {
	result := make(chan error, 1)
	wrapped := Work(func(c context.Context) {
		result <- work(c)
	})

	if l.isClosing() {
		return ErrLoopClosed
	}

	select {
	case <-l.closing:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	case l.queue <- wrapped:
	}

	select {
	case <-l.closing:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-result:
		return err
	}
}

// Run processes work until ctx is cancelled or Close is called.
// It is the only goroutine that executes queued work.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			l.drain(ctx)
			return
		case <-l.closing:
			l.drain(ctx)
			return
		case work := <-l.queue:
			l.execute(ctx, work)
		}
	}
}

// Close stops accepting work. Run drains what is already queued, then exits.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.closing)
	})
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) isClosing() bool {
	select {
	case <-l.closing:
		return true
	default:
		return false
	}
}

func (l *Loop) drain(ctx context.Context) {
	for {
		select {
		case work := <-l.queue:
			l.execute(ctx, work)
		default:
			return
		}
	}
}

// execute runs a single work item with panic recovery
func (l *Loop) execute(ctx context.Context, work Work) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Str("loop", l.name).
				Msg("Loop work panicked - worker continuing")
		}
	}()
	work(ctx)
}
