// Package eventbus routes Home Assistant events to lock handlers through a
// bounded worker pool. Events for the same entity always land on the same
// worker, so handlers see each entity's updates in publish order.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeStateChanged EventType = "state_changed"
	EventTypeConnectivity EventType = "connectivity"
)

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event represents an event in the system
type Event struct {
	Type EventType
	Data map[string]any
}

// EntityID returns the "entity_id" field of the event data, if present
func (e Event) EntityID() string {
	id, _ := e.Data["entity_id"].(string)
	return id
}

// Handler is a function that handles events
type Handler func(Event)

// Publisher is implemented by Bus
type Publisher interface {
	Publish(event Event)
}

// work represents a unit of work for a worker
type work struct {
	event   Event
	handler Handler
}

// Bus provides event routing with a bounded, entity-sharded worker pool
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	// One queue per worker; queues are never closed
	queues []chan work
	next   atomic.Uint64
	wg     sync.WaitGroup

	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and
// per-worker queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}

	b := &Bus{
		handlers: make(map[EventType][]Handler),
		queues:   make([]chan work, workerCount),
		closing:  make(chan struct{}),
	}

	for i := range b.queues {
		b.queues[i] = make(chan work, queueSize)
		b.wg.Add(1)
		go b.worker(i, b.queues[i])
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

// worker runs handlers from its queue until the bus closes, then drains it
func (b *Bus) worker(id int, queue chan work) {
	defer b.wg.Done()

	for {
		select {
		case w := <-queue:
			b.run(id, w)
		case <-b.closing:
			for {
				select {
				case w := <-queue:
					b.run(id, w)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) run(id int, w work) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event_type", string(w.event.Type)).
				Str("entity_id", w.event.EntityID()).
				Int("worker", id).
				Msg("Event handler panicked")
		}
	}()
	w.handler(w.event)
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish sends an event to all subscribed handlers.
// Non-blocking: if the worker queue is full or the bus is closing, the event is dropped.
func (b *Bus) Publish(event Event) {
	if b.isClosing() {
		log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
		return
	}

	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()
	if len(handlers) == 0 {
		return
	}

	queue := b.queues[b.shard(event)]
	for _, handler := range handlers {
		select {
		case <-b.closing:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
			return
		case queue <- work{event: event, handler: handler}:
		default:
			log.Warn().
				Str("event_type", string(event.Type)).
				Str("entity_id", event.EntityID()).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// shard picks the worker for an event: by entity id when present, otherwise
// round-robin.
func (b *Bus) shard(event Event) int {
	n := uint64(len(b.queues))
	if id := event.EntityID(); id != "" {
		return int(xxhash.Sum64String(id) % n)
	}
	return int(b.next.Add(1) % n)
}

// Close stops accepting events and waits for workers to drain their queues.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		close(b.closing)
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}

// Clear removes all handlers
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = make(map[EventType][]Handler)
}

func (b *Bus) isClosing() bool {
	select {
	case <-b.closing:
		return true
	default:
		return false
	}
}
