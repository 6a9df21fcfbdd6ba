package eventbus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestBus_DeliversToSubscribers(t *testing.T) {
	b := NewWithConfig(2, 10)
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)

	var mu sync.Mutex
	var got []string
	handler := func(e Event) {
		mu.Lock()
		got = append(got, e.EntityID())
		mu.Unlock()
		wg.Done()
	}
	b.Subscribe(EventTypeStateChanged, handler)
	b.Subscribe(EventTypeStateChanged, handler)
	b.Subscribe(EventTypeConnectivity, func(Event) { t.Error("wrong type delivered") })

	b.Publish(Event{Type: EventTypeStateChanged, Data: map[string]any{"entity_id": "lock.front"}})

	waitTimeout(t, &wg)
	if len(got) != 2 || got[0] != "lock.front" {
		t.Errorf("got %v", got)
	}
}

func TestBus_HandlerPanicDoesNotKillWorker(t *testing.T) {
	b := NewWithConfig(1, 10)
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	calls := 0
	b.Subscribe(EventTypeConnectivity, func(Event) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		wg.Done()
	})

	b.Publish(Event{Type: EventTypeConnectivity})
	b.Publish(Event{Type: EventTypeConnectivity})

	waitTimeout(t, &wg)
}

func TestBus_PublishAfterCloseDrops(t *testing.T) {
	b := NewWithConfig(1, 1)
	b.Subscribe(EventTypeStateChanged, func(Event) { t.Error("handler ran after close") })
	b.Close(context.Background())

	b.Publish(Event{Type: EventTypeStateChanged})
}

func TestBus_PreservesPerEntityOrder(t *testing.T) {
	b := NewWithConfig(4, 100)
	defer b.Close(context.Background())

	const perEntity = 20
	entities := []string{"lock.front", "lock.back", "binary_sensor.door"}

	var wg sync.WaitGroup
	wg.Add(perEntity * len(entities))

	var mu sync.Mutex
	seen := make(map[string][]int)
	b.Subscribe(EventTypeStateChanged, func(e Event) {
		mu.Lock()
		seen[e.EntityID()] = append(seen[e.EntityID()], e.Data["seq"].(int))
		mu.Unlock()
		wg.Done()
	})

	for i := 0; i < perEntity; i++ {
		for _, id := range entities {
			b.Publish(Event{Type: EventTypeStateChanged, Data: map[string]any{"entity_id": id, "seq": i}})
		}
	}

	waitTimeout(t, &wg)
	for _, id := range entities {
		got := seen[id]
		for i, seq := range got {
			if seq != i {
				t.Errorf("%s order = %v", id, fmt.Sprint(got))
				break
			}
		}
	}
}

func TestBus_CloseDrainsQueued(t *testing.T) {
	b := NewWithConfig(1, 10)

	var mu sync.Mutex
	count := 0
	b.Subscribe(EventTypeStateChanged, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: EventTypeStateChanged, Data: map[string]any{"entity_id": "lock.front"}})
	}
	b.Close(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Errorf("handled = %d, want 5", count)
	}
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}
