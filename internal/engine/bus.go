package engine

import (
	"sort"
	"sync"

	"github.com/sessionlens/sessionlens/internal/bridge"
)

// eventBus is the in-process pub/sub fabric behind the engine's event
// streams. Handlers are invoked synchronously in registration order.
type eventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]bridge.Handler
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[string]map[int]bridge.Handler)}
}

// subscribe registers a handler for the named stream and returns its
// disposer.
func (b *eventBus) subscribe(event string, h bridge.Handler) bridge.Disposable {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	handlers, ok := b.subs[event]
	if !ok {
		handlers = make(map[int]bridge.Handler)
		b.subs[event] = handlers
	}
	handlers[id] = h

	return bridge.Once(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[event], id)
	})
}

// publish delivers an event to every handler registered on the stream.
// The handler set is snapshotted so a handler disposing itself (or
// registering others) during delivery cannot deadlock. The snapshot
// means a handler disposed mid-publish may still receive that event.
func (b *eventBus) publish(event string, ev bridge.Event) {
	b.mu.Lock()
	handlers := make([]bridge.Handler, 0, len(b.subs[event]))
	ids := make([]int, 0, len(b.subs[event]))
	for id := range b.subs[event] {
		ids = append(ids, id)
	}
	// Registration order keeps delivery deterministic.
	sort.Ints(ids)
	for _, id := range ids {
		handlers = append(handlers, b.subs[event][id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
