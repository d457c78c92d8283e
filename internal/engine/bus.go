package engine

import (
	"sync"

	"github.com/desertthunder/cutline/internal/models"
)

// Handler receives events for one kind.
type Handler = func(models.Event)

// Bus is an in-process publish/subscribe channel keyed by [models.EventKind].
//
// Handlers run synchronously on the publishing goroutine and must not block.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[models.EventKind]map[int]Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[models.EventKind]map[int]Handler)}
}

// Subscribe registers h for events of kind and returns a function that removes it.
//
// The returned function is safe to call more than once.
func (b *Bus) Subscribe(kind models.EventKind, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[int]Handler)
	}
	b.handlers[kind][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[kind], id)
		})
	}
}

// Publish delivers ev to every handler subscribed to ev.Kind.
func (b *Bus) Publish(ev models.Event) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[ev.Kind]))
	for _, h := range b.handlers[ev.Kind] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}

// Subscribers returns the number of handlers registered for kind.
func (b *Bus) Subscribers(kind models.EventKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}
