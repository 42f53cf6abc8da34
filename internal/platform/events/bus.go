// Package events is a synchronous, in-process domain event bus. Handlers run
// inside the publisher's transaction, in subscription order, and a handler
// error aborts the publish so the enclosing transaction rolls back.
package events

import (
	"context"
	"fmt"
	"sync"
)

// Event is implemented by every domain event.
type Event interface {
	Topic() string
}

// Handler reacts to one event.
type Handler func(ctx context.Context, evt Event) error

type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers h for topic.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish delivers evt to every handler of its topic and stops at the first error.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[evt.Topic()]...)
	b.mu.RUnlock()

	for _, h := range hs {
		if err := h(ctx, evt); err != nil {
			return fmt.Errorf("handle %s: %w", evt.Topic(), err)
		}
	}
	return nil
}
