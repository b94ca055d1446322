package engine

import (
	"sync"
	"time"
)

// SubscriberID identifies an EventBus subscription.
type SubscriberID uint64

type busSubscriber struct {
	id    SubscriberID
	fn    func(Event)
	types map[EventType]bool // nil means all types
}

// EventBus fans engine events out to subscribers. Handlers run
// synchronously on the emitting goroutine and must not block.
type EventBus struct {
	mu     sync.RWMutex
	subs   []busSubscriber
	nextID SubscriberID
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers fn for every event.
func (b *EventBus) Subscribe(fn func(Event)) SubscriberID {
	return b.SubscribeTypes(fn)
}

// SubscribeTypes registers fn for the listed event types only. With no
// types it receives everything.
func (b *EventBus) SubscribeTypes(fn func(Event), types ...EventType) SubscriberID {
	var filter map[EventType]bool
	if len(types) > 0 {
		filter = make(map[EventType]bool, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, busSubscriber{id: b.nextID, fn: fn, types: filter})
	return b.nextID
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *EventBus) Unsubscribe(id SubscriberID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers ev to every matching subscriber, stamping the time when
// the caller did not.
func (b *EventBus) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if s.types != nil && !s.types[ev.Type] {
			continue
		}
		s.fn(ev)
	}
}
