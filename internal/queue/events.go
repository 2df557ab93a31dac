package queue

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// EventType identifies a sync lifecycle event.
type EventType string

const (
	// EventSyncStart fires before a flush pass begins processing.
	EventSyncStart EventType = "sync-start"
	// EventSyncComplete fires after a flush pass, regardless of outcomes.
	EventSyncComplete EventType = "sync-complete"
	// EventSyncError fires when a flush pass itself fails.
	EventSyncError EventType = "sync-error"
	// EventItemSynced fires when a queued item replays successfully.
	EventItemSynced EventType = "item-synced"
	// EventItemFailed fires when a queued item's replay fails.
	EventItemFailed EventType = "item-failed"
)

// Event carries the details of a sync lifecycle event. Item is set for
// per-item events; the counters are set for sync-complete.
type Event struct {
	Type   EventType
	Item   *Item
	Error  string
	Synced int
	Failed int
	Total  int
}

// Listener receives sync events.
type Listener func(Event)

// eventBus is a typed publish/subscribe fan-out with unsubscribe tokens.
type eventBus struct {
	mu        sync.Mutex
	listeners map[EventType]map[int]Listener
	nextID    int
	logger    *logrus.Logger
}

func newEventBus(logger *logrus.Logger) *eventBus {
	return &eventBus{
		listeners: make(map[EventType]map[int]Listener),
		logger:    logger,
	}
}

// on registers a listener and returns its unsubscribe function.
func (b *eventBus) on(eventType EventType, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.listeners[eventType] == nil {
		b.listeners[eventType] = make(map[int]Listener)
	}
	id := b.nextID
	b.nextID++
	b.listeners[eventType][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners[eventType], id)
	}
}

// emit delivers an event to every listener for its type. Listener panics
// are recovered and logged so a misbehaving subscriber cannot abort a flush.
func (b *eventBus) emit(event Event) {
	b.mu.Lock()
	fns := make([]Listener, 0, len(b.listeners[event.Type]))
	for _, fn := range b.listeners[event.Type] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.WithFields(logrus.Fields{
						"event": event.Type,
						"panic": r,
					}).Error("Sync event listener panicked")
				}
			}()
			fn(event)
		}()
	}
}
