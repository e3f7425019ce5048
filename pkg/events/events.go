// Package events is the in-memory pub/sub bus for sync state-transition
// events (spec §9: "From global log prints to structured events"). The
// Sync Engine publishes the sync.* events; the Rate Limiter holds no broker
// and does not publish, so the rate_limiter.* types below are never sent.
// The actual sink (log line, admin HTTP stream, nothing) is external to
// this package.
package events

import (
	"sync"
	"time"
)

// EventType is the kind of state transition being reported.
type EventType string

const (
	EventSyncStarting   EventType = "sync.starting"
	EventSyncFetching   EventType = "sync.fetching"
	EventSyncWriting    EventType = "sync.writing"
	EventSyncCompleting EventType = "sync.completing"
	EventSyncDone       EventType = "sync.done"
	EventSyncFailed     EventType = "sync.failed"
	EventRateLimitHit   EventType = "rate_limiter.hit"
	EventRateLimitRetry EventType = "rate_limiter.retry"
)

// Event carries the fields spec §9 names: entity_kind, sync_id, offset,
// status. Message and Metadata give components room for kind-specific detail.
type Event struct {
	Type       EventType
	Timestamp  time.Time
	EntityKind string
	SyncID     string
	Offset     int
	Status     string
	Message    string
	Metadata   map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker manages event subscriptions and distribution.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
