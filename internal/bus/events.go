// Package bus is a small in-process pub/sub used to fan connection and
// message events out to observers (HTTP event stream, CLI, metrics).
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	. "github.com/roelfdiedericks/autoreply/internal/logging"
)

// Well-known topics.
const (
	TopicConnectionStatus = "connection-status-changed"
	TopicMessageRecorded  = "message-recorded"
)

// Event represents a notification broadcast to subscribers
type Event struct {
	Topic     string    `json:"topic"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"` // "whatsapp", "dispatch", "http", ...
}

// EventHandler processes an event (no return value - fire and forget)
type EventHandler func(Event)

// SubscriptionID uniquely identifies an event subscription
type SubscriptionID uint64

// subscription holds a single event handler
type subscription struct {
	id      SubscriptionID
	handler EventHandler
}

// Bus routes events to subscribers by topic. The zero value is not usable;
// call New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
	now    func() time.Time
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[string][]subscription),
		now:  time.Now,
	}
}

// Subscribe registers a handler for a topic. "*" receives every topic.
// Returns a SubscriptionID that can be used to unsubscribe.
func (b *Bus) Subscribe(topic string, handler EventHandler) SubscriptionID {
	id := SubscriptionID(atomic.AddUint64(&b.nextID, 1))

	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[topic] = append(b.subs[topic], subscription{
		id:      id,
		handler: handler,
	})

	L_debug("bus: event subscribed", "topic", topic, "subscriptionID", id)
	return id
}

// Unsubscribe removes a subscription by its ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subs {
		for i, sub := range subs {
			if sub.id == id {
				b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
				if len(b.subs[topic]) == 0 {
					delete(b.subs, topic)
				}
				L_debug("bus: event unsubscribed", "topic", topic, "subscriptionID", id)
				return true
			}
		}
	}
	return false
}

// Publish broadcasts an event from the "system" source.
func (b *Bus) Publish(topic string, data any) {
	b.PublishWithSource(topic, data, "system")
}

// PublishWithSource broadcasts an event with source information.
// Handlers run synchronously on the caller's goroutine; a panicking handler
// is logged and does not affect the others.
func (b *Bus) PublishWithSource(topic string, data any, source string) {
	event := Event{
		Topic:     topic,
		Data:      data,
		Timestamp: b.now(),
		Source:    source,
	}

	b.mu.RLock()
	subsCopy := make([]subscription, 0, len(b.subs[topic])+len(b.subs["*"]))
	subsCopy = append(subsCopy, b.subs[topic]...)
	subsCopy = append(subsCopy, b.subs["*"]...)
	b.mu.RUnlock()

	if len(subsCopy) == 0 {
		L_debug("bus: event published (no subscribers)", "topic", topic)
		return
	}

	L_debug("bus: event published", "topic", topic, "subscribers", len(subsCopy), "source", source)

	for _, sub := range subsCopy {
		deliver(sub, event)
	}
}

func deliver(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			L_error("bus: event handler panic", "topic", event.Topic, "subscriptionID", s.id, "panic", r)
		}
	}()
	s.handler(event)
}

// Topics returns all topics with active subscriptions
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]string, 0, len(b.subs))
	for topic := range b.subs {
		topics = append(topics, topic)
	}
	return topics
}

// CountSubscribers returns the number of subscribers for a topic
func (b *Bus) CountSubscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs[topic])
}
