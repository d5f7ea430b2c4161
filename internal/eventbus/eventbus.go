// Package eventbus implements a process-local, typed publish/subscribe
// channel multiplexer for DNS lifecycle and driver-change events.
//
// Delivery is best-effort and never blocks the publisher: each subscriber
// owns a bounded buffered channel, and a publish that would block on a full
// subscriber buffer either drops the event or drops the subscriber,
// depending on the overflow policy chosen at subscription time. This keeps
// a slow consumer from ever applying backpressure to the resolver pipeline,
// which is the one hard requirement driving this package's shape.
//
// The non-blocking dispatch pattern (select with a default branch) mirrors
// the receive-path idiom used throughout this module's UDP listener.
package eventbus

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OverflowPolicy controls what happens when a subscriber's buffer is full
// at publish time.
type OverflowPolicy int

const (
	// DropNewest discards the incoming event, keeping the subscriber alive
	// and its existing queue intact.
	DropNewest OverflowPolicy = iota
	// DropSubscriber unsubscribes and closes the subscriber's channel
	// instead of ever letting it block a publish.
	DropSubscriber
)

// Event is one message published on a topic.
type Event struct {
	Topic     string
	Timestamp time.Time
	Payload   any
}

// Subscription is a live subscriber's receive end plus its identity.
type Subscription struct {
	ID string
	C  <-chan Event
}

type subscriber struct {
	id       string
	topics   map[string]struct{} // empty = all topics
	ch       chan Event
	overflow OverflowPolicy
}

// Bus is a typed, topic-keyed pub/sub multiplexer. The zero value is not
// usable; construct with New.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber // by subscription id
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers a new subscriber for the given topics (no topics
// means "subscribe to everything"). bufferSize bounds how many unconsumed
// events the subscriber may accumulate before overflow triggers.
func (b *Bus) Subscribe(bufferSize int, overflow OverflowPolicy, topics ...string) Subscription {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}

	sub := &subscriber{
		id:       uuid.NewString(),
		topics:   set,
		ch:       make(chan Event, bufferSize),
		overflow: overflow,
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return Subscription{ID: sub.id, C: sub.ch}
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once for the same id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish fans an event out to every matching subscriber without blocking.
// Subscribers receive events for a given topic in the order Publish is
// called; there is no ordering guarantee across distinct topics.
func (b *Bus) Publish(topic string, payload any) {
	evt := Event{Topic: topic, Timestamp: time.Now(), Payload: payload}

	b.mu.RLock()
	matched := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.matches(topic) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	var toDrop []string
	for _, sub := range matched {
		select {
		case sub.ch <- evt:
		default:
			switch sub.overflow {
			case DropSubscriber:
				toDrop = append(toDrop, sub.id)
			case DropNewest:
				// event is simply not delivered to this subscriber
			}
		}
	}
	for _, id := range toDrop {
		b.Unsubscribe(id)
	}
}

// matches reports whether topic satisfies one of the subscriber's wanted
// topics. A wanted topic ending in "/" is a family prefix (e.g. "dns/cache/"
// matches "dns/cache/example.com"); anything else must match exactly.
func (s *subscriber) matches(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	if _, ok := s.topics[topic]; ok {
		return true
	}
	for want := range s.topics {
		if strings.HasSuffix(want, "/") && strings.HasPrefix(topic, want) {
			return true
		}
	}
	return false
}

// SubscriberCount reports the number of live subscribers, for diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
