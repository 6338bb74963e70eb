// Package bus provides the in-process fan-out channel between the single
// transport connection a session owns and the independently mounted
// consumers (chat stores, points trackers, status indicators) that react to
// its events. Publish is fire-and-forget and synchronous: every handler
// subscribed at publish time runs before Publish returns, late subscribers
// miss earlier messages, and there is no replay or buffering.
package bus

import (
	"sync"

	"chatrelay/pkg/logger"
)

// Topic names a typed broadcast channel.
type Topic string

const (
	// TopicChatMessage carries parsed *models.ChatMessage payloads.
	TopicChatMessage Topic = "chat.message"
	// TopicConnection carries the transient "connected" milestone.
	TopicConnection Topic = "transport.connection"
	// TopicNotification carries plain notification text.
	TopicNotification Topic = "notification"
	// TopicPointsUpdate carries *models.PointsUpdate payloads.
	TopicPointsUpdate Topic = "points.update"
)

// Handler receives a published payload. Handlers run on the publisher's
// goroutine and must not block.
type Handler func(payload any)

// Bus is an explicit, injectable publish/subscribe service constructed once
// per session and passed by reference to consumers.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[Topic]map[int]Handler
	closed bool
}

// New returns an empty Bus ready for use.
func New() *Bus {
	return &Bus{subs: make(map[Topic]map[int]Handler)}
}

// Subscription identifies one registered handler so it can be removed on
// consumer teardown. Every subscriber must call Unsubscribe when it stops
// caring; a leaked subscription keeps acting on events after unmount.
type Subscription struct {
	bus   *Bus
	topic Topic
	id    int
}

// Subscribe registers h for t and returns the handle used to remove it.
func (b *Bus) Subscribe(t Topic, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return &Subscription{bus: b, topic: t, id: -1}
	}
	b.nextID++
	id := b.nextID
	if b.subs[t] == nil {
		b.subs[t] = make(map[int]Handler)
	}
	b.subs[t][id] = h
	return &Subscription{bus: b, topic: t, id: id}
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.id < 0 {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if m := s.bus.subs[s.topic]; m != nil {
		delete(m, s.id)
	}
	s.id = -1
}

// Publish delivers payload to every current subscriber of t. Handlers are
// snapshotted first so a handler may unsubscribe (itself or others) without
// deadlocking the bus.
func (b *Bus) Publish(t Topic, payload any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	m := b.subs[t]
	handlers := make([]Handler, 0, len(m))
	for _, h := range m {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	logger.Debug("bus_publish", "topic", string(t), "subscribers", len(handlers))
	for _, h := range handlers {
		h(payload)
	}
}

// Close drops all subscriptions; subsequent publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[Topic]map[int]Handler)
}
