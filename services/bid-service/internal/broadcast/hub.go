// Package broadcast fans messages out to in-process subscribers of a topic.
//
// Delivery is at-most-once: a subscriber whose buffer is full misses the
// message and is expected to re-fetch full state. Publishing never blocks.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Hub distributes messages of type T to the subscribers of each topic.
type Hub[T any] struct {
	buffer  int
	mu      sync.RWMutex
	topics  map[uuid.UUID]map[*Subscription[T]]struct{}
	dropped atomic.Uint64
}

// NewHub creates a hub whose subscribers buffer up to buffer messages.
func NewHub[T any](buffer int) *Hub[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub[T]{
		buffer: buffer,
		topics: make(map[uuid.UUID]map[*Subscription[T]]struct{}),
	}
}

// Subscription receives the messages of one topic until closed.
type Subscription[T any] struct {
	C <-chan T

	ch    chan T
	topic uuid.UUID
	hub   *Hub[T]
	once  sync.Once
}

// Subscribe registers a new subscriber on topic.
func (h *Hub[T]) Subscribe(topic uuid.UUID) *Subscription[T] {
	ch := make(chan T, h.buffer)
	sub := &Subscription[T]{C: ch, ch: ch, topic: topic, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription[T]]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.topics[s.topic]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(h.topics, s.topic)
			}
		}
		close(s.ch)
	})
}

// Publish offers msg to every subscriber of topic and returns how many
// accepted it.
func (h *Hub[T]) Publish(topic uuid.UUID, msg T) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.topics[topic] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}
	return delivered
}

// Count returns the number of subscribers on topic.
func (h *Hub[T]) Count(topic uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Counts returns the subscriber count of every topic that has subscribers.
func (h *Hub[T]) Counts() map[uuid.UUID]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[uuid.UUID]int, len(h.topics))
	for topic, subs := range h.topics {
		out[topic] = len(subs)
	}
	return out
}

// Dropped is the number of messages discarded because a buffer was full.
func (h *Hub[T]) Dropped() uint64 {
	return h.dropped.Load()
}
