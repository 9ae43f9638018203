package bus

import (
	"context"
	"sync"

	"github.com/redisplay/server/internal/domain"
)

// MemoryBus is an in-process domain.Bus with the same per-topic ordering
// semantics as the Redis implementation. Used in tests and single-node
// deployments that run without Redis.
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySubscription]struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[string]map[*memorySubscription]struct{})}
}

func (b *MemoryBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	subs := make([]*memorySubscription, 0, len(b.topics[topic]))
	for s := range b.topics[topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	// Deliver synchronously per subscriber to preserve per-topic ordering.
	for _, s := range subs {
		s.deliver(payload)
	}
	return nil
}

func (b *MemoryBus) Subscribe(topic string, handler func(payload []byte)) (domain.Subscription, error) {
	s := &memorySubscription{bus: b, topic: topic, handler: handler}

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*memorySubscription]struct{})
	}
	b.topics[topic][s] = struct{}{}
	b.mu.Unlock()

	return s, nil
}

// SubscriberCount reports live subscriptions for a topic. Test helper.
func (b *MemoryBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

type memorySubscription struct {
	bus     *MemoryBus
	topic   string
	handler func(payload []byte)
	mu      sync.Mutex
	closed  bool
}

func (s *memorySubscription) deliver(payload []byte) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		s.handler(payload)
	}
}

func (s *memorySubscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if subs, ok := s.bus.topics[s.topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.bus.topics, s.topic)
		}
	}
}
