package pubsub

import (
	"context"
	"sync"
)

// Memory is an in-process Broker. It is used when no Redis URL is
// configured and in tests.
type Memory struct {
	mu     sync.Mutex
	subs   map[string]map[*memSub]struct{}
	closed bool
}

// NewMemory creates an empty in-process broker.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*memSub]struct{})}
}

type memSub struct {
	b     *Memory
	topic string
	ch    chan struct{}
	once  sync.Once
}

func (s *memSub) C() <-chan struct{} { return s.ch }

func (s *memSub) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()
		if set, ok := s.b.subs[s.topic]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.b.subs, s.topic)
			}
		}
		close(s.ch)
	})
	return nil
}

func (m *Memory) Publish(_ context.Context, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for s := range m.subs[topic] {
		signal(s.ch)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	s := &memSub{b: m, topic: topic, ch: make(chan struct{}, 1)}
	set, ok := m.subs[topic]
	if !ok {
		set = make(map[*memSub]struct{})
		m.subs[topic] = set
	}
	set[s] = struct{}{}
	return s, nil
}

// Subscribers returns the number of live subscriptions on topic.
func (m *Memory) Subscribers(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[topic])
}

// Close ends every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var all []*memSub
	for _, set := range m.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	return nil
}
