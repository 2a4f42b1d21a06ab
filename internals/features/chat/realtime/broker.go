package realtime

import (
	"context"
	"errors"
	"sync"

	"sekolahchat_backend/internals/metrics"
)

var ErrBrokerClosed = errors.New("realtime: broker closed")

// Broker is a topic keyed pub/sub transport carrying opaque payloads.
// Implementations deliver at least once to live subscribers and keep
// publish order within a topic.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler func(payload []byte)) (Subscription, error)
	Close() error
}

type Subscription interface {
	Topic() string
	// Unsubscribe stops delivery. Safe to call more than once.
	Unsubscribe()
}

/* ===================== in-memory ===================== */

// MemoryBroker is a single-process hub. Every subscriber owns an unbounded
// FIFO drained by its own goroutine, so a slow handler never blocks
// publishers or other subscribers.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[*memSub]struct{}
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: map[string]map[*memSub]struct{}{}}
}

type memSub struct {
	broker  *MemoryBroker
	topic   string
	handler func([]byte)

	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	closed bool
	done   chan struct{}
	once   sync.Once
}

func (b *MemoryBroker) Publish(_ context.Context, topic string, payload []byte) error {
	// lock eksklusif: semua subscriber satu topic menerima urutan yang sama
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	for s := range b.subs[topic] {
		s.enqueue(payload)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string, handler func([]byte)) (Subscription, error) {
	s := &memSub{broker: b, topic: topic, handler: handler, done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	if b.subs[topic] == nil {
		b.subs[topic] = map[*memSub]struct{}{}
	}
	b.subs[topic][s] = struct{}{}
	b.mu.Unlock()

	metrics.RealtimeSubscriptions.Inc()
	go s.run()
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.Unsubscribe()
			case <-s.done:
			}
		}()
	}
	return s, nil
}

// Subscribers returns the number of live subscriptions on topic.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memSub
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		s.Unsubscribe()
	}
	return nil
}

func (b *MemoryBroker) remove(s *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set := b.subs[s.topic]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.topic)
		}
	}
}

func (s *memSub) Topic() string { return s.topic }

func (s *memSub) enqueue(p []byte) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, p)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *memSub) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.queue = nil
			s.mu.Unlock()
			return
		}
		p := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handler(p)
	}
}

func (s *memSub) Unsubscribe() {
	s.once.Do(func() {
		s.broker.remove(s)
		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()
		close(s.done)
		metrics.RealtimeSubscriptions.Dec()
	})
}
