package realtime

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisChannelPrefix = "sekolahchat:"

// RedisBroker publishes through Redis pub/sub so several API processes share
// one event stream. A single PubSub connection is multiplexed: the first
// local subscriber of a topic subscribes the channel, the last one leaving
// unsubscribes it, and received messages are fanned out by a MemoryBroker.
type RedisBroker struct {
	client *redis.Client
	ps     *redis.PubSub
	local  *MemoryBroker
	log    zerolog.Logger

	mu   sync.Mutex
	refs map[string]int
	wg   sync.WaitGroup
}

func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}

func NewRedisBroker(ctx context.Context, client *redis.Client, log zerolog.Logger) (*RedisBroker, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	b := &RedisBroker{
		client: client,
		ps:     client.Subscribe(ctx),
		local:  NewMemoryBroker(),
		log:    log,
		refs:   map[string]int{},
	}
	b.wg.Add(1)
	go b.loop()
	return b, nil
}

func (b *RedisBroker) loop() {
	defer b.wg.Done()
	for msg := range b.ps.Channel() {
		topic := strings.TrimPrefix(msg.Channel, redisChannelPrefix)
		if err := b.local.Publish(context.Background(), topic, []byte(msg.Payload)); err != nil {
			return
		}
	}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, redisChannelPrefix+topic, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string, handler func([]byte)) (Subscription, error) {
	b.mu.Lock()
	if b.refs[topic] == 0 {
		if err := b.ps.Subscribe(ctx, redisChannelPrefix+topic); err != nil {
			b.mu.Unlock()
			return nil, err
		}
	}
	b.refs[topic]++
	b.mu.Unlock()

	inner, err := b.local.Subscribe(context.Background(), topic, handler)
	if err != nil {
		b.release(topic)
		return nil, err
	}
	s := &redisSub{Subscription: inner, broker: b, done: make(chan struct{})}
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

func (b *RedisBroker) release(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs[topic]--
	if b.refs[topic] > 0 {
		return
	}
	delete(b.refs, topic)
	if err := b.ps.Unsubscribe(context.Background(), redisChannelPrefix+topic); err != nil {
		b.log.Warn().Err(err).Str("topic", topic).Msg("realtime: redis unsubscribe gagal")
	}
}

// Close juga menutup client redis yang diberikan ke NewRedisBroker.
func (b *RedisBroker) Close() error {
	err := b.ps.Close()
	b.wg.Wait()
	_ = b.local.Close()
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}

type redisSub struct {
	Subscription
	broker *RedisBroker
	once   sync.Once
	done   chan struct{}
}

func (s *redisSub) Unsubscribe() {
	s.once.Do(func() {
		s.Subscription.Unsubscribe()
		s.broker.release(s.Topic())
		close(s.done)
	})
}
