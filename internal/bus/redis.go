package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/redisplay/server/internal/domain"
	"github.com/redisplay/server/internal/metrics"
)

// NewClient creates a go-redis client from a URL (e.g. "redis://localhost:6379")
// and verifies the connection. Every operation on the client runs behind a
// circuit breaker hook.
func NewClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	rdb.AddHook(NewCircuitBreakerHook())
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

// RedisBus implements domain.Bus on Redis Pub/Sub. Each Subscribe opens its
// own Redis subscription with a pump goroutine feeding the handler, so one
// slow handler never stalls another topic.
type RedisBus struct {
	rdb *goredis.Client
}

func NewRedisBus(rdb *goredis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

// Publish sends payload to every subscriber of topic. Fire-and-forget:
// there is no delivery acknowledgement beyond Redis accepting the message.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	err := b.rdb.Publish(ctx, topic, payload).Err()
	if err != nil {
		metrics.BusPublishesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish on %q: %w", topic, err)
	}
	metrics.BusPublishesTotal.WithLabelValues("ok").Inc()
	return nil
}

// Subscribe registers handler for messages on topic. The returned
// Subscription must be closed to release the Redis connection.
func (b *RedisBus) Subscribe(topic string, handler func(payload []byte)) (domain.Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := b.rdb.Subscribe(ctx, topic)

	// Wait for the subscription to be confirmed so callers never miss
	// messages published right after Subscribe returns.
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %q: %w", topic, err)
	}

	s := &redisSubscription{sub: sub, cancel: cancel}
	metrics.BusActiveSubscriptions.Inc()

	go func() {
		msgCh := sub.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			case <-ctx.Done():
				return
			}
		}
	}()

	slog.Debug("Bus subscription opened", "topic", topic)
	return s, nil
}

type redisSubscription struct {
	sub    *goredis.PubSub
	cancel context.CancelFunc
	once   sync.Once
}

func (s *redisSubscription) Close() {
	s.once.Do(func() {
		s.cancel()
		_ = s.sub.Close()
		metrics.BusActiveSubscriptions.Dec()
	})
}
