package relay

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisBackbone is a Backbone on Redis pub/sub for cross-process fan-out.
type RedisBackbone struct {
	client *redis.Client
}

// NewRedisBackbone connects to Redis using a URL like
// "redis://localhost:6379/0" and verifies connectivity.
func NewRedisBackbone(url string) (*RedisBackbone, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("relay: parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("relay: redis ping: %w", err)
	}
	return &RedisBackbone{client: client}, nil
}

func (b *RedisBackbone) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

func (b *RedisBackbone) Subscribe(ctx context.Context, topic string, fn func(payload []byte)) (func(), error) {
	ps := b.client.Subscribe(ctx, topic)
	// Wait for the subscription to be established before returning so a
	// Publish that follows immediately is not missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("relay: redis subscribe %s: %w", topic, err)
	}

	go func() {
		for msg := range ps.Channel() {
			fn([]byte(msg.Payload))
		}
	}()

	return func() { _ = ps.Close() }, nil
}

func (b *RedisBackbone) Close() error { return b.client.Close() }

var _ Backbone = (*RedisBackbone)(nil)
