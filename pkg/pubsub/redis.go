package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events with Redis PUBLISH.
type RedisPublisher struct {
	client *redis.Client
	owned  bool
}

// NewRedisPublisher dials Redis and verifies the connection.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPublisher{client: client, owned: true}, nil
}

// NewRedisPublisherFromClient shares an existing client; Close leaves it open.
func NewRedisPublisherFromClient(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// RedisChannel is the channel an event is published on: channel, or
// channel:key when the event carries a key.
func RedisChannel(channel string, event *Event) string {
	if event.Key == "" {
		return channel
	}
	return channel + ":" + event.Key
}

// Publish publishes an event to the specified channel.
func (r *RedisPublisher) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return r.client.Publish(ctx, RedisChannel(channel, event), data).Err()
}

// Close closes the client if this publisher created it.
func (r *RedisPublisher) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
