package mq

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/plateauction/apiserver/config"
)

// RedisClient implements the Backend interface over Redis Pub/Sub.
// Redis channels are fire-and-forget with no acknowledgement, which
// matches the delivery guarantees this service asks of its bus.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient constructs a Redis pub/sub client from config.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*RedisClient, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisClient{client: client}, nil
}

// Publish sends a message to the named channel. Attributes are not
// supported by Redis Pub/Sub and are dropped.
func (r *RedisClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("redis channel is required")
	}
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return "", err
	}
	return newMessageID(), nil
}

// Subscribe consumes messages from the named channel until ctx is done.
// Redis cannot nack, so handler errors are ignored after delivery.
func (r *RedisClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("redis channel is required")
	}

	pubsub := r.client.Subscribe(ctx, channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription channel closed")
			}
			_ = handler(ctx, Message{Data: []byte(msg.Payload)})
		}
	}
}

// Close closes the underlying Redis client.
func (r *RedisClient) Close() error {
	return r.client.Close()
}
