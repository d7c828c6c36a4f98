// Package redisrelay is a relay backend over Redis pub/sub.
package redisrelay

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Backend publishes and receives relay payloads on one Redis channel.
type Backend struct {
	client  *redis.Client
	channel string
}

// New wraps an existing client.
func New(client *redis.Client, channel string) *Backend {
	return &Backend{client: client, channel: channel}
}

// Dial connects to Redis at addr and verifies the connection.
func Dial(ctx context.Context, addr, channel string) (*Backend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return New(client, channel), nil
}

// Send publishes payload on the channel.
func (b *Backend) Send(ctx context.Context, payload []byte) error {
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Listen subscribes to the channel and hands every payload to handle.
func (b *Backend) Listen(ctx context.Context, handle func(payload []byte)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handle([]byte(msg.Payload))
		}
	}
}

// Close closes the Redis client.
func (b *Backend) Close() error {
	return b.client.Close()
}
