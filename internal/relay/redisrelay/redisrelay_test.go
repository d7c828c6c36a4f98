package redisrelay

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// Requires Redis running on localhost:6379.
const testRedisAddr = "localhost:6379"

func setupTestBackend(t *testing.T, channel string) *Backend {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	return New(client, channel)
}

func TestBackendRoundTrip(t *testing.T) {
	channel := "wirechat:test:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	listener := setupTestBackend(t, channel)
	sender := setupTestBackend(t, channel)
	defer sender.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- listener.Listen(ctx, func(p []byte) {
			select {
			case got <- string(p):
			default:
			}
		})
	}()

	// Keep publishing until the subscription is live.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if err := sender.Send(ctx, []byte("hello")); err != nil {
			t.Fatalf("send: %v", err)
		}
		select {
		case p := <-got:
			if p != "hello" {
				t.Fatalf("unexpected payload %q", p)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("listen: %v", err)
			}
			_ = listener.Close()
			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("payload not received")
		}
	}
}
