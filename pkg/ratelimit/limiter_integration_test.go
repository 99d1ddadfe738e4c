//go:build integration

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestLimiter_Integration_ConcurrentInstances(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	cfg := Config{Limit: 5, Window: time.Minute}
	a := NewLimiter(redisClient, cfg, zerolog.Nop())
	b := NewLimiter(redisClient, cfg, zerolog.Nop())
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		blocked int
	)
	for i := 0; i < 20; i++ {
		l := a
		if i%2 == 1 {
			l = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Allow(ctx, "shared-customer")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				allowed++
			case errors.Is(err, ErrOrderLimitExceeded):
				blocked++
			default:
				t.Errorf("Allow() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if allowed != 5 {
		t.Errorf("allowed = %d, want exactly the limit (5)", allowed)
	}
	if blocked != 15 {
		t.Errorf("blocked = %d, want 15", blocked)
	}
}

func TestLimiter_Integration_Expiry(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	l := NewLimiter(redisClient, Config{Limit: 1, Window: time.Second}, zerolog.Nop())
	ctx := context.Background()

	if _, err := l.Allow(ctx, "42"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Allow(ctx, "42"); !errors.Is(err, ErrOrderLimitExceeded) {
		t.Fatalf("err = %v, want ErrOrderLimitExceeded", err)
	}

	time.Sleep(1500 * time.Millisecond)

	if _, err := l.Allow(ctx, "42"); err != nil {
		t.Errorf("Allow() after window expiry = %v", err)
	}
}
