//go:build !integration

package redis

import (
	"context"
	"testing"
	"time"

	"doc-ingest/internal/config"
)

// mockRedisClient mocks the counter commands used by the rate limiter.
type mockRedisClient struct {
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
}

var _ RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}

func TestClientOptions(t *testing.T) {
	t.Run("bare address", func(t *testing.T) {
		opts, err := clientOptions(&config.RedisConfig{URL: "localhost:6379", DB: 3})
		if err != nil {
			t.Fatal(err)
		}
		if opts.Addr != "localhost:6379" || opts.DB != 3 {
			t.Fatalf("unexpected options %+v", opts)
		}
	})

	t.Run("url with overrides", func(t *testing.T) {
		opts, err := clientOptions(&config.RedisConfig{URL: "redis://:urlpass@cache:6380/2", Password: "cfgpass"})
		if err != nil {
			t.Fatal(err)
		}
		if opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "cfgpass" {
			t.Fatalf("unexpected options addr=%s db=%d", opts.Addr, opts.DB)
		}
	})

	t.Run("bad url", func(t *testing.T) {
		if _, err := clientOptions(&config.RedisConfig{URL: "http://nope"}); err == nil {
			t.Fatal("expected error for non-redis scheme")
		}
	})
}
