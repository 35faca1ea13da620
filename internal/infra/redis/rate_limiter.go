package redis

import (
	"context"
	"fmt"
	"time"

	"doc-ingest/internal/domain/ports/adapter"
)

var _ adapter.RateLimiter = (*RateLimiter)(nil)

// RateLimiter is a fixed-window counter shared by every worker process. Each
// window gets its own key, so a counter whose EXPIRE was lost still stops
// counting once the window rolls over.
type RateLimiter struct {
	client RedisClient
	now    func() time.Time
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window <= 0 {
		window = time.Second
	}
	bucket := windowKey(key, r.now(), window)
	count, err := r.client.Incr(ctx, bucket)
	if err != nil {
		return false, err
	}
	if count == 1 {
		// two windows so a slow clock on another worker still hits the live key
		if err := r.client.Expire(ctx, bucket, 2*window); err != nil {
			return false, err
		}
	}
	return count <= int64(limit), nil
}

func windowKey(key string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("%s:%d", key, t.UnixNano()/int64(window))
}

func EmbedKey(provider string) string {
	return fmt.Sprintf("rate_limit:embed:%s", provider)
}
