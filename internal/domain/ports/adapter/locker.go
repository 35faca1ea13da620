package adapter

import (
	"context"
	"time"
)

// Locker is a best-effort distributed mutex. TryLock returns domain.ErrLockNotAcquired
// when another holder owns key; the returned token must be passed to Unlock.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// RateLimiter admits at most limit calls per window for key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
