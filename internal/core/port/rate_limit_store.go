package port

import (
	"context"
	"time"
)

// RateLimitStore exposes an atomic fixed-window counter.
type RateLimitStore interface {
	// Increment bumps the counter for key, starting a new window of the given length on the first write,
	// and returns the updated count with the time left until the window resets.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}
