package rate

import (
	"context"
	"time"
)

// Limiter bounds how often a user may start an order placement. Allow
// reports whether the attempt may proceed and, when it may not, how long
// until the window opens again.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}
