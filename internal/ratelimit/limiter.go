package ratelimit

import (
	"context"
	"time"
)

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per key. Implementations are safe for
// concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
