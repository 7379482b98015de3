// Package ratelimit bounds per-user write amplification with a fixed request
// budget per sliding window. Rejection is non-fatal: it denies the single
// request and nothing else.
package ratelimit

import (
	"context"
	"time"
)

// Result describes one admission decision.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or denies one action for one user against a windowed budget.
type Limiter interface {
	// Allow consumes one unit of the budget for (action, userID) if any
	// remains in the current window.
	Allow(ctx context.Context, action, userID string, budget int, window time.Duration) (Result, error)
}
