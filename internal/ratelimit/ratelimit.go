// Package ratelimit throttles requests per caller key, either in process
// memory or against a shared Redis.
package ratelimit

import (
	"context"
	"time"
)

// Rule allows Limit requests per Window for each key.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
