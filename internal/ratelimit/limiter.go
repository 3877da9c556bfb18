package ratelimit

import "context"

// RateLimiter throttles batch submission requests per evaluator.
type RateLimiter interface {
	Allow(ctx context.Context, evaluatorID string) (bool, error)
	Wait(ctx context.Context, evaluatorID string) error
}
