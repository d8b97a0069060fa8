package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sbenjam1n/surveyflow/internal/logger"
)

// retryPolicy retries an external call with exponential backoff.
type retryPolicy struct {
	attempts int
	initial  time.Duration
	log      *logger.Logger
}

// do runs op until it succeeds, the attempts are used up, or ctx ends.
// It returns the number of attempts made and the last error.
func (p retryPolicy) do(ctx context.Context, what string, op func(context.Context) error) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initial
	b.MaxInterval = 16 * p.initial

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		if err := op(ctx); err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.log.Warn("retrying "+what, "attempt", attempts, "next_in", next, "error", err)
		}),
	)
	return attempts, err
}
