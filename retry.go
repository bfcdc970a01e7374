package fixtures

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v3"
)

// Retry calls op with exponential backoff until it succeeds, ctx is done or maxWait elapses.
func Retry(ctx context.Context, maxWait time.Duration, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = maxWait
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
