package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v5"

	warperrors "github.com/mirkobrombin/warp-aqi/v1/errors"
)

// Retrying retries transient upstream failures with exponential backoff.
// Not-found answers and context errors are returned immediately.
type Retrying struct {
	next     Provider
	attempts uint
	delay    time.Duration
}

// NewRetrying wraps next. attempts counts the first call; values below one
// are treated as one.
func NewRetrying(next Provider, attempts uint, delay time.Duration) *Retrying {
	if attempts == 0 {
		attempts = 1
	}
	return &Retrying{next: next, attempts: attempts, delay: delay}
}

// Fetch implements Provider.
func (r *Retrying) Fetch(ctx context.Context, city string) (*Report, error) {
	return retry.NewWithData[*Report](
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, warperrors.ErrUpstream)
		}),
	).Do(func() (*Report, error) {
		return r.next.Fetch(ctx, city)
	})
}
