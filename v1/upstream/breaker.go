package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	warperrors "github.com/mirkobrombin/warp-aqi/v1/errors"
)

// Breaker stops calling the upstream after consecutive failures and fails
// fast with errors.ErrCircuitOpen until the open timeout elapses.
//
// A not-found answer proves the upstream is reachable and counts as a success.
type Breaker struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[*Report]
}

// NewBreaker wraps next. The circuit opens after failures consecutive
// failures and lets a probe through once openTimeout has passed.
func NewBreaker(next Provider, failures uint32, openTimeout time.Duration, logger zerolog.Logger) *Breaker {
	if failures == 0 {
		failures = 1
	}
	st := gobreaker.Settings{
		Name:        "aqicn",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, warperrors.ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("upstream circuit breaker state changed")
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker[*Report](st)}
}

// Fetch implements Provider.
func (b *Breaker) Fetch(ctx context.Context, city string) (*Report, error) {
	r, err := b.cb.Execute(func() (*Report, error) {
		return b.next.Fetch(ctx, city)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", warperrors.ErrCircuitOpen, err)
	}
	return r, err
}

// State reports the breaker state: "closed", "half-open" or "open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}
