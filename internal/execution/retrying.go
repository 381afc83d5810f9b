package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	MaxRetries uint64
	Initial    time.Duration
	Max        time.Duration
}

// DefaultRetryConfig returns the shipped retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		Initial:    500 * time.Millisecond,
		Max:        5 * time.Second,
	}
}

// Retrying retries a wrapped executor with exponential backoff.
type Retrying struct {
	next Executor
	cfg  RetryConfig
	log  zerolog.Logger
}

// NewRetrying wraps next.
func NewRetrying(next Executor, cfg RetryConfig, log zerolog.Logger) *Retrying {
	return &Retrying{next: next, cfg: cfg, log: log}
}

var _ Executor = (*Retrying)(nil)

// Submit retries next until it fills, the context ends or the attempts run
// out. Exhaustion is reported as ErrExhausted wrapping the last error.
func (r *Retrying) Submit(ctx context.Context, o Order) (Fill, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.Initial
	b.MaxInterval = r.cfg.Max
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.MaxRetries), ctx)

	var fill Fill
	attempt := 0
	op := func() error {
		attempt++
		f, err := r.next.Submit(ctx, o)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			r.log.Warn().Err(err).
				Str("side", string(o.Side)).
				Str("token", o.Token).
				Str("position_id", o.PositionID).
				Int("attempt", attempt).
				Msg("order failed")
			return err
		}
		fill = f
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		if ctx.Err() != nil {
			return Fill{}, ctx.Err()
		}
		return Fill{}, fmt.Errorf("%w after %d attempts: %v", ErrExhausted, attempt, err)
	}
	return fill, nil
}
