package feed

import (
	"context"
	"fmt"
	"time"

	"moonshot-engine/internal/domain"
)

// Guard bounds a Source with a call timeout and a staleness threshold.
// Any failure is reported as ErrStale so callers hold instead of acting.
type Guard struct {
	src        Source
	timeout    time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// NewGuard wraps src.
func NewGuard(src Source, timeout, staleAfter time.Duration) *Guard {
	return &Guard{src: src, timeout: timeout, staleAfter: staleAfter, now: time.Now}
}

// WithClock replaces the guard's clock.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Latest returns a fresh quote or an error wrapping ErrStale.
func (g *Guard) Latest(ctx context.Context, chain domain.Chain, token string) (Quote, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	q, err := g.src.Latest(ctx, chain, token)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrStale, err)
	}
	if q.Price <= 0 {
		return Quote{}, fmt.Errorf("%w: non-positive price %v", ErrStale, q.Price)
	}
	if age := g.now().UnixMilli() - q.At; g.staleAfter > 0 && age > g.staleAfter.Milliseconds() {
		return Quote{}, fmt.Errorf("%w: quote is %dms old", ErrStale, age)
	}
	return q, nil
}

// Subscribe forwards to the wrapped source when it is a Subscriber.
func (g *Guard) Subscribe(ctx context.Context, chain domain.Chain, token string) error {
	if s, ok := g.src.(Subscriber); ok {
		return s.Subscribe(ctx, chain, token)
	}
	return nil
}

// Unsubscribe forwards to the wrapped source when it is a Subscriber.
func (g *Guard) Unsubscribe(chain domain.Chain, token string) {
	if s, ok := g.src.(Subscriber); ok {
		s.Unsubscribe(chain, token)
	}
}
