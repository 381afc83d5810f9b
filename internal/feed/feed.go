// Package feed supplies live prices for open positions.
package feed

import (
	"context"
	"errors"

	"moonshot-engine/internal/domain"
)

var (
	// ErrStale is returned when no quote fresh enough to act on is available.
	ErrStale = errors.New("stale price")
	// ErrNoQuote is returned by caching sources that have not seen the token yet.
	ErrNoQuote = errors.New("no quote")
)

// Quote is one observed price.
type Quote struct {
	Chain domain.Chain
	Token string
	Price float64
	At    int64 // ms, when the price was observed upstream
}

// Source returns the most recent quote for a token.
type Source interface {
	Latest(ctx context.Context, chain domain.Chain, token string) (Quote, error)
}

// Subscriber is implemented by push sources that must be told which tokens
// to follow.
type Subscriber interface {
	Subscribe(ctx context.Context, chain domain.Chain, token string) error
	Unsubscribe(chain domain.Chain, token string)
}

// Key returns the cache key for a token.
func Key(chain domain.Chain, token string) string {
	return string(chain) + ":" + token
}
