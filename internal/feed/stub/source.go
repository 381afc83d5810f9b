package stub

import (
	"context"
	"sync"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/feed"
)

// Source implements feed.Source for testing.
type Source struct {
	mu     sync.Mutex
	quotes map[string]feed.Quote
	errs   map[string]error
	subs   map[string]bool
}

// NewSource creates a new stub source.
func NewSource() *Source {
	return &Source{
		quotes: make(map[string]feed.Quote),
		errs:   make(map[string]error),
		subs:   make(map[string]bool),
	}
}

var (
	_ feed.Source     = (*Source)(nil)
	_ feed.Subscriber = (*Source)(nil)
)

// Set stores a quote for a token and clears any configured error.
func (s *Source) Set(chain domain.Chain, token string, price float64, at int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := feed.Key(chain, token)
	s.quotes[key] = feed.Quote{Chain: chain, Token: token, Price: price, At: at}
	delete(s.errs, key)
}

// SetErr makes Latest fail for a token.
func (s *Source) SetErr(chain domain.Chain, token string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[feed.Key(chain, token)] = err
}

// Latest returns the stored quote.
func (s *Source) Latest(_ context.Context, chain domain.Chain, token string) (feed.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := feed.Key(chain, token)
	if err, ok := s.errs[key]; ok {
		return feed.Quote{}, err
	}
	q, ok := s.quotes[key]
	if !ok {
		return feed.Quote{}, feed.ErrNoQuote
	}
	return q, nil
}

// Subscribe records the subscription.
func (s *Source) Subscribe(_ context.Context, chain domain.Chain, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[feed.Key(chain, token)] = true
	return nil
}

// Unsubscribe removes the subscription.
func (s *Source) Unsubscribe(chain domain.Chain, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, feed.Key(chain, token))
}

// Subscribed reports whether a token is currently subscribed.
func (s *Source) Subscribed(chain domain.Chain, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[feed.Key(chain, token)]
}
