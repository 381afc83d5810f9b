package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"moonshot-engine/internal/domain"
)

// Default poller configuration values.
const (
	DefaultPollTimeout    = 5 * time.Second
	DefaultPollMaxRetries = 2
	DefaultPollRetryDelay = 250 * time.Millisecond
)

// Poller fetches quotes from an HTTP price endpoint on demand.
type Poller struct {
	baseURL    string
	client     *http.Client
	maxRetries uint64
	retryDelay time.Duration
}

// PollerOption configures Poller.
type PollerOption func(*Poller)

// WithPollTimeout sets the HTTP client timeout.
func WithPollTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.client.Timeout = d
	}
}

// WithPollRetries sets the retry count and initial retry delay.
func WithPollRetries(n int, delay time.Duration) PollerOption {
	return func(p *Poller) {
		if n < 0 {
			n = 0
		}
		p.maxRetries = uint64(n)
		p.retryDelay = delay
	}
}

// WithPollHTTPClient sets custom http.Client.
func WithPollHTTPClient(client *http.Client) PollerOption {
	return func(p *Poller) {
		p.client = client
	}
}

// NewPoller creates a poller for baseURL.
func NewPoller(baseURL string, opts ...PollerOption) *Poller {
	p := &Poller{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: DefaultPollTimeout},
		maxRetries: DefaultPollMaxRetries,
		retryDelay: DefaultPollRetryDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ Source = (*Poller)(nil)

type priceResponse struct {
	Price     float64 `json:"price"`
	Timestamp int64   `json:"ts"` // ms
}

// Latest fetches the current price of a token.
func (p *Poller) Latest(ctx context.Context, chain domain.Chain, token string) (Quote, error) {
	q := url.Values{}
	q.Set("chain", string(chain))
	q.Set("token", token)
	endpoint := p.baseURL + "/price?" + q.Encode()

	var out priceResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrNoQuote)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)))
		}

		if err := json.Unmarshal(body, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("unmarshal response: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, p.maxRetries), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return Quote{}, err
	}
	return Quote{Chain: chain, Token: token, Price: out.Price, At: out.Timestamp}, nil
}
