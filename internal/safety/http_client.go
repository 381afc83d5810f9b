package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"moonshot-engine/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 2
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultCacheTTL   = 5 * time.Minute
)

// evmChainIDs maps chains to the service's numeric chain IDs.
var evmChainIDs = map[domain.Chain]string{
	domain.ChainEthereum: "1",
	domain.ChainBSC:      "56",
	domain.ChainBase:     "8453",
}

// HTTPClient implements Checker against a GoPlus-style token security API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	maxRetries uint64
	retryDelay time.Duration
	limits     Thresholds
	now        func() time.Time

	cacheTTL time.Duration
	mu       sync.Mutex
	cache    map[string]domain.SafetyVerdict
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		if n < 0 {
			n = 0
		}
		c.maxRetries = uint64(n)
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithAPIKey sets the access token sent in the Authorization header.
func WithAPIKey(key string) ClientOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// WithThresholds sets the flagging limits.
func WithThresholds(t Thresholds) ClientOption {
	return func(c *HTTPClient) {
		c.limits = t
	}
}

// WithCacheTTL sets how long verdicts are reused. Zero disables caching.
func WithCacheTTL(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.cacheTTL = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a client for the API rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		limits:     DefaultThresholds(),
		now:        time.Now,
		cacheTTL:   DefaultCacheTTL,
		cache:      make(map[string]domain.SafetyVerdict),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Checker = (*HTTPClient)(nil)

// apiResponse is the service envelope. Code 1 means success.
type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// solanaSecurity is the Solana token report.
type solanaSecurity struct {
	MintAuthority   string `json:"mintAuthority"`
	FreezeAuthority string `json:"freezeAuthority"`
	LPInfo          *struct {
		LPLocked float64 `json:"lpLocked"` // percent
	} `json:"lpInfo"`
	Holders []struct {
		Percentage json.Number `json:"percentage"`
	} `json:"holders"`
}

// evmSecurity is the EVM token report. The service encodes booleans as "0"/"1".
type evmSecurity struct {
	IsHoneypot           string `json:"is_honeypot"`
	IsMintable           string `json:"is_mintable"`
	IsProxy              string `json:"is_proxy"`
	CanTakeBackOwnership string `json:"can_take_back_ownership"`
	TradingCooldown      string `json:"trading_cooldown"`
	BuyTax               string `json:"buy_tax"`  // fraction
	SellTax              string `json:"sell_tax"` // fraction
	Holders              []struct {
		Percent string `json:"percent"` // fraction
	} `json:"holders"`
	LPHolders []struct {
		IsLocked int `json:"is_locked"`
	} `json:"lp_holders"`
}

// Check queries the service and applies the thresholds.
func (c *HTTPClient) Check(ctx context.Context, chain domain.Chain, address string) (domain.SafetyVerdict, error) {
	key := string(chain) + ":" + address
	if v, ok := c.cached(key); ok {
		return v, nil
	}

	var (
		v   domain.SafetyVerdict
		err error
	)
	if chain == domain.ChainSolana {
		v, err = c.checkSolana(ctx, address)
	} else {
		v, err = c.checkEVM(ctx, chain, address)
	}
	if err != nil {
		return domain.SafetyVerdict{}, err
	}

	c.store(key, v)
	return v, nil
}

func (c *HTTPClient) checkSolana(ctx context.Context, address string) (domain.SafetyVerdict, error) {
	raw, err := c.get(ctx, c.baseURL+"/solana/token_security/"+url.PathEscape(address))
	if err != nil {
		return domain.SafetyVerdict{}, err
	}

	var s solanaSecurity
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.SafetyVerdict{}, fmt.Errorf("%w: decode solana report: %v", ErrUnavailable, err)
	}

	var flags []domain.SafetyFlag
	if s.MintAuthority != "" {
		flags = append(flags, domain.FlagMintEnabled)
	}
	if s.FreezeAuthority != "" {
		flags = append(flags, domain.FlagFreezeAuthority)
	}
	if s.LPInfo != nil && s.LPInfo.LPLocked <= c.limits.MinLPLockedPct {
		flags = append(flags, domain.FlagLPUnlocked)
	}
	top := 0.0
	for _, h := range s.Holders {
		if p, err := h.Percentage.Float64(); err == nil && p > top {
			top = p
		}
	}
	if top > c.limits.MaxTopHolderPct {
		flags = append(flags, domain.FlagHolderConcentration)
	}
	return c.verdict(flags), nil
}

func (c *HTTPClient) checkEVM(ctx context.Context, chain domain.Chain, address string) (domain.SafetyVerdict, error) {
	id, ok := evmChainIDs[chain]
	if !ok {
		return domain.SafetyVerdict{}, fmt.Errorf("%w: %s", ErrUnsupportedChain, chain)
	}

	q := url.Values{}
	q.Set("contract_addresses", address)
	raw, err := c.get(ctx, c.baseURL+"/token_security/"+id+"?"+q.Encode())
	if err != nil {
		return domain.SafetyVerdict{}, err
	}

	var reports map[string]evmSecurity
	if err := json.Unmarshal(raw, &reports); err != nil {
		return domain.SafetyVerdict{}, fmt.Errorf("%w: decode evm report: %v", ErrUnavailable, err)
	}
	s, ok := reports[strings.ToLower(address)]
	if !ok {
		return domain.SafetyVerdict{}, fmt.Errorf("%w: no report for %s", ErrUnavailable, address)
	}

	var flags []domain.SafetyFlag
	if s.IsHoneypot == "1" {
		flags = append(flags, domain.FlagHoneypot)
	}
	if s.IsMintable == "1" {
		flags = append(flags, domain.FlagMintEnabled)
	}
	if s.IsProxy == "1" {
		flags = append(flags, domain.FlagProxy)
	}
	if s.CanTakeBackOwnership == "1" || s.TradingCooldown == "1" {
		flags = append(flags, domain.FlagCanPause)
	}
	if pct(s.BuyTax) > c.limits.MaxTaxPct || pct(s.SellTax) > c.limits.MaxTaxPct {
		flags = append(flags, domain.FlagTaxTooHigh)
	}
	locked := false
	for _, lp := range s.LPHolders {
		if lp.IsLocked == 1 {
			locked = true
			break
		}
	}
	if !locked {
		flags = append(flags, domain.FlagLPUnlocked)
	}
	top := 0.0
	for _, h := range s.Holders {
		if p := pct(h.Percent); p > top {
			top = p
		}
	}
	if top > c.limits.MaxTopHolderPct {
		flags = append(flags, domain.FlagHolderConcentration)
	}
	return c.verdict(flags), nil
}

// pct converts a fraction string such as "0.05" to percent. Unparsable is 0.
func pct(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f * 100
}

func (c *HTTPClient) verdict(flags []domain.SafetyFlag) domain.SafetyVerdict {
	return domain.SafetyVerdict{
		Passed:    len(flags) == 0,
		Flags:     flags,
		CheckedAt: c.now().UnixMilli(),
	}
}

// get fetches endpoint with retries and returns the result payload.
func (c *HTTPClient) get(ctx context.Context, endpoint string) (json.RawMessage, error) {
	var out apiResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch {
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
	b.InitialInterval = c.retryDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if out.Code != 1 {
		return nil, fmt.Errorf("%w: code %d: %s", ErrUnavailable, out.Code, out.Message)
	}
	if len(out.Result) == 0 || string(out.Result) == "null" {
		return nil, fmt.Errorf("%w: empty result", ErrUnavailable)
	}
	return out.Result, nil
}

func (c *HTTPClient) cached(key string) (domain.SafetyVerdict, bool) {
	if c.cacheTTL <= 0 {
		return domain.SafetyVerdict{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.cache[key]
	if !ok {
		return domain.SafetyVerdict{}, false
	}
	if c.now().UnixMilli()-v.CheckedAt >= c.cacheTTL.Milliseconds() {
		delete(c.cache, key)
		return domain.SafetyVerdict{}, false
	}
	return v, true
}

func (c *HTTPClient) store(key string, v domain.SafetyVerdict) {
	if c.cacheTTL <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = v
}
