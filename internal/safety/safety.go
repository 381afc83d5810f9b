// Package safety queries contract-security data for candidates and turns it
// into a pass/fail verdict. Every failure path ends in a failing verdict.
package safety

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/observability"
)

var (
	// ErrUnavailable is returned when the security service gave no usable answer.
	ErrUnavailable = errors.New("safety check unavailable")
	// ErrUnsupportedChain is returned for chains the service does not cover.
	ErrUnsupportedChain = errors.New("unsupported chain")
)

// Checker produces a safety verdict for a token.
type Checker interface {
	Check(ctx context.Context, chain domain.Chain, address string) (domain.SafetyVerdict, error)
}

// Thresholds are the limits above which a token is flagged.
type Thresholds struct {
	MaxTaxPct       float64 // buy or sell tax, 0-100
	MaxTopHolderPct float64 // 0-100
	MinLPLockedPct  float64 // Solana LP locked share, 0-100
}

// DefaultThresholds returns the shipped limits.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxTaxPct: 10, MaxTopHolderPct: 20, MinLPLockedPct: 50}
}

// FailClosed bounds a Checker with a timeout and maps every error to a
// failing verdict flagged unavailable. It never returns an error.
type FailClosed struct {
	next    Checker
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// NewFailClosed wraps next.
func NewFailClosed(next Checker, timeout time.Duration, log zerolog.Logger) *FailClosed {
	return &FailClosed{next: next, timeout: timeout, log: log, now: time.Now}
}

var _ Checker = (*FailClosed)(nil)

// Check runs the wrapped check.
func (f *FailClosed) Check(ctx context.Context, chain domain.Chain, address string) (domain.SafetyVerdict, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := f.now()
	v, err := f.next.Check(ctx, chain, address)
	observability.RecordSafetyLatency(f.now().Sub(start).Seconds())
	if err != nil {
		f.log.Warn().Err(err).
			Str("chain", string(chain)).
			Str("token", address).
			Msg("safety check failed closed")
		return domain.FailedVerdict(f.now().UnixMilli(), domain.FlagUnavailable), nil
	}
	return v, nil
}
