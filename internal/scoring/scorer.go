// Package scoring computes the 0-100 quality score of a token candidate.
//
// Each of the four sub-scores is a tiered function of raw scanner metrics,
// normalized to [0,100]. A missing metric always scores as its worst case so
// gaps in scanner data can never raise a candidate's score.
package scoring

import (
	"math"

	"moonshot-engine/internal/domain"
)

// Weights is the convex combination applied to the sub-scores.
type Weights struct {
	Liquidity float64
	Pattern   float64
	Momentum  float64
	Social    float64
}

// DefaultWeights returns the shipped sub-score weights.
func DefaultWeights() Weights {
	return Weights{Liquidity: 0.30, Pattern: 0.30, Momentum: 0.25, Social: 0.15}
}

// Params configures a Scorer.
type Params struct {
	Weights         Weights
	MinLiquidityUSD float64 // liquidity below this scores zero
	MaxTopHolderPct float64 // concentration above this is penalized
	MentionCap      int     // mentions beyond this add nothing
}

// DefaultParams returns the shipped scoring parameters.
func DefaultParams() Params {
	return Params{
		Weights:         DefaultWeights(),
		MinLiquidityUSD: 3000,
		MaxTopHolderPct: 20,
		MentionCap:      200,
	}
}

// Scorer computes QualityScore values. It is stateless and safe for
// concurrent use.
type Scorer struct {
	p Params
}

// NewScorer creates a scorer.
func NewScorer(p Params) *Scorer {
	if p.MentionCap < 1 {
		p.MentionCap = 1
	}
	return &Scorer{p: p}
}

// Score computes the quality score for c. It never fails.
func (s *Scorer) Score(c *domain.TokenCandidate) domain.QualityScore {
	m := c.Metrics

	q := domain.QualityScore{
		Liquidity: s.liquidity(m),
		Pattern:   s.pattern(m),
		Momentum:  momentum(m),
		Social:    s.social(c),
	}

	w := s.p.Weights
	composite := w.Liquidity*q.Liquidity + w.Pattern*q.Pattern + w.Momentum*q.Momentum + w.Social*q.Social
	q.Value = int(math.Round(clamp(composite)))
	return q
}

func (s *Scorer) liquidity(m domain.RawMetrics) float64 {
	if m.LiquidityUSD == nil {
		return 0
	}
	liq := *m.LiquidityUSD
	switch {
	case liq < s.p.MinLiquidityUSD:
		return 0
	case liq >= 100_000:
		return 100
	case liq >= 50_000:
		return 90
	case liq >= 20_000:
		return 75
	case liq >= 10_000:
		return 60
	case liq >= 5_000:
		return 40
	default:
		return 20
	}
}

// pattern scores trading activity: turnover, buy pressure, trade count and
// holder concentration.
func (s *Scorer) pattern(m domain.RawMetrics) float64 {
	var score float64

	// Volume / liquidity turnover
	turnover := -1.0
	if m.Volume24hUSD != nil && m.LiquidityUSD != nil && *m.LiquidityUSD > 0 {
		turnover = *m.Volume24hUSD / *m.LiquidityUSD
	}
	switch {
	case turnover >= 1:
		score += 40
	case turnover >= 0.5:
		score += 35
	case turnover >= 0.2:
		score += 25
	case turnover >= 0.1:
		score += 15
	default:
		score += 5
	}

	if bp, ok := m.BuyPressure(); ok {
		switch {
		case bp >= 0.7:
			score += 35
		case bp >= 0.6:
			score += 30
		case bp >= 0.5:
			score += 20
		case bp >= 0.4:
			score += 10
		}
	}

	switch n := m.TxnCount(); {
	case n >= 100:
		score += 25
	case n >= 50:
		score += 20
	case n >= 20:
		score += 15
	default:
		score += 5
	}

	if m.TopHolderPct == nil || *m.TopHolderPct > s.p.MaxTopHolderPct {
		score -= 20
	}

	return clamp(score)
}

// momentum scores short and medium price change, volume trend and the EMA
// relationship.
func momentum(m domain.RawMetrics) float64 {
	var score float64

	if m.PriceChange5mPct != nil {
		switch c := *m.PriceChange5mPct; {
		case c > 10:
			score += 30
		case c > 5:
			score += 25
		case c > 0:
			score += 15
		case c > -5:
			score += 10
		}
	}

	if m.PriceChange1hPct != nil {
		switch c := *m.PriceChange1hPct; {
		case c > 20:
			score += 35
		case c > 10:
			score += 30
		case c > 0:
			score += 20
		case c > -10:
			score += 10
		}
	}

	switch m.VolumeTrend {
	case domain.VolumeTrendIncreasing:
		score += 35
	case domain.VolumeTrendStable:
		score += 20
	default:
		score += 5
	}

	// EMA crossover: bullish above a 2% band, bearish below it. Missing EMAs
	// count as bearish.
	switch {
	case m.EMAFast == nil || m.EMASlow == nil:
		score -= 10
	case *m.EMAFast > *m.EMASlow*1.02:
		score += 10
	case *m.EMAFast < *m.EMASlow*0.98:
		score -= 10
	}

	return clamp(score)
}

func (s *Scorer) social(c *domain.TokenCandidate) float64 {
	var score float64

	if c.Metrics.SocialMentions != nil && *c.Metrics.SocialMentions > 0 {
		mentions := math.Min(float64(*c.Metrics.SocialMentions), float64(s.p.MentionCap))
		score += mentions / float64(s.p.MentionCap) * 50
	}

	switch n := len(c.SmartWallets); {
	case n >= 3:
		score += 50
	case n >= 1:
		score += 30
	}

	return clamp(score)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
