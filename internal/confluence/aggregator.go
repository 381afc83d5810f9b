// Package confluence evaluates the ten independent entry signals of a
// candidate and folds them into a count and a weighted confidence.
package confluence

import (
	"fmt"

	"moonshot-engine/internal/domain"
)

// Params holds signal weights and thresholds.
type Params struct {
	Weights           map[domain.Signal]float64
	MinLiquidityUSD   float64
	MinHolders        int
	MaxTopHolderPct   float64
	MinBuyPressure    float64
	MinMomentumScore  float64
	MinSmartWallets   int
	MinMentions       int
	FreshMaxAge       float64 // minutes
	StableMinVolume1h float64
	MaxTaxPct         float64 // red flag above this
	MaxDump5mPct      float64 // red flag below this, e.g. -20
}

// DefaultWeights returns the shipped signal weights. Safety and no-red-flags
// carry the most weight, social buzz the least.
func DefaultWeights() map[domain.Signal]float64 {
	return map[domain.Signal]float64{
		domain.SignalSafety:      3,
		domain.SignalLiquidity:   1,
		domain.SignalHolders:     1,
		domain.SignalVolume:      1,
		domain.SignalBuyPressure: 1,
		domain.SignalMomentum:    2,
		domain.SignalSmartMoney:  2,
		domain.SignalSocialBuzz:  0.5,
		domain.SignalFresh:       1,
		domain.SignalNoRedFlags:  3,
	}
}

// DefaultParams returns the shipped thresholds.
func DefaultParams() Params {
	return Params{
		Weights:           DefaultWeights(),
		MinLiquidityUSD:   3000,
		MinHolders:        20,
		MaxTopHolderPct:   20,
		MinBuyPressure:    0.55,
		MinMomentumScore:  50,
		MinSmartWallets:   2,
		MinMentions:       20,
		FreshMaxAge:       240,
		StableMinVolume1h: 1000,
		MaxTaxPct:         5,
		MaxDump5mPct:      -20,
	}
}

// Aggregator evaluates confluence. It is pure and safe for concurrent use.
type Aggregator struct {
	p     Params
	total float64
}

// NewAggregator creates an aggregator. Signals absent from p.Weights weigh 1.
func NewAggregator(p Params) *Aggregator {
	a := &Aggregator{p: p}
	for _, s := range domain.AllSignals {
		a.total += a.weight(s)
	}
	return a
}

func (a *Aggregator) weight(s domain.Signal) float64 {
	if w, ok := a.p.Weights[s]; ok {
		return w
	}
	return 1
}

// Evaluate computes the confluence result. A nil verdict means the safety
// query produced nothing and fails both safety-derived signals.
func (a *Aggregator) Evaluate(
	c *domain.TokenCandidate,
	verdict *domain.SafetyVerdict,
	q domain.QualityScore,
	aux domain.AuxSignals,
) domain.ConfluenceResult {
	var r domain.ConfluenceResult
	var satisfied float64

	for i, s := range domain.AllSignals {
		pass, actual := a.evaluate(s, c, verdict, q, aux)
		w := a.weight(s)
		r.Signals[i] = domain.SignalResult{Signal: s, Pass: pass, Weight: w, Actual: actual}
		if pass {
			r.Count++
			satisfied += w
		}
	}

	if a.total > 0 {
		r.Confidence = satisfied / a.total
	}
	return r
}

func (a *Aggregator) evaluate(
	s domain.Signal,
	c *domain.TokenCandidate,
	verdict *domain.SafetyVerdict,
	q domain.QualityScore,
	aux domain.AuxSignals,
) (bool, string) {
	m := c.Metrics

	switch s {
	case domain.SignalSafety:
		if verdict == nil {
			return false, "no verdict"
		}
		if verdict.Has(domain.FlagUnavailable) {
			return false, string(domain.FlagUnavailable)
		}
		return verdict.Passed, fmt.Sprintf("flags=%v", verdict.Flags)

	case domain.SignalLiquidity:
		if m.LiquidityUSD == nil {
			return false, "missing"
		}
		liq := *m.LiquidityUSD
		if liq < a.p.MinLiquidityUSD {
			return false, fmt.Sprintf("%.0f", liq)
		}
		// Deep liquidity with almost no volume is a common bait setup.
		if m.Volume24hUSD == nil {
			return false, fmt.Sprintf("%.0f no volume", liq)
		}
		if vol := *m.Volume24hUSD; liq > 10*vol && vol < 1000 {
			return false, fmt.Sprintf("%.0f suspicious", liq)
		}
		return true, fmt.Sprintf("%.0f", liq)

	case domain.SignalHolders:
		if m.HolderCount == nil || m.TopHolderPct == nil {
			return false, "missing"
		}
		pass := *m.HolderCount >= a.p.MinHolders && *m.TopHolderPct <= a.p.MaxTopHolderPct
		return pass, fmt.Sprintf("holders=%d top=%.1f%%", *m.HolderCount, *m.TopHolderPct)

	case domain.SignalVolume:
		switch m.VolumeTrend {
		case domain.VolumeTrendIncreasing:
			return true, string(m.VolumeTrend)
		case domain.VolumeTrendStable:
			if m.Volume1hUSD != nil && *m.Volume1hUSD > a.p.StableMinVolume1h {
				return true, fmt.Sprintf("STABLE %.0f/h", *m.Volume1hUSD)
			}
		}
		return false, string(m.VolumeTrend)

	case domain.SignalBuyPressure:
		bp, ok := m.BuyPressure()
		if !ok {
			return false, "missing"
		}
		return bp >= a.p.MinBuyPressure, fmt.Sprintf("%.2f", bp)

	case domain.SignalMomentum:
		return q.Momentum >= a.p.MinMomentumScore, fmt.Sprintf("%.0f", q.Momentum)

	case domain.SignalSmartMoney:
		n := 0
		for _, w := range c.SmartWallets {
			if domain.IsWalletAddress(c.Chain, w) {
				n++
			}
		}
		return aux.SmartMoney || n >= a.p.MinSmartWallets, fmt.Sprintf("wallets=%d flag=%t", n, aux.SmartMoney)

	case domain.SignalSocialBuzz:
		mentions := 0
		if m.SocialMentions != nil {
			mentions = *m.SocialMentions
		}
		return aux.SocialBuzz || mentions >= a.p.MinMentions, fmt.Sprintf("mentions=%d flag=%t", mentions, aux.SocialBuzz)

	case domain.SignalFresh:
		return c.AgeMinutes >= 0 && c.AgeMinutes <= a.p.FreshMaxAge, fmt.Sprintf("%.0fm", c.AgeMinutes)

	case domain.SignalNoRedFlags:
		if verdict == nil {
			return false, "no verdict"
		}
		if verdict.Has(domain.FlagUnavailable) {
			return false, string(domain.FlagUnavailable)
		}
		if flag := a.redFlag(verdict, m); flag != "" {
			return false, flag
		}
		return true, "clean"
	}

	return false, "unknown signal"
}

// redFlag returns the first red flag found, or "".
func (a *Aggregator) redFlag(v *domain.SafetyVerdict, m domain.RawMetrics) string {
	for _, f := range []domain.SafetyFlag{
		domain.FlagHoneypot,
		domain.FlagMintEnabled,
		domain.FlagProxy,
		domain.FlagCanPause,
		domain.FlagTaxTooHigh,
	} {
		if v.Has(f) {
			return string(f)
		}
	}

	switch {
	case m.MintEnabled != nil && *m.MintEnabled:
		return "mint"
	case m.Proxy != nil && *m.Proxy:
		return "proxy"
	case m.CanPause != nil && *m.CanPause:
		return "can-pause"
	case m.TaxPct != nil && *m.TaxPct > a.p.MaxTaxPct:
		return fmt.Sprintf("tax=%.1f%%", *m.TaxPct)
	case m.PriceChange5mPct != nil && *m.PriceChange5mPct < a.p.MaxDump5mPct:
		return fmt.Sprintf("dump=%.1f%%", *m.PriceChange5mPct)
	}
	return ""
}
