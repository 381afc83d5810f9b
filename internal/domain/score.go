package domain

// QualityScore is the composite 0-100 quality score and its sub-scores.
type QualityScore struct {
	Value     int     // rounded composite, 0-100
	Liquidity float64 // 0-100
	Pattern   float64 // 0-100
	Momentum  float64 // 0-100
	Social    float64 // 0-100
}

// Signal names one of the ten confluence signals.
type Signal string

const (
	SignalSafety      Signal = "safety"
	SignalLiquidity   Signal = "liquidity"
	SignalHolders     Signal = "holders"
	SignalVolume      Signal = "volume"
	SignalBuyPressure Signal = "buy_pressure"
	SignalMomentum    Signal = "momentum"
	SignalSmartMoney  Signal = "smart_money"
	SignalSocialBuzz  Signal = "social_buzz"
	SignalFresh       Signal = "fresh"
	SignalNoRedFlags  Signal = "no_red_flags"
)

// AllSignals lists the confluence signals in evaluation order.
var AllSignals = [...]Signal{
	SignalSafety,
	SignalLiquidity,
	SignalHolders,
	SignalVolume,
	SignalBuyPressure,
	SignalMomentum,
	SignalSmartMoney,
	SignalSocialBuzz,
	SignalFresh,
	SignalNoRedFlags,
}

// SignalResult is the evaluation of a single confluence signal.
type SignalResult struct {
	Signal Signal
	Pass   bool
	Weight float64
	Actual string // observed value, for logs and rejection records
}

// ConfluenceResult is the output of the confluence aggregator.
type ConfluenceResult struct {
	Signals    [len(AllSignals)]SignalResult
	Count      int     // signals satisfied
	Confidence float64 // satisfied weight / total weight, in [0,1]
}

// Passed reports whether signal s was satisfied.
func (r ConfluenceResult) Passed(s Signal) bool {
	for _, sr := range r.Signals {
		if sr.Signal == s {
			return sr.Pass
		}
	}
	return false
}
