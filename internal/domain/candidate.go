package domain

// VolumeTrend is the scanner's classification of recent volume direction.
type VolumeTrend string

const (
	VolumeTrendUnknown    VolumeTrend = ""
	VolumeTrendIncreasing VolumeTrend = "INCREASING"
	VolumeTrendStable     VolumeTrend = "STABLE"
	VolumeTrendDecreasing VolumeTrend = "DECREASING"
)

// TokenCandidate is an immutable snapshot of a token produced by a scanner.
// A nil metric means the scanner could not observe it.
type TokenCandidate struct {
	Chain        Chain
	Address      string  // contract / mint address
	Symbol       string  // display only
	AgeMinutes   float64 // minutes since listing
	ObservedAt   int64   // snapshot timestamp (ms)
	Metrics      RawMetrics
	SmartWallets []string // tracked wallets seen buying this token
}

// RawMetrics holds the scanner's raw observations for a candidate.
type RawMetrics struct {
	PriceUSD         *float64
	LiquidityUSD     *float64
	Volume1hUSD      *float64
	Volume24hUSD     *float64
	Buys1h           *int
	Sells1h          *int
	HolderCount      *int
	TopHolderPct     *float64 // 0-100
	TaxPct           *float64 // max(buy, sell) tax, 0-100
	LPLocked         *bool
	MintEnabled      *bool
	Proxy            *bool
	CanPause         *bool
	PriceChange5mPct *float64
	PriceChange1hPct *float64
	VolumeTrend      VolumeTrend
	EMAFast          *float64
	EMASlow          *float64
	SocialMentions   *int
}

// BuyPressure returns buys / (buys + sells) over the last hour.
// ok is false when either count is missing or there were no trades.
func (m RawMetrics) BuyPressure() (ratio float64, ok bool) {
	if m.Buys1h == nil || m.Sells1h == nil {
		return 0, false
	}
	total := *m.Buys1h + *m.Sells1h
	if total <= 0 {
		return 0, false
	}
	return float64(*m.Buys1h) / float64(total), true
}

// TxnCount returns buys + sells over the last hour, or -1 if unknown.
func (m RawMetrics) TxnCount() int {
	if m.Buys1h == nil || m.Sells1h == nil {
		return -1
	}
	return *m.Buys1h + *m.Sells1h
}

// AuxSignals carries signals produced by collaborators other than the scanner.
type AuxSignals struct {
	SmartMoney bool // wallet tracker flagged coordinated smart-wallet buying
	SocialBuzz bool // social monitor flagged the token as trending
}
