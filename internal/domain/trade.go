package domain

import "github.com/shopspring/decimal"

// TradeRecord summarizes a closed position for analytics.
type TradeRecord struct {
	PositionID string // same ID as the position
	Chain      Chain
	Address    string
	Symbol     string
	Pool       PoolName

	// Entry
	EntryPrice float64
	EntrySize  float64 // fraction of pool capital
	EntryValue decimal.Decimal
	OpenedAt   int64 // ms

	// Exit
	ExitPrice   float64 // price of the final fill
	CloseReason CloseReason
	ClosedAt    int64 // ms
	LevelsHit   int
	PeakPrice   float64

	// Outcome
	RealizedPnL  decimal.Decimal
	ReturnPct    float64 // realized pnl / entry value
	OutcomeClass string  // "WIN" | "LOSS"

	HoldDurationMs int64
	Day            string // trading day of closure
}

// Outcome class constants
const (
	OutcomeClassWin  = "WIN"
	OutcomeClassLoss = "LOSS"
)

// IsWin reports whether a realized P&L counts as profitable.
// Zero is treated as a win so breakeven exits reset the loss streak.
func IsWin(pnl decimal.Decimal) bool {
	return !pnl.IsNegative()
}
