package domain

import "github.com/shopspring/decimal"

// PositionState is the lifecycle state of a position.
type PositionState string

const (
	StateOpen            PositionState = "OPEN"
	StatePartiallyExited PositionState = "PARTIALLY_EXITED"
	StateClosed          PositionState = "CLOSED"
)

// IsLive reports whether positions in this state are monitored.
func (s PositionState) IsLive() bool {
	return s == StateOpen || s == StatePartiallyExited
}

// CloseReason is the terminal sub-reason of a closed position.
type CloseReason string

const (
	CloseStopLoss     CloseReason = "STOP_LOSS"
	CloseTimeExit     CloseReason = "TIME_EXIT"
	CloseLadderedOut  CloseReason = "LADDERED_OUT"
	CloseTrailingStop CloseReason = "TRAILING_STOP"
	CloseManual       CloseReason = "MANUAL"
	CloseEmergency    CloseReason = "EMERGENCY"
)

// Position is one admitted trade. All mutation happens by applying events.
type Position struct {
	ID          string
	Chain       Chain
	Address     string
	Symbol      string
	Pool        PoolName
	State       PositionState
	EntryPrice  float64         // actual fill price
	EntrySize   float64         // fraction of pool capital
	EntryValue  decimal.Decimal // capital committed at entry
	Remaining   float64         // fraction of the original size still held, in [0,1]
	StopPct     float64         // stop relative to entry, only ratchets upward
	FiredLevels []int           // ladder indices already fired, ascending
	Trailing    bool            // moon mode armed
	HighWater   float64         // high-water mark price once trailing
	RealizedPnL decimal.Decimal
	OpenedAt    int64 // ms
	ClosedAt    int64 // ms, zero while live
	CloseReason CloseReason
	Seq         int64 // sequence of the last applied event
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	c := *p
	if p.FiredLevels != nil {
		c.FiredLevels = append([]int(nil), p.FiredLevels...)
	}
	return &c
}

// IsLive reports whether the position is still monitored.
func (p *Position) IsLive() bool {
	return p.State.IsLive()
}

// Fired reports whether ladder level idx has already fired.
func (p *Position) Fired(idx int) bool {
	for _, l := range p.FiredLevels {
		if l == idx {
			return true
		}
	}
	return false
}

// StopPrice returns the absolute price of the ratcheted stop.
func (p *Position) StopPrice() float64 {
	return p.EntryPrice * (1 + p.StopPct)
}

// UnrealizedPct returns the move from entry at price, as a fraction.
func (p *Position) UnrealizedPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return price/p.EntryPrice - 1
}

// AgeMs returns how long the position has been open at nowMs.
func (p *Position) AgeMs(nowMs int64) int64 {
	return nowMs - p.OpenedAt
}
