package domain

import "github.com/shopspring/decimal"

// EventType classifies an entry in the append-only event log.
type EventType string

const (
	EventPositionOpened    EventType = "POSITION_OPENED"
	EventTPHit             EventType = "TP_HIT"
	EventTrailingArmed     EventType = "TRAILING_ARMED"
	EventHighWater         EventType = "HIGH_WATER"
	EventPositionClosed    EventType = "POSITION_CLOSED"
	EventCandidateRejected EventType = "CANDIDATE_REJECTED"
	EventDailyReset        EventType = "DAILY_RESET"
	EventRiskPaused        EventType = "RISK_PAUSED"
	EventRiskResumed       EventType = "RISK_RESUMED"
)

// IsPositionEvent reports whether events of this type mutate a position.
func (t EventType) IsPositionEvent() bool {
	switch t {
	case EventPositionOpened, EventTPHit, EventTrailingArmed, EventHighWater, EventPositionClosed:
		return true
	}
	return false
}

// Event is one state-affecting record. Replaying all events in Seq order
// reconstructs live positions, pool occupancy and risk state.
type Event struct {
	EventID    string // deterministic hash
	Seq        int64  // global sequence, strictly increasing
	Type       EventType
	PositionID string // empty for non-position events
	Pool       PoolName
	Chain      Chain
	Token      string
	Price      float64         // fill price, trigger price or high-water mark
	Fraction   float64         // fraction of original size sold, or entry size on open
	StopPct    float64         // stop after the event
	Level      int             // ladder index for TP_HIT, -1 otherwise
	Reason     string          // close reason, reject reason or pause reason
	PnL        decimal.Decimal // realized by this event; position total on POSITION_CLOSED
	At         int64           // ms
	Payload    []byte          // JSON, type specific
}
