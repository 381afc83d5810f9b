package domain

import "github.com/shopspring/decimal"

// PauseReason explains why admissions are paused.
type PauseReason string

const (
	PauseNone               PauseReason = ""
	PauseDailyLoss          PauseReason = "daily-loss"
	PauseConsecutiveLosses  PauseReason = "consecutive-losses"
	PausePersistenceFailure PauseReason = "persistence-failure"
	PauseExecutionFailure   PauseReason = "execution-failure"
)

// RiskState is the process-wide, day-scoped circuit breaker state.
type RiskState struct {
	Day                  string          // trading day, YYYY-MM-DD
	RealizedPnL          decimal.Decimal // realized P&L for Day
	ConsecutiveLosses    int
	MaxConsecutiveLosses int // worst streak seen during Day
	Trades               int
	Wins                 int
	Losses               int
	PauseCount           int // pauses raised during Day
	Paused               bool
	PauseReason          PauseReason
	PausedAt             int64 // ms
	ResumeAt             int64 // ms; zero when only a day change or operator can resume
}

// DailyStats is the persisted per-day summary.
type DailyStats struct {
	Day                string
	Trades             int
	Wins               int
	Losses             int
	RealizedPnL        decimal.Decimal
	MaxConsecutiveLoss int
	PauseCount         int
	UpdatedAt          int64 // ms
}
