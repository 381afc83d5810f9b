// Package risk implements the circuit breaker that gates new admissions on
// daily realized loss and losing streaks.
//
// The Governor never touches open positions. Every state change it makes is
// either derived from a POSITION_CLOSED event or returned to the caller as an
// event to persist, so folding the event log through Apply rebuilds the same
// state.
package risk

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"moonshot-engine/internal/domain"
)

// ErrDailyLossLocked is returned when an operator tries to resume a
// daily-loss pause. Only the next trading day clears it.
var ErrDailyLossLocked = errors.New("daily loss pause clears at day rollover")

// Params configures the governor.
type Params struct {
	Capital              decimal.Decimal // allocated capital the daily limit applies to
	DailyLossLimitPct    float64         // e.g. 0.15
	MaxConsecutiveLosses int
	Cooldown             time.Duration // consecutive-loss pause length
	Location             *time.Location
}

// Governor owns the process-wide RiskState.
type Governor struct {
	mu       sync.Mutex
	p        Params
	st       domain.RiskState
	finished []domain.DailyStats // days rolled over but not yet reported
}

// New creates a governor. The trading day is set by the first call that
// carries a timestamp, so a fresh governor can replay history from any point.
func New(p Params) *Governor {
	if p.Location == nil {
		p.Location = time.UTC
	}
	return &Governor{p: p, st: domain.RiskState{RealizedPnL: decimal.Zero}}
}

// DayOf returns the trading day containing ms in the governor's time zone.
func (g *Governor) DayOf(ms int64) string {
	return g.dayOf(ms)
}

func (g *Governor) dayOf(ms int64) string {
	return time.UnixMilli(ms).In(g.p.Location).Format("2006-01-02")
}

// NextBoundary returns the start of the trading day after the one containing ms.
func (g *Governor) NextBoundary(ms int64) time.Time {
	t := time.UnixMilli(ms).In(g.p.Location)
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, g.p.Location)
}

// Allow reports whether admissions are open at nowMs. It rolls the day over
// and expires the loss cooldown lazily.
func (g *Governor) Allow(nowMs int64) (bool, domain.PauseReason) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.advance(nowMs)
	if g.st.Paused {
		return false, g.st.PauseReason
	}
	return true, domain.PauseNone
}

// RecordClose folds one closure into the day. It returns a RISK_PAUSED event
// when the closure trips a breaker.
func (g *Governor) RecordClose(pnl decimal.Decimal, atMs int64) []domain.Event {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.recordClose(pnl, atMs)
}

func (g *Governor) recordClose(pnl decimal.Decimal, atMs int64) []domain.Event {
	g.advance(atMs)

	g.st.RealizedPnL = g.st.RealizedPnL.Add(pnl)
	g.st.Trades++
	if domain.IsWin(pnl) {
		g.st.Wins++
		g.st.ConsecutiveLosses = 0
	} else {
		g.st.Losses++
		g.st.ConsecutiveLosses++
		if g.st.ConsecutiveLosses > g.st.MaxConsecutiveLosses {
			g.st.MaxConsecutiveLosses = g.st.ConsecutiveLosses
		}
	}

	switch {
	case g.dailyLimitHit():
		return g.pause(domain.PauseDailyLoss, atMs, 0)
	case g.p.MaxConsecutiveLosses > 0 && g.st.ConsecutiveLosses >= g.p.MaxConsecutiveLosses:
		return g.pause(domain.PauseConsecutiveLosses, atMs, atMs+g.p.Cooldown.Milliseconds())
	}
	return nil
}

func (g *Governor) dailyLimitHit() bool {
	limit := g.p.Capital.Mul(decimal.NewFromFloat(g.p.DailyLossLimitPct))
	return g.st.RealizedPnL.Neg().GreaterThan(limit)
}

// Pause raises an explicit pause, used for persistence and execution
// failures. Only an operator resume clears it.
func (g *Governor) Pause(reason domain.PauseReason, atMs int64) []domain.Event {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.advance(atMs)
	return g.pause(reason, atMs, 0)
}

// rank orders pause reasons; a pause never downgrades a stronger one.
func rank(r domain.PauseReason) int {
	switch r {
	case domain.PauseConsecutiveLosses:
		return 1
	case domain.PauseDailyLoss:
		return 2
	case domain.PausePersistenceFailure, domain.PauseExecutionFailure:
		return 3
	}
	return 0
}

func (g *Governor) pause(reason domain.PauseReason, atMs, resumeAt int64) []domain.Event {
	if g.st.Paused && rank(reason) < rank(g.st.PauseReason) {
		return nil
	}
	fresh := !g.st.Paused || g.st.PauseReason != reason

	g.st.Paused = true
	g.st.PauseReason = reason
	g.st.PausedAt = atMs
	g.st.ResumeAt = resumeAt
	if !fresh {
		return nil
	}
	g.st.PauseCount++
	return []domain.Event{{
		Type:   domain.EventRiskPaused,
		Reason: string(reason),
		Level:  -1,
		PnL:    g.st.RealizedPnL,
		At:     atMs,
	}}
}

// Resume is the operator override. It clears any pause except a daily-loss
// pause and resets the losing streak.
func (g *Governor) Resume(atMs int64) ([]domain.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.advance(atMs)
	if !g.st.Paused {
		return nil, nil
	}
	if g.st.PauseReason == domain.PauseDailyLoss {
		return nil, ErrDailyLossLocked
	}
	prev := g.st.PauseReason
	g.resume()
	return []domain.Event{{
		Type:   domain.EventRiskResumed,
		Reason: string(prev),
		Level:  -1,
		At:     atMs,
	}}, nil
}

func (g *Governor) resume() {
	g.st.Paused = false
	g.st.PauseReason = domain.PauseNone
	g.st.PausedAt = 0
	g.st.ResumeAt = 0
	g.st.ConsecutiveLosses = 0
}

// ResetDay is called by the scheduler at the day boundary. It returns the
// stats of every day that ended since the last call, oldest first, and a
// DAILY_RESET event when at least one day ended.
func (g *Governor) ResetDay(nowMs int64) ([]domain.DailyStats, []domain.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.advance(nowMs)
	if len(g.finished) == 0 {
		return nil, nil
	}
	done := g.finished
	g.finished = nil
	return done, []domain.Event{{
		Type:   domain.EventDailyReset,
		Reason: g.st.Day,
		Level:  -1,
		At:     nowMs,
	}}
}

// advance rolls the trading day and expires the consecutive-loss cooldown.
// Both depend only on time, so replay reaches the same state without events.
func (g *Governor) advance(nowMs int64) {
	if day := g.dayOf(nowMs); day > g.st.Day {
		g.roll(day, nowMs)
	}
	if g.st.Paused && g.st.PauseReason == domain.PauseConsecutiveLosses &&
		g.st.ResumeAt > 0 && nowMs >= g.st.ResumeAt {
		g.resume()
	}
}

func (g *Governor) roll(day string, nowMs int64) {
	if g.st.Day != "" {
		g.finished = append(g.finished, g.stats(nowMs))
	}

	paused, reason, pausedAt, resumeAt := g.st.Paused, g.st.PauseReason, g.st.PausedAt, g.st.ResumeAt
	g.st = domain.RiskState{Day: day, RealizedPnL: decimal.Zero}
	if paused && reason != domain.PauseDailyLoss {
		g.st.Paused = true
		g.st.PauseReason = reason
		g.st.PausedAt = pausedAt
		g.st.ResumeAt = resumeAt
	}
}

func (g *Governor) stats(nowMs int64) domain.DailyStats {
	return domain.DailyStats{
		Day:                g.st.Day,
		Trades:             g.st.Trades,
		Wins:               g.st.Wins,
		Losses:             g.st.Losses,
		RealizedPnL:        g.st.RealizedPnL,
		MaxConsecutiveLoss: g.st.MaxConsecutiveLosses,
		PauseCount:         g.st.PauseCount,
		UpdatedAt:          nowMs,
	}
}

// Stats returns the running stats of the current day.
func (g *Governor) Stats(nowMs int64) domain.DailyStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.advance(nowMs)
	return g.stats(nowMs)
}

// State returns a snapshot of the risk state as of nowMs.
func (g *Governor) State(nowMs int64) domain.RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.advance(nowMs)
	return g.st
}

// Restore replaces the state, e.g. with one rebuilt from the event log.
func (g *Governor) Restore(st domain.RiskState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.st = st
	g.finished = nil
}

// Apply folds a persisted event into the state. Pauses derived from closures
// are recomputed from POSITION_CLOSED, so only explicit pauses, operator
// resumes and resets are taken from their own events.
func (g *Governor) Apply(ev *domain.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch ev.Type {
	case domain.EventPositionClosed:
		g.recordClose(ev.PnL, ev.At)
	case domain.EventRiskPaused:
		switch reason := domain.PauseReason(ev.Reason); reason {
		case domain.PausePersistenceFailure, domain.PauseExecutionFailure:
			g.advance(ev.At)
			g.pause(reason, ev.At, 0)
		}
	case domain.EventRiskResumed:
		g.advance(ev.At)
		if g.st.Paused && g.st.PauseReason != domain.PauseDailyLoss {
			g.resume()
		}
	case domain.EventDailyReset:
		g.advance(ev.At)
	}
	g.finished = nil
}
