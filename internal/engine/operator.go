package engine

import (
	"context"
	"fmt"
	"time"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/notify"
	"moonshot-engine/internal/position"
)

// Status is the operator overview.
type Status struct {
	Session   string
	StartedAt time.Time
	Risk      domain.RiskState
	Occupancy map[domain.PoolName]int
	Pools     []domain.PoolConfig
	Open      int
	LastSeq   int64
}

// Status returns a snapshot of risk, occupancy and open positions.
func (e *Engine) Status() Status {
	return Status{
		Session:   e.session,
		StartedAt: e.startedAt,
		Risk:      e.gov.State(e.now().UnixMilli()),
		Occupancy: e.router.Occupancy(),
		Pools:     e.router.Pools(),
		Open:      e.positions.Count(),
		LastSeq:   e.journal.LastSeq(),
	}
}

// Risk returns the current risk state.
func (e *Engine) Risk() domain.RiskState {
	return e.gov.State(e.now().UnixMilli())
}

// Positions returns every monitored position.
func (e *Engine) Positions() []position.View {
	return e.positions.Snapshot()
}

// Position returns one monitored position.
func (e *Engine) Position(id string) (position.View, bool) {
	return e.positions.Get(id)
}

// Resume is the operator override for a pause. A daily-loss pause is refused
// with risk.ErrDailyLossLocked.
func (e *Engine) Resume(ctx context.Context) (domain.RiskState, error) {
	at := e.now().UnixMilli()
	evs, err := e.gov.Resume(at)
	if err != nil {
		return e.gov.State(at), err
	}
	if len(evs) > 0 {
		e.recordSystem(ctx, evs)
		e.log.Warn().Msg("admissions resumed by operator")
		e.publish(notify.Notification{
			Kind:     notify.KindSystem,
			Severity: notify.SeverityHigh,
			Title:    "Admissions resumed",
			Body:     "Operator override",
			At:       at,
		})
		e.refreshRisk()
	}
	return e.gov.State(at), nil
}

// ClosePosition exits one position at market.
func (e *Engine) ClosePosition(ctx context.Context, id string) error {
	return e.positions.Close(ctx, id, domain.CloseManual)
}

// CloseAll is the emergency exit for every live position.
func (e *Engine) CloseAll(ctx context.Context) error {
	n := e.positions.Count()
	e.log.Warn().Int("positions", n).Msg("emergency close requested")
	if err := e.positions.CloseAll(ctx, domain.CloseEmergency); err != nil {
		return fmt.Errorf("close all: %w", err)
	}
	return nil
}
