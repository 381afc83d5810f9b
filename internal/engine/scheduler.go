package engine

import (
	"context"
	"fmt"
	"time"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/notify"
	"moonshot-engine/internal/observability"
)

// schedule fires the day rollover at each trading-day boundary. In between it
// refreshes the risk gauges and retries event appends that failed.
func (e *Engine) schedule(ctx context.Context) {
	refresh := time.NewTicker(e.riskRefresh)
	defer refresh.Stop()

	for {
		now := e.now()
		boundary := e.gov.NextBoundary(now.UnixMilli())
		timer := time.NewTimer(boundary.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-refresh.C:
			timer.Stop()
			_ = e.journal.Flush(ctx)
			e.refreshRisk()
		case <-timer.C:
			e.rollover(ctx)
		}
	}
}

// rollover closes out finished trading days: persists their stats, journals
// DAILY_RESET and sends the daily summary.
func (e *Engine) rollover(ctx context.Context) {
	at := e.now().UnixMilli()
	days, evs := e.gov.ResetDay(at)
	if len(days) == 0 {
		return
	}

	for i := range days {
		d := days[i]
		e.storeStats(ctx, &d)
		e.log.Info().
			Str("day", d.Day).
			Int("trades", d.Trades).
			Int("wins", d.Wins).
			Int("losses", d.Losses).
			Str("pnl", d.RealizedPnL.StringFixed(2)).
			Msg("trading day closed")
		e.publish(summary(d, at))
	}
	e.recordSystem(ctx, evs)
	e.refreshRisk()
}

// flushStats persists the running day so a restart mid-day loses nothing.
func (e *Engine) flushStats(ctx context.Context) {
	d := e.gov.Stats(e.now().UnixMilli())
	if d.Day == "" {
		return
	}
	e.storeStats(ctx, &d)
}

func (e *Engine) storeStats(ctx context.Context, d *domain.DailyStats) {
	if e.daily == nil {
		return
	}
	if err := e.daily.Upsert(ctx, d); err != nil {
		e.log.Warn().Err(err).Str("day", d.Day).Msg("daily stats not stored")
	}
}

func (e *Engine) refreshRisk() {
	st := e.gov.State(e.now().UnixMilli())
	pnl, _ := st.RealizedPnL.Float64()
	observability.UpdateRisk(pnl, st.Paused)
}

func summary(d domain.DailyStats, at int64) notify.Notification {
	winRate := 0.0
	if d.Trades > 0 {
		winRate = float64(d.Wins) / float64(d.Trades) * 100
	}
	return notify.Notification{
		Kind:     notify.KindDailySummary,
		Severity: notify.SeverityMedium,
		Title:    fmt.Sprintf("Daily summary %s", d.Day),
		Fields: []notify.Field{
			{Name: "Trades", Value: fmt.Sprintf("%d", d.Trades)},
			{Name: "Wins", Value: fmt.Sprintf("%d", d.Wins)},
			{Name: "Losses", Value: fmt.Sprintf("%d", d.Losses)},
			{Name: "Win rate", Value: fmt.Sprintf("%.0f%%", winRate)},
			{Name: "P&L", Value: d.RealizedPnL.StringFixed(2)},
			{Name: "Worst streak", Value: fmt.Sprintf("%d", d.MaxConsecutiveLoss)},
		},
		At: at,
	}
}
