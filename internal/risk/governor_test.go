package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"moonshot-engine/internal/domain"
)

var day0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC).UnixMilli()

func newTestGovernor() *Governor {
	return New(Params{
		Capital:              decimal.NewFromInt(100),
		DailyLossLimitPct:    0.15,
		MaxConsecutiveLosses: 3,
		Cooldown:             4 * time.Hour,
		Location:             time.UTC,
	})
}

func pnl(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func minutes(n int) int64 { return int64(n) * 60_000 }

func TestGovernor_ThreeLossesPause(t *testing.T) {
	g := newTestGovernor()

	for i := 0; i < 2; i++ {
		if evs := g.RecordClose(pnl(-1), day0+minutes(i)); len(evs) != 0 {
			t.Fatalf("loss %d paused early", i+1)
		}
	}
	evs := g.RecordClose(pnl(-1), day0+minutes(2))
	if len(evs) != 1 || evs[0].Type != domain.EventRiskPaused {
		t.Fatalf("third loss events = %+v, want one RISK_PAUSED", evs)
	}
	if evs[0].Reason != string(domain.PauseConsecutiveLosses) {
		t.Errorf("reason = %s", evs[0].Reason)
	}

	ok, reason := g.Allow(day0 + minutes(3))
	if ok || reason != domain.PauseConsecutiveLosses {
		t.Errorf("Allow = %v, %s; want paused by consecutive losses", ok, reason)
	}
}

func TestGovernor_WinResetsStreak(t *testing.T) {
	g := newTestGovernor()

	g.RecordClose(pnl(-1), day0)
	g.RecordClose(pnl(-1), day0+1)
	g.RecordClose(pnl(2), day0+2)
	if got := g.State(day0 + 3).ConsecutiveLosses; got != 0 {
		t.Fatalf("streak after win = %d, want 0", got)
	}

	g.RecordClose(pnl(-1), day0+4)
	st := g.State(day0 + 5)
	if st.ConsecutiveLosses != 1 {
		t.Errorf("streak = %d, want 1", st.ConsecutiveLosses)
	}
	if st.MaxConsecutiveLosses != 2 {
		t.Errorf("max streak = %d, want 2", st.MaxConsecutiveLosses)
	}
	if st.Paused {
		t.Error("should not be paused")
	}
}

func TestGovernor_BreakevenCountsAsWin(t *testing.T) {
	g := newTestGovernor()
	g.RecordClose(pnl(-1), day0)
	g.RecordClose(decimal.Zero, day0+1)

	st := g.State(day0 + 2)
	if st.ConsecutiveLosses != 0 || st.Wins != 1 {
		t.Errorf("breakeven: streak=%d wins=%d", st.ConsecutiveLosses, st.Wins)
	}
}

func TestGovernor_CooldownExpires(t *testing.T) {
	g := newTestGovernor()
	for i := 0; i < 3; i++ {
		g.RecordClose(pnl(-1), day0)
	}

	if ok, _ := g.Allow(day0 + (4*time.Hour).Milliseconds() - 1); ok {
		t.Fatal("cooldown cleared early")
	}
	if ok, _ := g.Allow(day0 + (4 * time.Hour).Milliseconds()); !ok {
		t.Fatal("cooldown should have expired")
	}
	if got := g.State(day0 + (4 * time.Hour).Milliseconds()).ConsecutiveLosses; got != 0 {
		t.Errorf("streak after cooldown = %d, want 0", got)
	}
}

func TestGovernor_DailyLossPause(t *testing.T) {
	g := newTestGovernor()

	// Limit is 15 on capital 100; exactly 15 does not exceed it.
	g.RecordClose(pnl(-10), day0)
	g.RecordClose(pnl(2), day0+1)
	if evs := g.RecordClose(pnl(-7), day0+2); len(evs) != 0 {
		t.Fatalf("loss of exactly the limit paused: %+v", evs)
	}
	evs := g.RecordClose(pnl(-0.01), day0+3)
	if len(evs) != 1 || evs[0].Reason != string(domain.PauseDailyLoss) {
		t.Fatalf("events = %+v, want daily-loss pause", evs)
	}

	if _, err := g.Resume(day0 + 4); !errors.Is(err, ErrDailyLossLocked) {
		t.Errorf("Resume err = %v, want ErrDailyLossLocked", err)
	}

	nextDay := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC).UnixMilli()
	if ok, _ := g.Allow(nextDay - 1); ok {
		t.Error("daily pause cleared before day end")
	}
	ok, _ := g.Allow(nextDay)
	if !ok {
		t.Fatal("daily pause should clear at the next day")
	}
	st := g.State(nextDay)
	if st.Day != "2026-03-03" || !st.RealizedPnL.IsZero() || st.Trades != 0 {
		t.Errorf("state not reset: %+v", st)
	}
}

func TestGovernor_ConsecutivePauseSurvivesRollover(t *testing.T) {
	g := newTestGovernor()
	late := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC).UnixMilli()
	for i := 0; i < 3; i++ {
		g.RecordClose(pnl(-1), late)
	}

	justAfterMidnight := time.Date(2026, 3, 3, 0, 30, 0, 0, time.UTC).UnixMilli()
	if ok, reason := g.Allow(justAfterMidnight); ok || reason != domain.PauseConsecutiveLosses {
		t.Errorf("Allow = %v, %s; consecutive pause must outlive the day", ok, reason)
	}
	if ok, _ := g.Allow(late + (4 * time.Hour).Milliseconds()); !ok {
		t.Error("cooldown should clear the pause on the next day")
	}
}

func TestGovernor_OperatorResume(t *testing.T) {
	g := newTestGovernor()
	for i := 0; i < 3; i++ {
		g.RecordClose(pnl(-1), day0)
	}

	evs, err := g.Resume(day0 + 1)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(evs) != 1 || evs[0].Type != domain.EventRiskResumed {
		t.Fatalf("events = %+v", evs)
	}
	if ok, _ := g.Allow(day0 + 2); !ok {
		t.Error("operator resume should reopen admissions")
	}

	// Not paused: resume is a no-op.
	if evs, err := g.Resume(day0 + 3); err != nil || len(evs) != 0 {
		t.Errorf("idle Resume = %v, %v", evs, err)
	}
}

func TestGovernor_ExplicitPauseOutranksDerived(t *testing.T) {
	g := newTestGovernor()

	evs := g.Pause(domain.PausePersistenceFailure, day0)
	if len(evs) != 1 {
		t.Fatalf("pause events = %d, want 1", len(evs))
	}
	if evs := g.Pause(domain.PausePersistenceFailure, day0+1); len(evs) != 0 {
		t.Error("repeated pause must not emit again")
	}

	for i := 0; i < 3; i++ {
		g.RecordClose(pnl(-1), day0+2)
	}
	st := g.State(day0 + 3)
	if st.PauseReason != domain.PausePersistenceFailure {
		t.Errorf("reason = %s, want persistence-failure", st.PauseReason)
	}

	// Survives the cooldown window and the day change.
	if ok, _ := g.Allow(day0 + (48 * time.Hour).Milliseconds()); ok {
		t.Error("explicit pause must need an operator")
	}
}

func TestGovernor_ResetDayReportsFinishedDays(t *testing.T) {
	g := newTestGovernor()
	g.RecordClose(pnl(3), day0)
	g.RecordClose(pnl(-1), day0+1)

	if stats, evs := g.ResetDay(day0 + 2); stats != nil || evs != nil {
		t.Fatal("same-day reset should report nothing")
	}

	next := g.NextBoundary(day0).UnixMilli()
	// Lazy rollover through Allow must not lose the summary.
	g.Allow(next + 10)

	stats, evs := g.ResetDay(next + 20)
	if len(stats) != 1 {
		t.Fatalf("stats = %d, want 1", len(stats))
	}
	s := stats[0]
	if s.Day != "2026-03-02" || s.Trades != 2 || s.Wins != 1 || s.Losses != 1 || !s.RealizedPnL.Equal(pnl(2)) {
		t.Errorf("stats = %+v", s)
	}
	if len(evs) != 1 || evs[0].Type != domain.EventDailyReset || evs[0].Reason != "2026-03-03" {
		t.Errorf("events = %+v", evs)
	}
}

func TestGovernor_ApplyMatchesLive(t *testing.T) {
	live := newTestGovernor()

	var log []domain.Event
	record := func(evs []domain.Event) { log = append(log, evs...) }
	closed := func(v float64, at int64) {
		log = append(log, domain.Event{Type: domain.EventPositionClosed, PnL: pnl(v), At: at})
		record(live.RecordClose(pnl(v), at))
	}

	closed(-1, day0)
	closed(-2, day0+1)
	closed(-1, day0+2)
	evs, err := live.Resume(day0 + 3)
	if err != nil {
		t.Fatal(err)
	}
	record(evs)
	closed(4, day0+4)
	record(live.Pause(domain.PauseExecutionFailure, day0+5))
	closed(-1, day0+6)

	replayed := newTestGovernor()
	for i := range log {
		replayed.Apply(&log[i])
	}

	now := day0 + 7
	if got, want := replayed.State(now), live.State(now); !statesEqual(got, want) {
		t.Errorf("replayed state\n got %+v\nwant %+v", got, want)
	}
}

func statesEqual(a, b domain.RiskState) bool {
	pa, pb := a.RealizedPnL, b.RealizedPnL
	a.RealizedPnL, b.RealizedPnL = decimal.Zero, decimal.Zero
	return a == b && pa.Equal(pb)
}
