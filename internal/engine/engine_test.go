package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"moonshot-engine/internal/config"
	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/execution"
	"moonshot-engine/internal/feed"
	feedstub "moonshot-engine/internal/feed/stub"
	"moonshot-engine/internal/journal"
	"moonshot-engine/internal/notify"
	"moonshot-engine/internal/position"
	"moonshot-engine/internal/replay"
	"moonshot-engine/internal/risk"
	"moonshot-engine/internal/router"
	safetystub "moonshot-engine/internal/safety/stub"
	"moonshot-engine/internal/storage/memory"
)

const (
	wsol = "So11111111111111111111111111111111111111112"
	usdc = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	usdt = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
	bonk = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

// strongCandidate clears every SAFE threshold.
func strongCandidate(addr string) *domain.TokenCandidate {
	return &domain.TokenCandidate{
		Chain:      domain.ChainSolana,
		Address:    addr,
		Symbol:     "MOON",
		AgeMinutes: 45,
		Metrics: domain.RawMetrics{
			PriceUSD:         f64(1.0),
			LiquidityUSD:     f64(120_000),
			Volume24hUSD:     f64(150_000),
			Volume1hUSD:      f64(9_000),
			Buys1h:           intp(80),
			Sells1h:          intp(20),
			TopHolderPct:     f64(8),
			PriceChange5mPct: f64(12),
			PriceChange1hPct: f64(25),
			VolumeTrend:      domain.VolumeTrendIncreasing,
			EMAFast:          f64(1.1),
			EMASlow:          f64(1.0),
			SocialMentions:   intp(200),
		},
		SmartWallets: []string{"w1", "w2", "w3"},
	}
}

type fakeExec struct {
	mu     sync.Mutex
	buyErr error
}

func (f *fakeExec) Submit(_ context.Context, o execution.Order) (execution.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o.Side == execution.SideBuy && f.buyErr != nil {
		return execution.Fill{}, f.buyErr
	}
	return execution.Fill{Price: o.RefPrice, TxID: "tx"}, nil
}

type capture struct {
	mu sync.Mutex
	ns []notify.Notification
}

func (c *capture) Publish(n notify.Notification) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ns = append(c.ns, n)
	return true
}

func (c *capture) count(k notify.Kind, s notify.Severity) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, x := range c.ns {
		if x.Kind == k && x.Severity == s {
			n++
		}
	}
	return n
}

// flakyStore fails appends while fail is set.
type flakyStore struct {
	*memory.EventStore
	fail atomic.Bool
}

func (s *flakyStore) AppendBulk(ctx context.Context, evs []*domain.Event) error {
	if s.fail.Load() {
		return errors.New("disk full")
	}
	return s.EventStore.AppendBulk(ctx, evs)
}

type harness struct {
	e          *Engine
	gov        *risk.Governor
	router     *router.Router
	positions  *position.Manager
	safety     *safetystub.Checker
	exec       *fakeExec
	events     *flakyStore
	rejections *memory.RejectionStore
	daily      *memory.DailyStatsStore
	pub        *capture
	clock      atomic.Int64 // ms
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	h := &harness{
		safety:     safetystub.NewChecker(),
		exec:       &fakeExec{},
		events:     &flakyStore{EventStore: memory.NewEventStore()},
		rejections: memory.NewRejectionStore(),
		daily:      memory.NewDailyStatsStore(),
		pub:        &capture{},
	}
	h.clock.Store(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC).UnixMilli())
	now := func() time.Time { return time.UnixMilli(h.clock.Load()) }

	h.gov = risk.New(RiskParams(cfg))
	h.router = router.New(RouterParams(cfg), h.gov)

	j, err := journal.New(context.Background(), h.events, zerolog.Nop())
	if err != nil {
		t.Fatalf("journal.New: %v", err)
	}

	src := feedstub.NewSource()
	h.positions = position.NewManager(position.Options{
		Machine:     MachineFor(cfg),
		Prices:      feed.NewGuard(src, time.Second, time.Minute).WithClock(now),
		Executor:    h.exec,
		Journal:     j,
		Risk:        h.gov,
		Slots:       h.router,
		Notifier:    h.pub,
		Trades:      memory.NewTradeStore(),
		Logger:      zerolog.Nop(),
		MaxSlippage: cfg.Trading.MaxSlippagePct,
		CheckEvery:  time.Hour,
		Now:         now,
	})

	h.e = New(Options{
		Scorer:           ScorerFor(cfg),
		Confluence:       AggregatorFor(cfg),
		Safety:           h.safety,
		Router:           h.router,
		Governor:         h.gov,
		Positions:        h.positions,
		Journal:          j,
		Rejections:       h.rejections,
		DailyStats:       h.daily,
		Notifier:         h.pub,
		Capital:          decimal.NewFromFloat(cfg.Trading.StartingCapital),
		SafetyTimeout:    time.Second,
		Workers:          2,
		NotifyRejections: true,
		Logger:           zerolog.Nop(),
		Now:              now,
	})
	return h
}

func (h *harness) eventTypes(t *testing.T) []domain.EventType {
	t.Helper()
	evs, err := h.events.GetAll(context.Background())
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	out := make([]domain.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func wantReason(t *testing.T, d domain.Decision, want domain.RejectReason) {
	t.Helper()
	if d.Admitted {
		t.Fatalf("admitted, want rejection %s", want)
	}
	if d.Rejection == nil || d.Rejection.Reason != want {
		t.Fatalf("Rejection = %+v, want %s", d.Rejection, want)
	}
}

func TestEvaluate_Admits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d, err := h.e.Evaluate(ctx, strongCandidate(wsol), domain.AuxSignals{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Admitted || d.Pool != domain.PoolSafe || d.PositionID == "" {
		t.Fatalf("Decision = %+v, want SAFE admission", d)
	}
	if d.Score.Value < 75 || d.Confluence.Count < 3 {
		t.Errorf("score=%d confluence=%d", d.Score.Value, d.Confluence.Count)
	}
	if d.SizeFraction < 0.05 || d.SizeFraction > 0.20 {
		t.Errorf("SizeFraction = %v, out of [0.05, 0.20]", d.SizeFraction)
	}

	if got := h.router.Occupancy()[domain.PoolSafe]; got != 1 {
		t.Errorf("SAFE occupancy = %d, want 1", got)
	}
	view, ok := h.positions.Get(d.PositionID)
	if !ok {
		t.Fatal("position not tracked")
	}
	// 100 capital * 0.6 SAFE allocation * size
	want := decimal.NewFromInt(60).Mul(decimal.NewFromFloat(d.SizeFraction)).Round(8)
	if !view.Position.EntryValue.Equal(want) {
		t.Errorf("EntryValue = %s, want %s", view.Position.EntryValue, want)
	}

	if types := h.eventTypes(t); len(types) != 1 || types[0] != domain.EventPositionOpened {
		t.Errorf("events = %v, want [POSITION_OPENED]", types)
	}
}

func TestEvaluate_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(h *harness) *domain.TokenCandidate
		want        domain.RejectReason
		wantSafety  bool // safety collaborator consulted
		wantInStore bool
	}{
		{
			name: "invalid address",
			setup: func(*harness) *domain.TokenCandidate {
				return strongCandidate("0OIl-not-base58")
			},
			want: domain.RejectInvalidCandidate,
		},
		{
			name: "missing price",
			setup: func(*harness) *domain.TokenCandidate {
				c := strongCandidate(wsol)
				c.Metrics.PriceUSD = nil
				return c
			},
			want: domain.RejectInvalidCandidate,
		},
		{
			name: "risk paused",
			setup: func(h *harness) *domain.TokenCandidate {
				h.gov.Pause(domain.PauseExecutionFailure, h.clock.Load())
				return strongCandidate(wsol)
			},
			want: domain.RejectRiskPaused,
		},
		{
			name: "honeypot",
			setup: func(h *harness) *domain.TokenCandidate {
				h.safety.Flag(domain.ChainSolana, wsol, domain.FlagHoneypot)
				return strongCandidate(wsol)
			},
			want:       domain.RejectSafetyFailed,
			wantSafety: true,
		},
		{
			name: "safety unavailable",
			setup: func(h *harness) *domain.TokenCandidate {
				h.safety.SetErr(domain.ChainSolana, wsol, errors.New("503"))
				return strongCandidate(wsol)
			},
			want:       domain.RejectSafetyFailed,
			wantSafety: true,
		},
		{
			name: "weak candidate",
			setup: func(*harness) *domain.TokenCandidate {
				return &domain.TokenCandidate{
					Chain:      domain.ChainSolana,
					Address:    wsol,
					AgeMinutes: 45,
					Metrics:    domain.RawMetrics{PriceUSD: f64(1)},
				}
			},
			want:       domain.RejectBelowThreshold,
			wantSafety: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			d, err := h.e.Evaluate(ctx, tt.setup(h), domain.AuxSignals{})
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			wantReason(t, d, tt.want)

			if got := h.safety.Calls() > 0; got != tt.wantSafety {
				t.Errorf("safety consulted = %v, want %v", got, tt.wantSafety)
			}
			types := h.eventTypes(t)
			if len(types) != 1 || types[0] != domain.EventCandidateRejected {
				t.Errorf("events = %v, want [CANDIDATE_REJECTED]", types)
			}
			counts, _ := h.rejections.CountByReason(ctx, 0, h.clock.Load())
			if counts[tt.want] != 1 {
				t.Errorf("stored rejections = %v", counts)
			}
			if h.pub.count(notify.KindRejection, notify.SeverityLow) != 1 {
				t.Error("rejection not notified")
			}
			if h.router.Occupancy()[domain.PoolSafe] != 0 {
				t.Error("rejected candidate holds a slot")
			}
		})
	}
}

func TestEvaluate_SafetyFlagsInDetail(t *testing.T) {
	h := newHarness(t)
	h.safety.Flag(domain.ChainSolana, wsol, domain.FlagHoneypot, domain.FlagTaxTooHigh)

	d, _ := h.e.Evaluate(context.Background(), strongCandidate(wsol), domain.AuxSignals{})
	wantReason(t, d, domain.RejectSafetyFailed)
	if d.Rejection.Detail != "honeypot,tax-too-high" {
		t.Errorf("Detail = %q", d.Rejection.Detail)
	}
}

func TestEvaluate_AlreadyHeld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if d, _ := h.e.Evaluate(ctx, strongCandidate(wsol), domain.AuxSignals{}); !d.Admitted {
		t.Fatalf("first evaluation not admitted: %+v", d.Rejection)
	}
	d, err := h.e.Evaluate(ctx, strongCandidate(wsol), domain.AuxSignals{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	wantReason(t, d, domain.RejectAlreadyHeld)
}

func TestEvaluate_SameTokenConcurrently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
		held     atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := h.e.Evaluate(ctx, strongCandidate(wsol), domain.AuxSignals{})
			if err != nil {
				t.Errorf("Evaluate: %v", err)
				return
			}
			switch {
			case d.Admitted:
				admitted.Add(1)
			case d.Rejection != nil && d.Rejection.Reason == domain.RejectAlreadyHeld:
				held.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 1 || held.Load() != 7 {
		t.Errorf("admitted=%d held=%d, want 1/7", admitted.Load(), held.Load())
	}
	if h.router.Occupancy()[domain.PoolSafe] != 1 {
		t.Errorf("occupancy = %v", h.router.Occupancy())
	}
}

func TestEvaluate_EntryFailureReleasesSlot(t *testing.T) {
	h := newHarness(t)
	h.exec.buyErr = execution.ErrExhausted

	d, err := h.e.Evaluate(context.Background(), strongCandidate(wsol), domain.AuxSignals{})
	if !errors.Is(err, ErrEntryFailed) {
		t.Fatalf("err = %v, want ErrEntryFailed", err)
	}
	if d.Admitted {
		t.Error("failed entry reported as admitted")
	}
	if got := h.router.Occupancy()[domain.PoolSafe]; got != 0 {
		t.Errorf("SAFE occupancy = %d, want 0", got)
	}
	if h.positions.Count() != 0 {
		t.Errorf("positions = %d, want 0", h.positions.Count())
	}
}

func TestPersistenceFailure_PausesAdmissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.events.fail.Store(true)
	d, err := h.e.Evaluate(ctx, strongCandidate(wsol), domain.AuxSignals{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Admitted {
		t.Fatalf("in-memory state stays authoritative, want admission: %+v", d.Rejection)
	}

	if ok, reason := h.gov.Allow(h.clock.Load()); ok || reason != domain.PausePersistenceFailure {
		t.Fatalf("Allow = %v/%s, want persistence-failure pause", ok, reason)
	}
	if n := h.pub.count(notify.KindError, notify.SeverityCritical); n != 1 {
		t.Errorf("critical alerts = %d, want 1", n)
	}

	h.events.fail.Store(false)
	d, _ = h.e.Evaluate(ctx, strongCandidate(usdc), domain.AuxSignals{})
	wantReason(t, d, domain.RejectRiskPaused)

	if _, err := h.e.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if d, _ = h.e.Evaluate(ctx, strongCandidate(usdc), domain.AuxSignals{}); !d.Admitted {
		t.Errorf("after resume: %+v", d.Rejection)
	}

	// The entry recorded during the outage reaches the log ahead of later events.
	evs, err := h.events.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) == 0 || evs[0].Seq != 1 || evs[0].Type != domain.EventPositionOpened {
		t.Fatalf("log does not start with the first entry: %v", evs)
	}
	if v := replay.Verify(evs); len(v) != 0 {
		t.Errorf("violations: %v", v)
	}
	st, err := replay.Rebuild(evs, replay.Params{Risk: RiskParams(config.Default())})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if n := len(st.Live()); n != 2 {
		t.Errorf("rebuilt live positions = %d, want 2", n)
	}
}

func TestResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	at := h.clock.Load()

	for i := 0; i < 3; i++ {
		h.gov.RecordClose(decimal.NewFromInt(-1), at)
	}
	st, err := h.e.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if st.Paused {
		t.Errorf("still paused: %+v", st)
	}
	types := h.eventTypes(t)
	if len(types) != 1 || types[0] != domain.EventRiskResumed {
		t.Errorf("events = %v, want [RISK_RESUMED]", types)
	}

	h.gov.RecordClose(decimal.NewFromInt(-20), at)
	if _, err := h.e.Resume(ctx); !errors.Is(err, risk.ErrDailyLossLocked) {
		t.Errorf("err = %v, want ErrDailyLossLocked", err)
	}
}

func TestRollover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gov.RecordClose(decimal.NewFromInt(3), h.clock.Load())
	h.gov.RecordClose(decimal.NewFromInt(-1), h.clock.Load())

	h.e.rollover(ctx)
	if len(h.eventTypes(t)) != 0 {
		t.Fatal("rollover before the boundary emitted events")
	}

	h.clock.Add((13 * time.Hour).Milliseconds())
	h.e.rollover(ctx)

	stats, err := h.daily.Get(ctx, "2026-03-02")
	if err != nil {
		t.Fatalf("daily stats: %v", err)
	}
	if stats.Trades != 2 || stats.Wins != 1 || stats.Losses != 1 || !stats.RealizedPnL.Equal(decimal.NewFromInt(2)) {
		t.Errorf("stats = %+v", stats)
	}
	types := h.eventTypes(t)
	if len(types) != 1 || types[0] != domain.EventDailyReset {
		t.Errorf("events = %v, want [DAILY_RESET]", types)
	}
	if h.pub.count(notify.KindDailySummary, notify.SeverityMedium) != 1 {
		t.Error("daily summary not sent")
	}
	if st := h.e.Risk(); st.Day != "2026-03-03" || st.Trades != 0 {
		t.Errorf("risk after rollover = %+v", st)
	}
}

func TestRun(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	candidates := make(chan Candidate)
	done := make(chan error, 1)
	go func() { done <- h.e.Run(ctx, candidates) }()

	for _, addr := range []string{wsol, usdc, usdt, bonk} {
		candidates <- Candidate{Token: strongCandidate(addr)}
	}

	deadline := time.Now().Add(5 * time.Second)
	for h.positions.Count()+len(h.rejectionsSoFar(t)) < 4 {
		if time.Now().After(deadline) {
			t.Fatal("candidates not processed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	// SAFE holds three; the fourth strong candidate finds it full.
	if h.positions.Count() != 3 {
		t.Errorf("positions = %d, want 3", h.positions.Count())
	}
	if _, err := h.daily.Get(context.Background(), "2026-03-02"); err != nil {
		t.Errorf("running day not flushed: %v", err)
	}
}

func (h *harness) rejectionsSoFar(t *testing.T) []domain.EventType {
	var out []domain.EventType
	for _, typ := range h.eventTypes(t) {
		if typ == domain.EventCandidateRejected {
			out = append(out, typ)
		}
	}
	return out
}
