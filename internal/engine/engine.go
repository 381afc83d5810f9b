// Package engine wires the decision pipeline: it evaluates candidates end to
// end, hands admissions to the position manager and runs the daily scheduler.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"moonshot-engine/internal/confluence"
	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/feed"
	"moonshot-engine/internal/journal"
	"moonshot-engine/internal/notify"
	"moonshot-engine/internal/observability"
	"moonshot-engine/internal/position"
	"moonshot-engine/internal/replay"
	"moonshot-engine/internal/risk"
	"moonshot-engine/internal/router"
	"moonshot-engine/internal/safety"
	"moonshot-engine/internal/scoring"
	"moonshot-engine/internal/storage"
)

// ErrPersistence is returned when an event could not be journaled. The
// in-memory state stays authoritative.
var ErrPersistence = journal.ErrPersistence

// ErrEntryFailed wraps a failed buy order for an admitted candidate.
var ErrEntryFailed = errors.New("entry failed")

// Candidate is one queued evaluation request.
type Candidate struct {
	Token *domain.TokenCandidate
	Aux   domain.AuxSignals
}

// Options for creating an Engine.
type Options struct {
	Scorer     *scoring.Scorer
	Confluence *confluence.Aggregator
	Safety     safety.Checker // wrapped in safety.FailClosed by New
	Router     *router.Router
	Governor   *risk.Governor
	Positions  *position.Manager
	Journal    *journal.Journal

	// Optional
	Rejections storage.RejectionStore
	DailyStats storage.DailyStatsStore
	Notifier   notify.Publisher

	Capital          decimal.Decimal // starting capital, split across pools by allocation
	SafetyTimeout    time.Duration
	Workers          int  // concurrent evaluations in Run
	NotifyRejections bool // publish every rejection, not just log it
	RiskRefresh      time.Duration
	Logger           zerolog.Logger
	Now              func() time.Time
}

// Engine evaluates candidates and owns the daily schedule.
type Engine struct {
	scorer     *scoring.Scorer
	confluence *confluence.Aggregator
	safety     safety.Checker
	router     *router.Router
	gov        *risk.Governor
	positions  *position.Manager
	journal    *journal.Journal
	rejections storage.RejectionStore
	daily      storage.DailyStatsStore
	notifier   notify.Publisher

	capital       decimal.Decimal
	workers       int
	notifyRejects bool
	riskRefresh   time.Duration
	log           zerolog.Logger
	now           func() time.Time

	session   string
	startedAt time.Time
	locks     tokenLocks
	inHook    atomic.Bool
}

// New creates an engine and registers the persistence failure hook on the
// journal.
func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.SafetyTimeout <= 0 {
		opts.SafetyTimeout = safety.DefaultTimeout
	}
	if opts.RiskRefresh <= 0 {
		opts.RiskRefresh = 30 * time.Second
	}

	session := uuid.NewString()
	log := opts.Logger.With().Str("component", "engine").Str("session", session).Logger()

	e := &Engine{
		scorer:        opts.Scorer,
		confluence:    opts.Confluence,
		safety:        safety.NewFailClosed(opts.Safety, opts.SafetyTimeout, log),
		router:        opts.Router,
		gov:           opts.Governor,
		positions:     opts.Positions,
		journal:       opts.Journal,
		rejections:    opts.Rejections,
		daily:         opts.DailyStats,
		notifier:      opts.Notifier,
		capital:       opts.Capital,
		workers:       opts.Workers,
		notifyRejects: opts.NotifyRejections,
		riskRefresh:   opts.RiskRefresh,
		log:           log,
		now:           opts.Now,
		session:       session,
		startedAt:     opts.Now(),
		locks:         tokenLocks{m: make(map[string]*tokenLock)},
	}
	e.journal.OnFailure(e.persistenceFailed)
	return e
}

// Session returns the identifier of this engine run.
func (e *Engine) Session() string {
	return e.session
}

// Restore seeds the governor, the router and the position manager from a
// rebuilt state. Call it before Run.
func (e *Engine) Restore(ctx context.Context, st *replay.State) {
	e.gov.Restore(st.Risk)
	e.router.Restore(st.Occupancy)
	live := st.Live()
	e.positions.Adopt(ctx, live)

	e.log.Info().
		Int64("last_seq", st.LastSeq).
		Int("live_positions", len(live)).
		Bool("paused", st.Risk.Paused).
		Msg("state restored")
}

// Evaluate runs one candidate through the pipeline. A rejection is a normal
// outcome reported in the Decision; the error is non-nil only when an
// admitted entry could not be filled.
func (e *Engine) Evaluate(ctx context.Context, c *domain.TokenCandidate, aux domain.AuxSignals) (domain.Decision, error) {
	start := time.Now()
	defer func() { observability.RecordEvaluation(time.Since(start).Seconds()) }()

	unlock := e.locks.lock(feed.Key(c.Chain, c.Address))
	defer unlock()

	at := e.now().UnixMilli()
	d := domain.Decision{Chain: c.Chain, Address: c.Address, DecidedAt: at}

	if err := domain.ValidateAddress(c.Chain, c.Address); err != nil {
		return e.reject(ctx, d, c, domain.RejectInvalidCandidate, err.Error()), nil
	}
	if c.Metrics.PriceUSD == nil || *c.Metrics.PriceUSD <= 0 {
		return e.reject(ctx, d, c, domain.RejectInvalidCandidate, "no reference price"), nil
	}
	if e.positions.Holds(c.Chain, c.Address) {
		return e.reject(ctx, d, c, domain.RejectAlreadyHeld, ""), nil
	}
	// Skip the safety round trip while paused; Admit re-checks atomically.
	if ok, reason := e.gov.Allow(at); !ok {
		return e.reject(ctx, d, c, domain.RejectRiskPaused, string(reason)), nil
	}

	verdict, _ := e.safety.Check(ctx, c.Chain, c.Address)
	d.Verdict = verdict
	d.Score = e.scorer.Score(c)
	d.Confluence = e.confluence.Evaluate(c, &verdict, d.Score, aux)

	if !verdict.Passed {
		return e.reject(ctx, d, c, domain.RejectSafetyFailed, flagList(verdict.Flags)), nil
	}

	adm, err := e.router.Admit(router.Request{
		Chain:      c.Chain,
		Address:    c.Address,
		AgeMinutes: c.AgeMinutes,
		Score:      d.Score,
		Confluence: d.Confluence,
		At:         at,
	})
	if err != nil {
		var rej *domain.Rejection
		if errors.As(err, &rej) {
			return e.reject(ctx, d, c, rej.Reason, rej.Detail), nil
		}
		return d, err
	}

	pos, err := e.positions.Open(ctx, position.Entry{
		Candidate:    c,
		Pool:         adm.Config,
		SizeFraction: adm.SizeFraction,
		Value:        e.positionValue(adm),
		RefPrice:     *c.Metrics.PriceUSD,
	})
	if err != nil {
		e.router.Release(adm.Pool)
		e.log.Error().Err(err).
			Str("token", c.Address).
			Str("pool", string(adm.Pool)).
			Msg("entry failed")
		return d, fmt.Errorf("%w: %v", ErrEntryFailed, err)
	}

	observability.RecordAdmission(string(adm.Pool))
	d.Admitted = true
	d.Pool = adm.Pool
	d.SizeFraction = adm.SizeFraction
	d.PositionID = pos.ID
	return d, nil
}

// positionValue is the capital committed: pool capital times size fraction.
func (e *Engine) positionValue(adm router.Admission) decimal.Decimal {
	return e.capital.
		Mul(decimal.NewFromFloat(adm.Config.Allocation)).
		Mul(decimal.NewFromFloat(adm.SizeFraction)).
		Round(8)
}

// rejectPayload carries the rejection fields with no Event column.
type rejectPayload struct {
	Detail     string  `json:"detail,omitempty"`
	Score      int     `json:"score"`
	Confluence int     `json:"confluence"`
	AgeMinutes float64 `json:"age_minutes"`
}

func (e *Engine) reject(ctx context.Context, d domain.Decision, c *domain.TokenCandidate, reason domain.RejectReason, detail string) domain.Decision {
	rej := &domain.Rejection{
		Chain:      c.Chain,
		Address:    c.Address,
		Reason:     reason,
		Detail:     detail,
		Score:      d.Score.Value,
		Confluence: d.Confluence.Count,
		AgeMinutes: c.AgeMinutes,
		At:         d.DecidedAt,
	}
	d.Rejection = rej
	observability.RecordRejection(string(reason))

	e.log.Debug().
		Str("token", c.Address).
		Str("chain", string(c.Chain)).
		Str("reason", string(reason)).
		Str("detail", detail).
		Int("score", rej.Score).
		Int("confluence", rej.Confluence).
		Msg("candidate rejected")

	payload, _ := json.Marshal(rejectPayload{
		Detail:     detail,
		Score:      rej.Score,
		Confluence: rej.Confluence,
		AgeMinutes: rej.AgeMinutes,
	})
	_ = e.journal.Record(ctx, &domain.Event{
		Type:    domain.EventCandidateRejected,
		Chain:   c.Chain,
		Token:   c.Address,
		Level:   -1,
		Reason:  string(reason),
		At:      rej.At,
		Payload: payload,
	})

	if e.rejections != nil {
		if err := e.rejections.InsertBulk(ctx, []*domain.Rejection{rej}); err != nil {
			e.log.Warn().Err(err).Str("token", c.Address).Msg("rejection not stored")
		}
	}

	if e.notifyRejects {
		e.publish(notify.Notification{
			Kind:     notify.KindRejection,
			Severity: notify.SeverityLow,
			Title:    fmt.Sprintf("Rejected %s", tokenLabel(c)),
			Body:     rej.Error(),
			Fields: []notify.Field{
				{Name: "Score", Value: fmt.Sprintf("%d", rej.Score)},
				{Name: "Confluence", Value: fmt.Sprintf("%d", rej.Confluence)},
			},
			At: rej.At,
		})
	}
	return d
}

// Run consumes candidates with a bounded number of workers until ctx is done
// or the channel closes, then stops position monitors. Positions keep being
// monitored after the channel closes until ctx is done.
func (e *Engine) Run(ctx context.Context, candidates <-chan Candidate) error {
	e.log.Info().Int("workers", e.workers).Msg("engine started")
	e.positions.Start(ctx)
	defer e.positions.Shutdown()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.schedule(gctx)
		return nil
	})
	for i := 0; i < e.workers; i++ {
		g.Go(func() error {
			e.work(gctx, candidates)
			return nil
		})
	}
	err := g.Wait()

	if ferr := e.journal.Flush(context.WithoutCancel(ctx)); ferr != nil {
		e.log.Error().Err(ferr).Int("events", e.journal.Pending()).Msg("event log incomplete at shutdown")
	}
	e.flushStats(context.WithoutCancel(ctx))
	e.log.Info().Msg("engine stopped")
	return err
}

func (e *Engine) work(ctx context.Context, candidates <-chan Candidate) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candidates:
			if !ok {
				<-ctx.Done()
				return
			}
			if c.Token == nil {
				continue
			}
			if _, err := e.Evaluate(ctx, c.Token, c.Aux); err != nil {
				e.log.Warn().Err(err).Str("token", c.Token.Address).Msg("evaluation failed")
			}
		}
	}
}

// persistenceFailed runs after every failed journal append. The pause events
// are journaled too; if that fails again the hook does not recurse.
func (e *Engine) persistenceFailed(err error) {
	if !e.inHook.CompareAndSwap(false, true) {
		return
	}
	defer e.inHook.Store(false)

	at := e.now().UnixMilli()
	evs := e.gov.Pause(domain.PausePersistenceFailure, at)
	if len(evs) == 0 {
		return
	}

	e.log.Error().Err(err).Msg("persistence failure, admissions paused")
	e.recordSystem(context.Background(), evs)
	e.publish(notify.Notification{
		Kind:     notify.KindError,
		Severity: notify.SeverityCritical,
		Title:    "Persistence failure",
		Body:     "Event log append failed. Admissions are paused until an operator resumes.",
		Fields:   []notify.Field{{Name: "Error", Value: err.Error()}},
		At:       at,
	})
}

// sessionPayload stamps system events with the engine run that raised them.
type sessionPayload struct {
	Session string `json:"session"`
}

func (e *Engine) recordSystem(ctx context.Context, evs []domain.Event) {
	payload, _ := json.Marshal(sessionPayload{Session: e.session})
	out := make([]*domain.Event, len(evs))
	for i := range evs {
		ev := evs[i]
		ev.Payload = payload
		out[i] = &ev
	}
	if err := e.journal.Record(ctx, out...); err != nil {
		e.log.Warn().Err(err).Str("type", string(out[0].Type)).Msg("system event not persisted")
	}
}

func (e *Engine) publish(n notify.Notification) {
	if e.notifier != nil {
		e.notifier.Publish(n)
	}
}

func flagList(flags []domain.SafetyFlag) string {
	parts := make([]string, len(flags))
	for i, f := range flags {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}

func tokenLabel(c *domain.TokenCandidate) string {
	if c.Symbol != "" {
		return c.Symbol
	}
	if len(c.Address) > 10 {
		return c.Address[:4] + "…" + c.Address[len(c.Address)-4:]
	}
	return c.Address
}

// tokenLocks serializes evaluations of the same token.
type tokenLocks struct {
	mu sync.Mutex
	m  map[string]*tokenLock
}

type tokenLock struct {
	mu   sync.Mutex
	refs int
}

func (l *tokenLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	tl, ok := l.m[key]
	if !ok {
		tl = &tokenLock{}
		l.m[key] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}
