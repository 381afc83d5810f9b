package position

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/execution"
	"moonshot-engine/internal/feed"
	"moonshot-engine/internal/idhash"
	"moonshot-engine/internal/notify"
	"moonshot-engine/internal/observability"
	"moonshot-engine/internal/storage"
)

// ErrUnknownPosition is returned for IDs the manager does not hold.
var ErrUnknownPosition = errors.New("unknown position")

// PriceSource supplies guarded quotes. Errors mean hold for this tick.
type PriceSource interface {
	Latest(ctx context.Context, chain domain.Chain, token string) (feed.Quote, error)
	Subscribe(ctx context.Context, chain domain.Chain, token string) error
	Unsubscribe(chain domain.Chain, token string)
}

// Recorder persists events.
type Recorder interface {
	Record(ctx context.Context, evs ...*domain.Event) error
}

// RiskRecorder is the part of the circuit breaker positions report to.
type RiskRecorder interface {
	RecordClose(pnl decimal.Decimal, atMs int64) []domain.Event
	Pause(reason domain.PauseReason, atMs int64) []domain.Event
	DayOf(ms int64) string
}

// Releaser frees pool slots.
type Releaser interface {
	Release(pool domain.PoolName)
}

// Options for creating a Manager.
type Options struct {
	Machine  *Machine
	Prices   PriceSource
	Executor execution.Executor
	Journal  Recorder
	Risk     RiskRecorder
	Slots    Releaser
	Notifier notify.Publisher
	Trades   storage.TradeStore
	Logger   zerolog.Logger

	MaxSlippage float64       // per order, fraction
	CheckEvery  time.Duration // tick interval per position
	Now         func() time.Time
}

// Entry describes an admitted candidate to buy.
type Entry struct {
	Candidate    *domain.TokenCandidate
	Pool         domain.PoolConfig
	SizeFraction float64
	Value        decimal.Decimal // capital committed
	RefPrice     float64
}

// View is a point-in-time copy of a monitored position.
type View struct {
	Position   *domain.Position
	LastPrice  float64
	LastTickAt int64 // ms
	Peak       float64
	Stale      bool
}

// UnrealizedPct returns the move from entry at the last price.
func (v View) UnrealizedPct() float64 {
	return v.Position.UnrealizedPct(v.LastPrice)
}

// monitor serializes every transition of one position.
type monitor struct {
	pool domain.PoolName // fixed at open

	mu         sync.Mutex
	pos        *domain.Position
	lastPrice  float64
	lastTickAt int64
	peak       float64
	stale      bool
	failing    bool // exit order failing since the last success
}

func (mon *monitor) live() bool {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	return mon.pos.IsLive()
}

func (mon *monitor) view() View {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	return View{
		Position:   mon.pos.Clone(),
		LastPrice:  mon.lastPrice,
		LastTickAt: mon.lastTickAt,
		Peak:       mon.peak,
		Stale:      mon.stale,
	}
}

// Manager runs one monitoring loop per live position.
type Manager struct {
	machine     *Machine
	prices      PriceSource
	exec        execution.Executor
	journal     Recorder
	risk        RiskRecorder
	slots       Releaser
	notifier    notify.Publisher
	trades      storage.TradeStore
	log         zerolog.Logger
	maxSlippage float64
	every       time.Duration
	now         func() time.Time

	mu       sync.Mutex
	monitors map[string]*monitor
	byToken  map[string]string // feed key -> position ID
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager creates a manager. Monitoring starts with Start.
func NewManager(opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CheckEvery <= 0 {
		opts.CheckEvery = 30 * time.Second
	}
	return &Manager{
		machine:     opts.Machine,
		prices:      opts.Prices,
		exec:        opts.Executor,
		journal:     opts.Journal,
		risk:        opts.Risk,
		slots:       opts.Slots,
		notifier:    opts.Notifier,
		trades:      opts.Trades,
		log:         opts.Logger.With().Str("component", "positions").Logger(),
		maxSlippage: opts.MaxSlippage,
		every:       opts.CheckEvery,
		now:         opts.Now,
		monitors:    make(map[string]*monitor),
		byToken:     make(map[string]string),
	}
}

// Start launches monitors for every tracked position and for positions
// opened later. It returns immediately.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runCtx, m.cancel = context.WithCancel(ctx)
	for _, mon := range m.monitors {
		m.launch(mon)
	}
}

// Shutdown stops all monitors and waits for in-flight ticks. Every applied
// transition is already journaled, so positions resume from the log.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// launch must be called with m.mu held.
func (m *Manager) launch(mon *monitor) {
	if m.runCtx == nil {
		return
	}
	m.wg.Add(1)
	go m.watch(m.runCtx, mon)
}

func (m *Manager) watch(ctx context.Context, mon *monitor) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evaluate(ctx, mon)
			if !mon.live() {
				return
			}
		}
	}
}

// Open buys an admitted candidate and starts monitoring it. The caller owns
// the pool slot until Open succeeds.
func (m *Manager) Open(ctx context.Context, e Entry) (*domain.Position, error) {
	c := e.Candidate
	at := m.now().UnixMilli()

	fill, err := m.exec.Submit(ctx, execution.Order{
		Side:        execution.SideBuy,
		Chain:       c.Chain,
		Token:       c.Address,
		Fraction:    1,
		Notional:    e.Value,
		RefPrice:    e.RefPrice,
		MaxSlippage: m.maxSlippage,
	})
	if err != nil {
		observability.RecordExecutionFailure(string(execution.SideBuy))
		return nil, fmt.Errorf("entry order: %w", err)
	}

	id := idhash.ComputePositionID(string(c.Chain), c.Address, string(e.Pool.Name), at)
	ev, err := OpenEvent(id, c, e.Pool, e.SizeFraction, e.Value, fill.Price, at)
	if err != nil {
		return nil, err
	}
	pos, err := New(ev)
	if err != nil {
		return nil, err
	}
	if err := m.journal.Record(ctx, ev); err != nil {
		m.log.Warn().Err(err).Str("position_id", id).Msg("open not persisted")
	}
	pos.Seq = ev.Seq

	m.track(ctx, &monitor{pos: pos, lastPrice: fill.Price, lastTickAt: at, peak: fill.Price})
	observability.RecordTransition(string(ev.Type))

	m.log.Info().
		Str("position_id", id).
		Str("token", c.Address).
		Str("pool", string(e.Pool.Name)).
		Float64("price", fill.Price).
		Float64("slippage", fill.Slippage).
		Str("value", e.Value.StringFixed(2)).
		Msg("position opened")

	m.publish(notify.Notification{
		Kind:     notify.KindEntry,
		Severity: notify.SeverityMedium,
		Title:    fmt.Sprintf("Entry %s (%s)", display(pos), pos.Pool),
		Fields: []notify.Field{
			{Name: "Price", Value: fmt.Sprintf("%.8g", fill.Price)},
			{Name: "Value", Value: e.Value.StringFixed(2)},
			{Name: "Stop", Value: fmt.Sprintf("%.0f%%", pos.StopPct*100)},
		},
		At: at,
	})
	return pos.Clone(), nil
}

// Adopt tracks positions rebuilt from the event log.
func (m *Manager) Adopt(ctx context.Context, positions []*domain.Position) {
	for _, p := range positions {
		if !p.IsLive() {
			continue
		}
		pos := p.Clone()
		peak := pos.EntryPrice
		if pos.HighWater > peak {
			peak = pos.HighWater
		}
		m.track(ctx, &monitor{pos: pos, lastPrice: pos.EntryPrice, peak: peak})
	}
}

func (m *Manager) track(ctx context.Context, mon *monitor) {
	pos := mon.pos
	mon.pool = pos.Pool
	if err := m.prices.Subscribe(ctx, pos.Chain, pos.Address); err != nil {
		m.log.Warn().Err(err).Str("token", pos.Address).Msg("price subscribe failed, polling only")
	}

	m.mu.Lock()
	m.monitors[pos.ID] = mon
	m.byToken[feed.Key(pos.Chain, pos.Address)] = pos.ID
	m.launch(mon)
	n := m.countLocked(pos.Pool)
	m.mu.Unlock()

	observability.UpdateOpenPositions(string(pos.Pool), n)
}

func (m *Manager) untrack(pos *domain.Position) {
	m.mu.Lock()
	delete(m.monitors, pos.ID)
	delete(m.byToken, feed.Key(pos.Chain, pos.Address))
	n := m.countLocked(pos.Pool)
	m.mu.Unlock()

	m.prices.Unsubscribe(pos.Chain, pos.Address)
	observability.UpdateOpenPositions(string(pos.Pool), n)
}

// countLocked must be called with m.mu held.
func (m *Manager) countLocked(pool domain.PoolName) int {
	n := 0
	for _, mon := range m.monitors {
		if mon.pool == pool {
			n++
		}
	}
	return n
}

// evaluate runs one tick for mon.
func (m *Manager) evaluate(ctx context.Context, mon *monitor) {
	mon.mu.Lock()
	defer mon.mu.Unlock()

	pos := mon.pos
	if !pos.IsLive() {
		return
	}

	q, err := m.prices.Latest(ctx, pos.Chain, pos.Address)
	nowMs := m.now().UnixMilli()
	if err != nil {
		observability.RecordStaleTick()
		if !mon.stale {
			m.log.Warn().Err(err).Str("position_id", pos.ID).Msg("price stale, holding")
			m.publish(notify.Notification{
				Kind:     notify.KindError,
				Severity: notify.SeverityLow,
				Title:    fmt.Sprintf("Stale price for %s", display(pos)),
				Body:     err.Error(),
				At:       nowMs,
			})
		}
		mon.stale = true
		return
	}

	mon.stale = false
	mon.lastPrice, mon.lastTickAt = q.Price, nowMs
	if q.Price > mon.peak {
		mon.peak = q.Price
	}
	observability.RecordTick(float64(nowMs) / 1000)

	for _, ev := range m.machine.Step(pos, Tick{Price: q.Price, At: nowMs}) {
		if err := m.transition(ctx, mon, ev); err != nil {
			m.log.Error().Err(err).Str("position_id", pos.ID).Str("event", string(ev.Type)).Msg("transition aborted")
			return
		}
	}
}

// transition executes, persists and applies one event. mon.mu must be held.
func (m *Manager) transition(ctx context.Context, mon *monitor, ev *domain.Event) error {
	pos := mon.pos

	switch ev.Type {
	case domain.EventTPHit, domain.EventPositionClosed:
		price := ev.Price
		if ev.Fraction > 0 {
			fill, err := m.sell(ctx, pos, ev)
			if err != nil {
				m.exitFailed(ctx, mon, ev, err)
				return err
			}
			price = fill.Price
			mon.failing = false
		}
		Settle(pos, ev, price)
	}

	next := pos.Clone()
	if err := Apply(next, ev); err != nil {
		return fmt.Errorf("apply %s: %w", ev.Type, err)
	}
	if err := m.journal.Record(ctx, ev); err != nil {
		m.log.Warn().Err(err).Str("position_id", pos.ID).Msg("transition not persisted")
	}
	next.Seq = ev.Seq
	mon.pos = next

	observability.RecordTransition(string(ev.Type))
	m.announce(ev, next)

	if ev.Type == domain.EventPositionClosed {
		m.finish(ctx, mon, ev)
	}
	return nil
}

func (m *Manager) sell(ctx context.Context, pos *domain.Position, ev *domain.Event) (execution.Fill, error) {
	notional := pos.EntryValue.Mul(decimal.NewFromFloat(ev.Fraction * ev.Price / pos.EntryPrice))
	return m.exec.Submit(ctx, execution.Order{
		Side:        execution.SideSell,
		Chain:       pos.Chain,
		Token:       pos.Address,
		PositionID:  pos.ID,
		Fraction:    ev.Fraction,
		Notional:    notional,
		RefPrice:    ev.Price,
		MaxSlippage: m.maxSlippage,
	})
}

// exitFailed escalates a sell that could not be filled. The position stays
// live and the rule fires again on the next tick.
func (m *Manager) exitFailed(ctx context.Context, mon *monitor, ev *domain.Event, err error) {
	observability.RecordExecutionFailure(string(execution.SideSell))
	if ctx.Err() != nil {
		return
	}

	pos := mon.pos
	m.log.Error().Err(err).
		Str("position_id", pos.ID).
		Str("event", string(ev.Type)).
		Float64("fraction", ev.Fraction).
		Msg("exit order failed")

	at := m.now().UnixMilli()
	m.recordRisk(ctx, m.risk.Pause(domain.PauseExecutionFailure, at))

	if mon.failing {
		return
	}
	mon.failing = true
	m.publish(notify.Notification{
		Kind:     notify.KindError,
		Severity: notify.SeverityCritical,
		Title:    fmt.Sprintf("Exit failed for %s, admissions paused", display(pos)),
		Body:     err.Error(),
		Fields: []notify.Field{
			{Name: "Position", Value: pos.ID},
			{Name: "Remaining", Value: fmt.Sprintf("%.0f%%", pos.Remaining*100)},
		},
		At: at,
	})
}

// finish reports a closed position to risk, frees its slot and archives it.
func (m *Manager) finish(ctx context.Context, mon *monitor, ev *domain.Event) {
	pos := mon.pos

	m.recordRisk(ctx, m.risk.RecordClose(ev.PnL, ev.At))
	m.slots.Release(pos.Pool)
	m.untrack(pos)

	peak := mon.peak
	if pos.HighWater > peak {
		peak = pos.HighWater
	}
	trade := TradeFor(pos, ev.Price, peak, m.risk.DayOf(ev.At))
	if err := m.trades.Insert(ctx, trade); err != nil {
		m.log.Error().Err(err).Str("position_id", pos.ID).Msg("trade record insert failed")
	}
}

func (m *Manager) recordRisk(ctx context.Context, evs []domain.Event) {
	for i := range evs {
		ev := &evs[i]
		if err := m.journal.Record(ctx, ev); err != nil {
			m.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("risk event not persisted")
		}
		if ev.Type != domain.EventRiskPaused {
			continue
		}
		m.log.Warn().Str("reason", ev.Reason).Str("day_pnl", ev.PnL.StringFixed(2)).Msg("admissions paused")
		m.publish(notify.Notification{
			Kind:     notify.KindSystem,
			Severity: notify.SeverityHigh,
			Title:    "Admissions paused: " + ev.Reason,
			Fields:   []notify.Field{{Name: "Day P&L", Value: ev.PnL.StringFixed(2)}},
			At:       ev.At,
		})
	}
}

func (m *Manager) announce(ev *domain.Event, pos *domain.Position) {
	n := notify.Notification{At: ev.At}

	switch ev.Type {
	case domain.EventTPHit:
		n.Kind = notify.KindTPHit
		n.Severity = notify.SeverityMedium
		n.Title = fmt.Sprintf("TP%d hit %s", ev.Level+1, display(pos))
		n.Fields = []notify.Field{
			{Name: "Price", Value: fmt.Sprintf("%.8g", ev.Price)},
			{Name: "Sold", Value: fmt.Sprintf("%.0f%%", ev.Fraction*100)},
			{Name: "Stop", Value: fmt.Sprintf("%+.0f%%", pos.StopPct*100)},
			{Name: "P&L", Value: ev.PnL.StringFixed(2)},
		}
	case domain.EventTrailingArmed:
		n.Kind = notify.KindSystem
		n.Severity = notify.SeverityLow
		n.Title = fmt.Sprintf("Moon mode %s", display(pos))
		n.Fields = []notify.Field{{Name: "Price", Value: fmt.Sprintf("%.8g", ev.Price)}}
	case domain.EventPositionClosed:
		n.Kind = notify.KindExit
		n.Severity = notify.SeverityMedium
		if pos.CloseReason == domain.CloseStopLoss {
			n.Kind = notify.KindStopHit
			n.Severity = notify.SeverityHigh
		}
		n.Title = fmt.Sprintf("Closed %s: %s", display(pos), pos.CloseReason)
		n.Fields = []notify.Field{
			{Name: "Price", Value: fmt.Sprintf("%.8g", ev.Price)},
			{Name: "P&L", Value: pos.RealizedPnL.StringFixed(2)},
			{Name: "Held", Value: (time.Duration(pos.ClosedAt-pos.OpenedAt) * time.Millisecond).String()},
		}
	default:
		return
	}
	m.publish(n)
}

func (m *Manager) publish(n notify.Notification) {
	if m.notifier != nil {
		m.notifier.Publish(n)
	}
}

// Close exits a live position at the latest price, for operator and
// emergency closes.
func (m *Manager) Close(ctx context.Context, id string, reason domain.CloseReason) error {
	m.mu.Lock()
	mon, ok := m.monitors[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownPosition
	}

	mon.mu.Lock()
	defer mon.mu.Unlock()

	if !mon.pos.IsLive() {
		return ErrPositionClosed
	}
	price := mon.lastPrice
	if q, err := m.prices.Latest(ctx, mon.pos.Chain, mon.pos.Address); err == nil {
		price = q.Price
	}
	return m.transition(ctx, mon, CloseEvent(mon.pos, reason, price, m.now().UnixMilli()))
}

// CloseAll closes every live position. Failures do not stop the sweep.
func (m *Manager) CloseAll(ctx context.Context, reason domain.CloseReason) error {
	var errs []error
	for _, v := range m.Snapshot() {
		if err := m.Close(ctx, v.Position.ID, reason); err != nil && !errors.Is(err, ErrUnknownPosition) {
			errs = append(errs, fmt.Errorf("%s: %w", v.Position.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Get returns a view of one position.
func (m *Manager) Get(id string) (View, bool) {
	m.mu.Lock()
	mon, ok := m.monitors[id]
	m.mu.Unlock()
	if !ok {
		return View{}, false
	}
	return mon.view(), true
}

// Snapshot returns views of all live positions, oldest first.
func (m *Manager) Snapshot() []View {
	m.mu.Lock()
	mons := make([]*monitor, 0, len(m.monitors))
	for _, mon := range m.monitors {
		mons = append(mons, mon)
	}
	m.mu.Unlock()

	out := make([]View, 0, len(mons))
	for _, mon := range mons {
		out = append(out, mon.view())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Position.OpenedAt < out[j].Position.OpenedAt
	})
	return out
}

// Holds reports whether a live position exists for the token.
func (m *Manager) Holds(chain domain.Chain, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byToken[feed.Key(chain, token)]
	return ok
}

// Count returns the number of live positions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.monitors)
}

// TradeFor builds the analytics record of a closed position.
func TradeFor(pos *domain.Position, exitPrice, peak float64, day string) *domain.TradeRecord {
	t := &domain.TradeRecord{
		PositionID:     pos.ID,
		Chain:          pos.Chain,
		Address:        pos.Address,
		Symbol:         pos.Symbol,
		Pool:           pos.Pool,
		EntryPrice:     pos.EntryPrice,
		EntrySize:      pos.EntrySize,
		EntryValue:     pos.EntryValue,
		OpenedAt:       pos.OpenedAt,
		ExitPrice:      exitPrice,
		CloseReason:    pos.CloseReason,
		ClosedAt:       pos.ClosedAt,
		LevelsHit:      len(pos.FiredLevels),
		PeakPrice:      peak,
		RealizedPnL:    pos.RealizedPnL,
		OutcomeClass:   domain.OutcomeClassLoss,
		HoldDurationMs: pos.ClosedAt - pos.OpenedAt,
		Day:            day,
	}
	if !pos.EntryValue.IsZero() {
		t.ReturnPct = pos.RealizedPnL.Div(pos.EntryValue).InexactFloat64()
	}
	if domain.IsWin(pos.RealizedPnL) {
		t.OutcomeClass = domain.OutcomeClassWin
	}
	return t
}

func display(pos *domain.Position) string {
	if pos.Symbol != "" {
		return pos.Symbol
	}
	return pos.Address
}
