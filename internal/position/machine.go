// Package position owns the lifecycle of admitted positions: the take-profit
// ladder, the ratcheting stop, the time exit and trailing moon mode.
//
// Machine is pure. Step proposes events for one tick, and Apply is the only
// way a Position changes, both live and during replay.
package position

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"moonshot-engine/internal/domain"
)

var (
	// ErrPositionClosed is returned when an event targets a closed position.
	ErrPositionClosed = errors.New("position is closed")
	// ErrInvalidEvent is returned for events that would break a position invariant.
	ErrInvalidEvent = errors.New("invalid position event")
)

// fractionEpsilon absorbs float error in remaining-size arithmetic.
const fractionEpsilon = 1e-9

func roundFraction(f float64) float64 {
	f = math.Round(f*1e9) / 1e9
	if f < fractionEpsilon {
		return 0
	}
	return f
}

// Tick is one price observation.
type Tick struct {
	Price float64
	At    int64 // ms
}

// Params configures the machine.
type Params struct {
	Ladder      []domain.TPLevel // ascending triggers
	Pools       map[domain.PoolName]domain.PoolConfig
	FlatBandPct float64 // |unrealized| below this counts as flat for the time exit
}

// Machine evaluates transition rules.
type Machine struct {
	p Params
}

// NewMachine creates a machine.
func NewMachine(p Params) *Machine {
	return &Machine{p: p}
}

// Ladder returns the configured take-profit ladder.
func (m *Machine) Ladder() []domain.TPLevel {
	return m.p.Ladder
}

// Pool returns the config of a pool.
func (m *Machine) Pool(name domain.PoolName) (domain.PoolConfig, bool) {
	pc, ok := m.p.Pools[name]
	return pc, ok
}

// Step returns the events the tick triggers, in application order. Sells
// carry the tick price; the caller settles them with Settle before applying.
// pos is not modified.
//
// Rules run in fixed priority: stop, time exit, ladder, trailing.
func (m *Machine) Step(pos *domain.Position, tick Tick) []*domain.Event {
	if !pos.IsLive() || tick.Price <= 0 {
		return nil
	}
	pc := m.p.Pools[pos.Pool]
	price := tick.Price

	if price <= pos.StopPrice() {
		return []*domain.Event{closeEvent(pos, domain.CloseStopLoss, price, tick.At)}
	}

	if pc.FlatExitMinutes > 0 &&
		pos.AgeMs(tick.At) > int64(pc.FlatExitMinutes*60_000) &&
		math.Abs(pos.UnrealizedPct(price)) < m.p.FlatBandPct {
		return []*domain.Event{closeEvent(pos, domain.CloseTimeExit, price, tick.At)}
	}

	// Work on a copy so multi-level ticks see their own effects.
	work := pos.Clone()
	var out []*domain.Event
	emit := func(ev *domain.Event) {
		// Proposed events are structurally valid by construction.
		_ = Apply(work, ev)
		out = append(out, ev)
	}

	for idx, lvl := range m.p.Ladder {
		if work.Fired(idx) {
			continue
		}
		if price < work.EntryPrice*(1+lvl.TriggerPct) {
			// Triggers ascend, so no higher level can fire either.
			break
		}
		emit(&domain.Event{
			Type:       domain.EventTPHit,
			PositionID: pos.ID,
			Pool:       pos.Pool,
			Chain:      pos.Chain,
			Token:      pos.Address,
			Price:      price,
			Fraction:   math.Min(lvl.SellFraction, work.Remaining),
			StopPct:    math.Max(work.StopPct, lvl.NewStopPct),
			Level:      idx,
			At:         tick.At,
		})
		if work.Remaining <= 0 {
			emit(closeEvent(work, domain.CloseLadderedOut, price, tick.At))
			return out
		}
	}

	if len(work.FiredLevels) < len(m.p.Ladder) {
		return out
	}

	switch {
	case !work.Trailing:
		emit(&domain.Event{
			Type:       domain.EventTrailingArmed,
			PositionID: pos.ID,
			Pool:       pos.Pool,
			Chain:      pos.Chain,
			Token:      pos.Address,
			Price:      price,
			StopPct:    work.StopPct,
			Level:      -1,
			At:         tick.At,
		})
	case price > work.HighWater:
		emit(&domain.Event{
			Type:       domain.EventHighWater,
			PositionID: pos.ID,
			Pool:       pos.Pool,
			Chain:      pos.Chain,
			Token:      pos.Address,
			Price:      price,
			StopPct:    work.StopPct,
			Level:      -1,
			At:         tick.At,
		})
	case price <= work.HighWater*(1-pc.TrailingPct):
		emit(closeEvent(work, domain.CloseTrailingStop, price, tick.At))
	}

	return out
}

// CloseEvent builds the event that exits everything left in pos.
func CloseEvent(pos *domain.Position, reason domain.CloseReason, price float64, at int64) *domain.Event {
	return closeEvent(pos, reason, price, at)
}

func closeEvent(pos *domain.Position, reason domain.CloseReason, price float64, at int64) *domain.Event {
	return &domain.Event{
		Type:       domain.EventPositionClosed,
		PositionID: pos.ID,
		Pool:       pos.Pool,
		Chain:      pos.Chain,
		Token:      pos.Address,
		Price:      price,
		Fraction:   pos.Remaining,
		StopPct:    pos.StopPct,
		Level:      -1,
		Reason:     string(reason),
		At:         at,
	}
}

// openPayload carries the POSITION_OPENED fields with no Event column.
type openPayload struct {
	Symbol     string          `json:"symbol,omitempty"`
	EntryValue decimal.Decimal `json:"entry_value"`
}

// OpenEvent builds the POSITION_OPENED event for a filled entry.
func OpenEvent(id string, c *domain.TokenCandidate, pool domain.PoolConfig, size float64, value decimal.Decimal, fillPrice float64, at int64) (*domain.Event, error) {
	payload, err := json.Marshal(openPayload{Symbol: c.Symbol, EntryValue: value})
	if err != nil {
		return nil, fmt.Errorf("marshal open payload: %w", err)
	}
	return &domain.Event{
		Type:       domain.EventPositionOpened,
		PositionID: id,
		Pool:       pool.Name,
		Chain:      c.Chain,
		Token:      c.Address,
		Price:      fillPrice,
		Fraction:   size,
		StopPct:    pool.BaseStopLossPct,
		Level:      -1,
		At:         at,
		Payload:    payload,
	}, nil
}

// New builds a position from its POSITION_OPENED event.
func New(ev *domain.Event) (*domain.Position, error) {
	if ev.Type != domain.EventPositionOpened {
		return nil, fmt.Errorf("%w: %s is not an open event", ErrInvalidEvent, ev.Type)
	}
	if ev.Price <= 0 {
		return nil, fmt.Errorf("%w: entry price %v", ErrInvalidEvent, ev.Price)
	}

	var p openPayload
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: open payload: %v", ErrInvalidEvent, err)
		}
	}

	return &domain.Position{
		ID:          ev.PositionID,
		Chain:       ev.Chain,
		Address:     ev.Token,
		Symbol:      p.Symbol,
		Pool:        ev.Pool,
		State:       domain.StateOpen,
		EntryPrice:  ev.Price,
		EntrySize:   ev.Fraction,
		EntryValue:  p.EntryValue,
		Remaining:   1,
		StopPct:     ev.StopPct,
		RealizedPnL: decimal.Zero,
		OpenedAt:    ev.At,
		Seq:         ev.Seq,
	}, nil
}

// Apply folds one event into pos. It rejects events that would break an
// invariant and leaves pos untouched in that case.
func Apply(pos *domain.Position, ev *domain.Event) error {
	if ev.PositionID != pos.ID {
		return fmt.Errorf("%w: event for %s applied to %s", ErrInvalidEvent, ev.PositionID, pos.ID)
	}
	if !pos.IsLive() {
		return ErrPositionClosed
	}

	switch ev.Type {
	case domain.EventTPHit:
		// Triggers ascend, so fired levels are always a prefix of the ladder.
		if ev.Level != len(pos.FiredLevels) {
			return fmt.Errorf("%w: level %d fired after %d levels", ErrInvalidEvent, ev.Level, len(pos.FiredLevels))
		}
		remaining, err := sell(pos.Remaining, ev.Fraction)
		if err != nil {
			return err
		}
		pos.Remaining = remaining
		pos.StopPct = math.Max(pos.StopPct, ev.StopPct)
		pos.FiredLevels = append(pos.FiredLevels, ev.Level)
		pos.State = domain.StatePartiallyExited
		pos.RealizedPnL = pos.RealizedPnL.Add(ev.PnL)

	case domain.EventTrailingArmed:
		pos.Trailing = true
		pos.HighWater = ev.Price

	case domain.EventHighWater:
		if !pos.Trailing {
			return fmt.Errorf("%w: high-water mark before trailing", ErrInvalidEvent)
		}
		pos.HighWater = math.Max(pos.HighWater, ev.Price)

	case domain.EventPositionClosed:
		if _, err := sell(pos.Remaining, ev.Fraction); err != nil {
			return err
		}
		pos.Remaining = 0
		pos.State = domain.StateClosed
		pos.ClosedAt = ev.At
		pos.CloseReason = domain.CloseReason(ev.Reason)
		pos.RealizedPnL = ev.PnL

	default:
		return fmt.Errorf("%w: %s does not apply to positions", ErrInvalidEvent, ev.Type)
	}

	pos.Seq = ev.Seq
	return nil
}

func sell(remaining, fraction float64) (float64, error) {
	if fraction < 0 || fraction > remaining+fractionEpsilon {
		return 0, fmt.Errorf("%w: sell %.9f of remaining %.9f", ErrInvalidEvent, fraction, remaining)
	}
	return roundFraction(remaining - fraction), nil
}

// Settle stamps the fill price of a sell event and its realized P&L. pos must
// be the position as it was before ev is applied.
func Settle(pos *domain.Position, ev *domain.Event, fillPrice float64) {
	ev.Price = fillPrice
	pnl := RealizedPnL(pos, ev.Fraction, fillPrice)
	switch ev.Type {
	case domain.EventTPHit:
		ev.PnL = pnl
	case domain.EventPositionClosed:
		ev.PnL = pos.RealizedPnL.Add(pnl)
	}
}

// RealizedPnL returns the P&L of selling fraction of the original size at
// fillPrice.
func RealizedPnL(pos *domain.Position, fraction, fillPrice float64) decimal.Decimal {
	if pos.EntryPrice <= 0 || fraction <= 0 {
		return decimal.Zero
	}
	ret := decimal.NewFromFloat(fillPrice/pos.EntryPrice - 1)
	return pos.EntryValue.Mul(decimal.NewFromFloat(fraction)).Mul(ret).Round(8)
}
