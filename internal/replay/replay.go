// Package replay rebuilds live engine state by folding the event log.
//
// Positions are rebuilt with position.Apply, the same function the live path
// uses, and risk state with risk.Governor.Apply. Folding the same log twice
// yields identical state.
package replay

import (
	"errors"
	"fmt"
	"sort"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/position"
	"moonshot-engine/internal/risk"
)

// Params configures a rebuild.
type Params struct {
	Risk risk.Params

	// Now rolls the trading day and loss cooldown forward after the last
	// event. Zero means the time of the last event.
	Now int64 // ms
}

// State is the reconstruction of everything the engine keeps in memory.
type State struct {
	Positions map[string]*domain.Position // every position in the log, by ID
	Occupancy map[domain.PoolName]int     // live positions per pool
	Risk      domain.RiskState
	LastSeq   int64
	Events    int

	// Orphans are position events whose POSITION_OPENED is missing from the
	// log. They are skipped so the remaining positions still rebuild.
	Orphans []Violation
}

// Live returns the positions still held, ordered by OpenedAt then ID.
func (s *State) Live() []*domain.Position {
	var out []*domain.Position
	for _, p := range s.Positions {
		if p.IsLive() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt != out[j].OpenedAt {
			return out[i].OpenedAt < out[j].OpenedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Closed returns the number of closed positions.
func (s *State) Closed() int {
	n := 0
	for _, p := range s.Positions {
		if !p.IsLive() {
			n++
		}
	}
	return n
}

// Rebuild folds events, which must be in strictly increasing Seq order, into
// a State. Events of a position that was never opened are skipped and listed
// in State.Orphans; any other event that cannot be applied aborts the
// rebuild. Use Verify to list every problem in a log instead.
func Rebuild(events []*domain.Event, p Params) (*State, error) {
	if err := checkOrdering(events); err != nil {
		return nil, err
	}

	st := &State{
		Positions: make(map[string]*domain.Position),
		Occupancy: make(map[domain.PoolName]int),
		Risk:      domain.RiskState{},
		Events:    len(events),
	}
	gov := risk.New(p.Risk)

	for _, ev := range events {
		err := foldPosition(st.Positions, ev)
		switch {
		case errors.Is(err, errOrphan):
			st.Orphans = append(st.Orphans, Violation{Seq: ev.Seq, PositionID: ev.PositionID, Msg: err.Error()})
		case err != nil:
			return nil, err
		}
		gov.Apply(ev)
		st.LastSeq = ev.Seq
	}

	for _, pos := range st.Positions {
		if pos.IsLive() {
			st.Occupancy[pos.Pool]++
		}
	}

	now := p.Now
	if now == 0 && len(events) > 0 {
		now = events[len(events)-1].At
	}
	if now > 0 {
		st.Risk = gov.State(now)
	}
	return st, nil
}

func foldPosition(positions map[string]*domain.Position, ev *domain.Event) error {
	if !ev.Type.IsPositionEvent() {
		return nil
	}

	if ev.Type == domain.EventPositionOpened {
		if _, dup := positions[ev.PositionID]; dup {
			return fmt.Errorf("seq %d: position %s opened twice: %w", ev.Seq, ev.PositionID, position.ErrInvalidEvent)
		}
		pos, err := position.New(ev)
		if err != nil {
			return fmt.Errorf("seq %d: %w", ev.Seq, err)
		}
		positions[pos.ID] = pos
		return nil
	}

	pos, ok := positions[ev.PositionID]
	if !ok {
		return fmt.Errorf("%s %w", ev.Type, errOrphan)
	}
	if err := position.Apply(pos, ev); err != nil {
		return fmt.Errorf("seq %d: %w", ev.Seq, err)
	}
	return nil
}
