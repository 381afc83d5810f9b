package replay

import (
	"fmt"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/position"
)

// Violation is one problem found in an event log.
type Violation struct {
	Seq        int64
	PositionID string
	Msg        string
}

func (v Violation) String() string {
	if v.PositionID == "" {
		return fmt.Sprintf("seq %d: %s", v.Seq, v.Msg)
	}
	return fmt.Sprintf("seq %d: position %s: %s", v.Seq, v.PositionID, v.Msg)
}

// Verify walks the log and reports every violation instead of stopping at the
// first: sequence gaps, duplicate event IDs, events for unknown or closed
// positions, remaining fraction increases, take-profit levels fired out of
// order and stops that loosen.
func Verify(events []*domain.Event) []Violation {
	var (
		out       []Violation
		ids       = make(map[string]int64)
		positions = make(map[string]*domain.Position)
	)
	add := func(ev *domain.Event, format string, args ...any) {
		out = append(out, Violation{Seq: ev.Seq, PositionID: ev.PositionID, Msg: fmt.Sprintf(format, args...)})
	}

	for i, ev := range events {
		switch {
		case i == 0 && ev.Seq != 1:
			add(ev, "log starts at seq %d", ev.Seq)
		case i > 0 && ev.Seq != events[i-1].Seq+1:
			add(ev, "gap after seq %d", events[i-1].Seq)
		}
		if prev, dup := ids[ev.EventID]; dup && ev.EventID != "" {
			add(ev, "event id %s already used at seq %d", ev.EventID, prev)
		}
		ids[ev.EventID] = ev.Seq

		if !ev.Type.IsPositionEvent() {
			continue
		}

		if ev.Type == domain.EventPositionOpened {
			if _, dup := positions[ev.PositionID]; dup {
				add(ev, "opened twice")
				continue
			}
			pos, err := position.New(ev)
			if err != nil {
				add(ev, "%v", err)
				continue
			}
			positions[pos.ID] = pos
			continue
		}

		pos, ok := positions[ev.PositionID]
		if !ok {
			add(ev, "%s before POSITION_OPENED", ev.Type)
			continue
		}

		// Apply rejects skipped take-profit levels; a looser stop is folded
		// with max, so it is checked here.
		if ev.Type == domain.EventTPHit && ev.StopPct < pos.StopPct {
			add(ev, "stop loosened from %.4f to %.4f", pos.StopPct, ev.StopPct)
		}

		before := pos.Remaining
		if err := position.Apply(pos, ev); err != nil {
			add(ev, "%v", err)
			continue
		}
		if pos.Remaining > before {
			add(ev, "remaining rose from %.9f to %.9f", before, pos.Remaining)
		}
	}
	return out
}
