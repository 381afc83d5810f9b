package replay

import (
	"context"
	"fmt"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/storage"
)

// Runner loads the event log from storage and rebuilds state from it.
type Runner struct {
	events storage.EventStore
}

// NewRunner creates a new replay runner.
func NewRunner(events storage.EventStore) *Runner {
	return &Runner{events: events}
}

// Result is a rebuilt state plus the verification report for the same log.
type Result struct {
	State      *State
	Violations []Violation
	Counts     map[domain.EventType]int
}

// Run loads the whole log, verifies it and rebuilds state.
func (r *Runner) Run(ctx context.Context, p Params) (*Result, error) {
	events, err := r.events.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	SortEvents(events)

	st, err := Rebuild(events, p)
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.EventType]int)
	for _, ev := range events {
		counts[ev.Type]++
	}
	return &Result{State: st, Violations: Verify(events), Counts: counts}, nil
}
