package memory

import (
	"context"
	"sort"
	"sync"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu     sync.RWMutex
	events []*domain.Event // ordered by seq
	ids    map[string]struct{}
	seqs   map[int64]struct{}
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		ids:  make(map[string]struct{}),
		seqs: make(map[int64]struct{}),
	}
}

func copyEvent(e *domain.Event) *domain.Event {
	c := *e
	if e.Payload != nil {
		c.Payload = append([]byte(nil), e.Payload...)
	}
	return &c
}

// Append adds one event. Returns ErrDuplicateKey if its Seq or EventID exists.
func (s *EventStore) Append(ctx context.Context, e *domain.Event) error {
	return s.AppendBulk(ctx, []*domain.Event{e})
}

// AppendBulk adds events atomically. Fails entire batch on any duplicate.
func (s *EventStore) AppendBulk(_ context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchIDs := make(map[string]struct{}, len(events))
	batchSeqs := make(map[int64]struct{}, len(events))

	// First pass: validate and check duplicates (existing + intra-batch)
	for _, e := range events {
		if e == nil || e.EventID == "" || e.Seq <= 0 {
			return storage.ErrInvalidInput
		}
		if _, exists := s.ids[e.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := s.seqs[e.Seq]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchIDs[e.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchSeqs[e.Seq]; exists {
			return storage.ErrDuplicateKey
		}
		batchIDs[e.EventID] = struct{}{}
		batchSeqs[e.Seq] = struct{}{}
	}

	// Second pass: insert all
	for _, e := range events {
		s.events = append(s.events, copyEvent(e))
		s.ids[e.EventID] = struct{}{}
		s.seqs[e.Seq] = struct{}{}
	}

	sort.Slice(s.events, func(i, j int) bool {
		return s.events[i].Seq < s.events[j].Seq
	})

	return nil
}

// GetByPosition retrieves all events of one position, ordered by Seq ASC.
func (s *EventStore) GetByPosition(_ context.Context, positionID string) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for _, e := range s.events {
		if e.PositionID == positionID {
			result = append(result, copyEvent(e))
		}
	}
	return result, nil
}

// GetAll retrieves the whole log, ordered by Seq ASC.
func (s *EventStore) GetAll(ctx context.Context) ([]*domain.Event, error) {
	return s.GetSince(ctx, 0)
}

// GetSince retrieves events with Seq > seq, ordered by Seq ASC.
func (s *EventStore) GetSince(_ context.Context, seq int64) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := sort.Search(len(s.events), func(i int) bool { return s.events[i].Seq > seq })
	result := make([]*domain.Event, 0, len(s.events)-i)
	for _, e := range s.events[i:] {
		result = append(result, copyEvent(e))
	}
	return result, nil
}

// LastSeq returns the highest stored Seq, or 0 for an empty log.
func (s *EventStore) LastSeq(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) == 0 {
		return 0, nil
	}
	return s.events[len(s.events)-1].Seq, nil
}

var _ storage.EventStore = (*EventStore)(nil)
