package memory

import (
	"context"
	"sort"
	"sync"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeRecord // keyed by position_id
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.TradeRecord),
	}
}

// Insert adds a trade. Returns ErrDuplicateKey if position_id exists.
func (s *TradeStore) Insert(_ context.Context, t *domain.TradeRecord) error {
	if t == nil || t.PositionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.PositionID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *t
	s.data[t.PositionID] = &copy
	return nil
}

// GetByID retrieves a trade by position ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(_ context.Context, positionID string) (*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[positionID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *t
	return &copy, nil
}

// GetByDay retrieves trades closed on a trading day, ordered by closed_at ASC.
func (s *TradeStore) GetByDay(_ context.Context, day string) ([]*domain.TradeRecord, error) {
	return s.filter(func(t *domain.TradeRecord) bool { return t.Day == day }), nil
}

// GetByPool retrieves trades of one pool, ordered by closed_at ASC.
func (s *TradeStore) GetByPool(_ context.Context, pool domain.PoolName) ([]*domain.TradeRecord, error) {
	return s.filter(func(t *domain.TradeRecord) bool { return t.Pool == pool }), nil
}

func (s *TradeStore) filter(keep func(*domain.TradeRecord) bool) []*domain.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeRecord
	for _, t := range s.data {
		if keep(t) {
			copy := *t
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ClosedAt != result[j].ClosedAt {
			return result[i].ClosedAt < result[j].ClosedAt
		}
		return result[i].PositionID < result[j].PositionID
	})

	return result
}

var _ storage.TradeStore = (*TradeStore)(nil)
