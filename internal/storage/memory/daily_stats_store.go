package memory

import (
	"context"
	"sort"
	"sync"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/storage"
)

// DailyStatsStore is an in-memory implementation of storage.DailyStatsStore.
type DailyStatsStore struct {
	mu   sync.RWMutex
	data map[string]*domain.DailyStats // keyed by day
}

// NewDailyStatsStore creates a new in-memory daily stats store.
func NewDailyStatsStore() *DailyStatsStore {
	return &DailyStatsStore{
		data: make(map[string]*domain.DailyStats),
	}
}

// Upsert inserts or replaces the row for s.Day.
func (s *DailyStatsStore) Upsert(_ context.Context, d *domain.DailyStats) error {
	if d == nil || d.Day == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *d
	s.data[d.Day] = &copy
	return nil
}

// Get retrieves a day. Returns ErrNotFound if not exists.
func (s *DailyStatsStore) Get(_ context.Context, day string) (*domain.DailyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.data[day]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *d
	return &copy, nil
}

// GetRange retrieves days in [from, to] (inclusive), ordered by day ASC.
func (s *DailyStatsStore) GetRange(_ context.Context, from, to string) ([]*domain.DailyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DailyStats
	for day, d := range s.data {
		if day >= from && day <= to {
			copy := *d
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Day < result[j].Day
	})

	return result, nil
}

var _ storage.DailyStatsStore = (*DailyStatsStore)(nil)
