package memory

import (
	"context"
	"sync"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/storage"
)

// RejectionStore is an in-memory implementation of storage.RejectionStore.
type RejectionStore struct {
	mu   sync.RWMutex
	data []*domain.Rejection
}

// NewRejectionStore creates a new in-memory rejection store.
func NewRejectionStore() *RejectionStore {
	return &RejectionStore{}
}

// InsertBulk adds rejections.
func (s *RejectionStore) InsertBulk(_ context.Context, rejections []*domain.Rejection) error {
	for _, r := range rejections {
		if r == nil || r.Reason == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rejections {
		copy := *r
		s.data = append(s.data, &copy)
	}
	return nil
}

// CountByReason counts rejections with At in [start, end] (inclusive) by reason.
func (s *RejectionStore) CountByReason(_ context.Context, start, end int64) (map[domain.RejectReason]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.RejectReason]int)
	for _, r := range s.data {
		if r.At >= start && r.At <= end {
			counts[r.Reason]++
		}
	}
	return counts, nil
}

var _ storage.RejectionStore = (*RejectionStore)(nil)
