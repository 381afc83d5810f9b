package storage

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"moonshot-engine/internal/domain"
)

// MirroredTradeStore writes trades to a primary store and copies them to an
// analytics store. Reads are served by the primary only; a failed copy is
// logged and never fails the insert.
type MirroredTradeStore struct {
	primary TradeStore
	mirror  TradeStore
	log     zerolog.Logger
}

// NewMirroredTradeStore creates a mirrored store.
func NewMirroredTradeStore(primary, mirror TradeStore, log zerolog.Logger) *MirroredTradeStore {
	return &MirroredTradeStore{primary: primary, mirror: mirror, log: log}
}

var _ TradeStore = (*MirroredTradeStore)(nil)

// Insert adds t to the primary, then to the mirror.
func (s *MirroredTradeStore) Insert(ctx context.Context, t *domain.TradeRecord) error {
	if err := s.primary.Insert(ctx, t); err != nil {
		return err
	}
	// A duplicate in the mirror means an earlier copy already landed.
	if err := s.mirror.Insert(ctx, t); err != nil && !errors.Is(err, ErrDuplicateKey) {
		s.log.Warn().Err(err).Str("position_id", t.PositionID).Msg("trade not mirrored")
	}
	return nil
}

// GetByID reads from the primary.
func (s *MirroredTradeStore) GetByID(ctx context.Context, positionID string) (*domain.TradeRecord, error) {
	return s.primary.GetByID(ctx, positionID)
}

// GetByDay reads from the primary.
func (s *MirroredTradeStore) GetByDay(ctx context.Context, day string) ([]*domain.TradeRecord, error) {
	return s.primary.GetByDay(ctx, day)
}

// GetByPool reads from the primary.
func (s *MirroredTradeStore) GetByPool(ctx context.Context, pool domain.PoolName) ([]*domain.TradeRecord, error) {
	return s.primary.GetByPool(ctx, pool)
}
