package storage

import (
	"context"

	"moonshot-engine/internal/domain"
)

// EventStore is the append-only event log. It is the source of truth for
// crash recovery.
type EventStore interface {
	// Append adds one event. Returns ErrDuplicateKey if its Seq or EventID exists
	// and ErrInvalidInput if either is unset.
	Append(ctx context.Context, e *domain.Event) error

	// AppendBulk adds events atomically. Fails entire batch on any duplicate.
	AppendBulk(ctx context.Context, events []*domain.Event) error

	// GetByPosition retrieves all events of one position, ordered by Seq ASC.
	GetByPosition(ctx context.Context, positionID string) ([]*domain.Event, error)

	// GetAll retrieves the whole log, ordered by Seq ASC.
	GetAll(ctx context.Context) ([]*domain.Event, error)

	// GetSince retrieves events with Seq > seq, ordered by Seq ASC.
	GetSince(ctx context.Context, seq int64) ([]*domain.Event, error)

	// LastSeq returns the highest stored Seq, or 0 for an empty log.
	LastSeq(ctx context.Context) (int64, error)
}

// TradeStore holds summaries of closed positions.
type TradeStore interface {
	// Insert adds a trade. Returns ErrDuplicateKey if position_id exists.
	Insert(ctx context.Context, t *domain.TradeRecord) error

	// GetByID retrieves a trade by position ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, positionID string) (*domain.TradeRecord, error)

	// GetByDay retrieves trades closed on a trading day, ordered by closed_at ASC.
	GetByDay(ctx context.Context, day string) ([]*domain.TradeRecord, error)

	// GetByPool retrieves trades of one pool, ordered by closed_at ASC.
	GetByPool(ctx context.Context, pool domain.PoolName) ([]*domain.TradeRecord, error)
}

// DailyStatsStore holds one summary row per trading day.
type DailyStatsStore interface {
	// Upsert inserts or replaces the row for s.Day.
	Upsert(ctx context.Context, s *domain.DailyStats) error

	// Get retrieves a day. Returns ErrNotFound if not exists.
	Get(ctx context.Context, day string) (*domain.DailyStats, error)

	// GetRange retrieves days in [from, to] (inclusive), ordered by day ASC.
	GetRange(ctx context.Context, from, to string) ([]*domain.DailyStats, error)
}

// RejectionStore holds rejected candidates for analytics.
type RejectionStore interface {
	// InsertBulk adds rejections.
	InsertBulk(ctx context.Context, rejections []*domain.Rejection) error

	// CountByReason counts rejections with At in [start, end] (inclusive) by reason.
	CountByReason(ctx context.Context, start, end int64) (map[domain.RejectReason]int, error)
}
