package clickhouse

import (
	"context"
	"fmt"
	"time"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/storage"
)

// RejectionStore implements storage.RejectionStore using ClickHouse.
type RejectionStore struct {
	conn *Conn
}

// NewRejectionStore creates a new RejectionStore.
func NewRejectionStore(conn *Conn) *RejectionStore {
	return &RejectionStore{conn: conn}
}

// Compile-time interface check.
var _ storage.RejectionStore = (*RejectionStore)(nil)

// InsertBulk adds rejections in one batch. Duplicates are kept.
func (s *RejectionStore) InsertBulk(ctx context.Context, rejections []*domain.Rejection) (err error) {
	if len(rejections) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { observe("rejections.insert", start, err) }()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO rejections (
			chain, address, reason, detail, score, confluence, age_minutes, at_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rejections {
		err = batch.Append(
			string(r.Chain), r.Address, string(r.Reason), r.Detail,
			int32(r.Score), int32(r.Confluence), r.AgeMinutes, r.At,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// CountByReason counts rejections with At in [start, end] (inclusive) by reason.
func (s *RejectionStore) CountByReason(ctx context.Context, from, to int64) (counts map[domain.RejectReason]int, err error) {
	start := time.Now()
	defer func() { observe("rejections.count", start, err) }()

	rows, err := s.conn.Query(ctx, `
		SELECT reason, count()
		FROM rejections
		WHERE at_ms >= ? AND at_ms <= ?
		GROUP BY reason
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query rejections: %w", err)
	}
	defer rows.Close()

	counts = make(map[domain.RejectReason]int)
	for rows.Next() {
		var (
			reason string
			n      uint64
		)
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("scan rejection count: %w", err)
		}
		counts[domain.RejectReason(reason)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rejections: %w", err)
	}
	return counts, nil
}
