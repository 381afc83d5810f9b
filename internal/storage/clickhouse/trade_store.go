package clickhouse

import (
	"context"
	"fmt"
	"time"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/storage"
)

// TradeStore implements storage.TradeStore using ClickHouse.
type TradeStore struct {
	conn *Conn
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(conn *Conn) *TradeStore {
	return &TradeStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const tradeColumns = `
	position_id, chain, address, symbol, pool,
	entry_price, entry_size, entry_value, opened_at,
	exit_price, close_reason, closed_at, levels_hit, peak_price,
	realized_pnl, return_pct, outcome_class, hold_duration_ms, day
`

// Insert adds a closed trade. Returns ErrDuplicateKey if position_id exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.TradeRecord) (err error) {
	if t == nil || t.PositionID == "" {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	defer func() { observe("trades.insert", start, err) }()

	// ReplacingMergeTree would silently replace; keep insert-once semantics.
	exists, err := s.exists(ctx, t.PositionID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	err = s.conn.Exec(ctx, `INSERT INTO trades (`+tradeColumns+`) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?
		)`,
		t.PositionID, string(t.Chain), t.Address, t.Symbol, string(t.Pool),
		t.EntryPrice, t.EntrySize, t.EntryValue, t.OpenedAt,
		t.ExitPrice, string(t.CloseReason), t.ClosedAt, uint8(t.LevelsHit), t.PeakPrice,
		t.RealizedPnL, t.ReturnPct, t.OutcomeClass, t.HoldDurationMs, t.Day,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetByID retrieves a trade by position ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(ctx context.Context, positionID string) (*domain.TradeRecord, error) {
	trades, err := s.query(ctx, "trades.by_id",
		`SELECT `+tradeColumns+` FROM trades FINAL WHERE position_id = ? LIMIT 1`, positionID)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, storage.ErrNotFound
	}
	return trades[0], nil
}

// GetByDay retrieves trades closed on day, ordered by closed_at ASC.
func (s *TradeStore) GetByDay(ctx context.Context, day string) ([]*domain.TradeRecord, error) {
	return s.query(ctx, "trades.by_day",
		`SELECT `+tradeColumns+` FROM trades FINAL WHERE day = ? ORDER BY closed_at ASC, position_id ASC`, day)
}

// GetByPool retrieves trades of one pool, ordered by closed_at ASC.
func (s *TradeStore) GetByPool(ctx context.Context, pool domain.PoolName) ([]*domain.TradeRecord, error) {
	return s.query(ctx, "trades.by_pool",
		`SELECT `+tradeColumns+` FROM trades FINAL WHERE pool = ? ORDER BY closed_at ASC, position_id ASC`, string(pool))
}

func (s *TradeStore) exists(ctx context.Context, positionID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count() FROM trades WHERE position_id = ?`, positionID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *TradeStore) query(ctx context.Context, op, query string, args ...any) (trades []*domain.TradeRecord, err error) {
	start := time.Now()
	defer func() { observe(op, start, err) }()

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func scanTrades(rows chRows) ([]*domain.TradeRecord, error) {
	var result []*domain.TradeRecord
	for rows.Next() {
		var (
			t                   domain.TradeRecord
			chain, pool, reason string
			levels              uint8
		)
		err := rows.Scan(
			&t.PositionID, &chain, &t.Address, &t.Symbol, &pool,
			&t.EntryPrice, &t.EntrySize, &t.EntryValue, &t.OpenedAt,
			&t.ExitPrice, &reason, &t.ClosedAt, &levels, &t.PeakPrice,
			&t.RealizedPnL, &t.ReturnPct, &t.OutcomeClass, &t.HoldDurationMs, &t.Day,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Chain = domain.Chain(chain)
		t.Pool = domain.PoolName(pool)
		t.CloseReason = domain.CloseReason(reason)
		t.LevelsHit = int(levels)
		result = append(result, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return result, nil
}
