package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const selectTrades = `
	SELECT
		position_id, chain, address, symbol, pool,
		entry_price, entry_size, entry_value::text, opened_at,
		exit_price, close_reason, closed_at, levels_hit, peak_price,
		realized_pnl::text, return_pct, outcome_class, hold_duration_ms, day
	FROM trades
`

// Insert adds a closed trade. Returns ErrDuplicateKey if position_id exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.TradeRecord) (err error) {
	if t == nil || t.PositionID == "" {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	defer func() { observe("trades.insert", start, err) }()

	query := `
		INSERT INTO trades (
			position_id, chain, address, symbol, pool,
			entry_price, entry_size, entry_value, opened_at,
			exit_price, close_reason, closed_at, levels_hit, peak_price,
			realized_pnl, return_pct, outcome_class, hold_duration_ms, day
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8::numeric, $9,
			$10, $11, $12, $13, $14,
			$15::numeric, $16, $17, $18, $19
		)
	`

	_, err = s.pool.Exec(ctx, query,
		t.PositionID, string(t.Chain), t.Address, t.Symbol, string(t.Pool),
		t.EntryPrice, t.EntrySize, numeric(t.EntryValue), t.OpenedAt,
		t.ExitPrice, string(t.CloseReason), t.ClosedAt, t.LevelsHit, t.PeakPrice,
		numeric(t.RealizedPnL), t.ReturnPct, t.OutcomeClass, t.HoldDurationMs, t.Day,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetByID retrieves a trade by position ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(ctx context.Context, positionID string) (t *domain.TradeRecord, err error) {
	start := time.Now()
	defer func() { observe("trades.by_id", start, err) }()

	row := s.pool.QueryRow(ctx, selectTrades+` WHERE position_id = $1`, positionID)
	t, err = scanTrade(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade by id: %w", err)
	}
	return t, nil
}

// GetByDay retrieves trades closed on day, ordered by closed_at ASC.
func (s *TradeStore) GetByDay(ctx context.Context, day string) ([]*domain.TradeRecord, error) {
	return s.query(ctx, "trades.by_day", selectTrades+` WHERE day = $1 ORDER BY closed_at ASC, position_id ASC`, day)
}

// GetByPool retrieves trades of one pool, ordered by closed_at ASC.
func (s *TradeStore) GetByPool(ctx context.Context, pool domain.PoolName) ([]*domain.TradeRecord, error) {
	return s.query(ctx, "trades.by_pool", selectTrades+` WHERE pool = $1 ORDER BY closed_at ASC, position_id ASC`, string(pool))
}

func (s *TradeStore) query(ctx context.Context, op, sql string, args ...any) (trades []*domain.TradeRecord, err error) {
	start := time.Now()
	defer func() { observe(op, start, err) }()

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return trades, nil
}

func scanTrade(row pgx.Row) (*domain.TradeRecord, error) {
	var (
		t                                         domain.TradeRecord
		chain, pool, reason, entryValue, pnlValue string
	)
	err := row.Scan(
		&t.PositionID, &chain, &t.Address, &t.Symbol, &pool,
		&t.EntryPrice, &t.EntrySize, &entryValue, &t.OpenedAt,
		&t.ExitPrice, &reason, &t.ClosedAt, &t.LevelsHit, &t.PeakPrice,
		&pnlValue, &t.ReturnPct, &t.OutcomeClass, &t.HoldDurationMs, &t.Day,
	)
	if err != nil {
		return nil, err
	}

	t.Chain = domain.Chain(chain)
	t.Pool = domain.PoolName(pool)
	t.CloseReason = domain.CloseReason(reason)
	if t.EntryValue, err = parseNumeric(entryValue); err != nil {
		return nil, err
	}
	if t.RealizedPnL, err = parseNumeric(pnlValue); err != nil {
		return nil, err
	}
	return &t, nil
}
