package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/storage"
)

// DailyStatsStore implements storage.DailyStatsStore using PostgreSQL.
type DailyStatsStore struct {
	pool *Pool
}

// NewDailyStatsStore creates a new DailyStatsStore.
func NewDailyStatsStore(pool *Pool) *DailyStatsStore {
	return &DailyStatsStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DailyStatsStore = (*DailyStatsStore)(nil)

const selectDailyStats = `
	SELECT day, trades, wins, losses, realized_pnl::text, max_consecutive_loss, pause_count, updated_at
	FROM daily_stats
`

// Upsert inserts or replaces the row for d.Day.
func (s *DailyStatsStore) Upsert(ctx context.Context, d *domain.DailyStats) (err error) {
	if d == nil || d.Day == "" {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	defer func() { observe("daily_stats.upsert", start, err) }()

	query := `
		INSERT INTO daily_stats (
			day, trades, wins, losses, realized_pnl, max_consecutive_loss, pause_count, updated_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)
		ON CONFLICT (day) DO UPDATE SET
			trades = EXCLUDED.trades,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			realized_pnl = EXCLUDED.realized_pnl,
			max_consecutive_loss = EXCLUDED.max_consecutive_loss,
			pause_count = EXCLUDED.pause_count,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.pool.Exec(ctx, query,
		d.Day, d.Trades, d.Wins, d.Losses, numeric(d.RealizedPnL),
		d.MaxConsecutiveLoss, d.PauseCount, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert daily stats: %w", err)
	}
	return nil
}

// Get retrieves a day. Returns ErrNotFound if not exists.
func (s *DailyStatsStore) Get(ctx context.Context, day string) (d *domain.DailyStats, err error) {
	start := time.Now()
	defer func() { observe("daily_stats.get", start, err) }()

	d, err = scanDailyStats(s.pool.QueryRow(ctx, selectDailyStats+` WHERE day = $1`, day))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get daily stats: %w", err)
	}
	return d, nil
}

// GetRange retrieves days in [from, to] (inclusive), ordered by day ASC.
func (s *DailyStatsStore) GetRange(ctx context.Context, from, to string) (result []*domain.DailyStats, err error) {
	start := time.Now()
	defer func() { observe("daily_stats.range", start, err) }()

	rows, err := s.pool.Query(ctx, selectDailyStats+` WHERE day >= $1 AND day <= $2 ORDER BY day ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDailyStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scan daily stats: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily stats: %w", err)
	}
	return result, nil
}

func scanDailyStats(row pgx.Row) (*domain.DailyStats, error) {
	var (
		d   domain.DailyStats
		pnl string
	)
	err := row.Scan(&d.Day, &d.Trades, &d.Wins, &d.Losses, &pnl, &d.MaxConsecutiveLoss, &d.PauseCount, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if d.RealizedPnL, err = parseNumeric(pnl); err != nil {
		return nil, err
	}
	return &d, nil
}
