package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/storage"
)

func TestDailyStatsStore_UpsertAndRange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewDailyStatsStore(pool)

	day := &domain.DailyStats{
		Day:         "2026-03-02",
		Trades:      2,
		Wins:        1,
		Losses:      1,
		RealizedPnL: decimal.RequireFromString("-0.5"),
		UpdatedAt:   1000,
	}
	require.NoError(t, store.Upsert(ctx, day))

	day.Trades = 3
	day.Losses = 2
	day.MaxConsecutiveLoss = 2
	day.RealizedPnL = decimal.RequireFromString("-3.25")
	require.NoError(t, store.Upsert(ctx, day))

	got, err := store.Get(ctx, "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Trades)
	assert.Equal(t, 2, got.MaxConsecutiveLoss)
	assert.True(t, decimal.RequireFromString("-3.25").Equal(got.RealizedPnL))

	require.NoError(t, store.Upsert(ctx, &domain.DailyStats{Day: "2026-03-04", RealizedPnL: decimal.Zero}))
	require.NoError(t, store.Upsert(ctx, &domain.DailyStats{Day: "2026-02-28", RealizedPnL: decimal.Zero}))

	days, err := store.GetRange(ctx, "2026-03-01", "2026-03-31")
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2026-03-02", days[0].Day)
	assert.Equal(t, "2026-03-04", days[1].Day)

	_, err = store.Get(ctx, "2026-01-01")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
