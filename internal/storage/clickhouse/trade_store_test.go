package clickhouse

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/storage"
)

func createTestTrade(id string, pool domain.PoolName, day string, closedAt int64) *domain.TradeRecord {
	return &domain.TradeRecord{
		PositionID:     id,
		Chain:          domain.ChainSolana,
		Address:        "mint-" + id,
		Symbol:         "MOON",
		Pool:           pool,
		EntryPrice:     1.0,
		EntrySize:      0.15,
		EntryValue:     decimal.NewFromInt(15),
		OpenedAt:       closedAt - 60_000,
		ExitPrice:      0.8,
		CloseReason:    domain.CloseStopLoss,
		ClosedAt:       closedAt,
		LevelsHit:      0,
		PeakPrice:      1.1,
		RealizedPnL:    decimal.NewFromInt(-3),
		ReturnPct:      -0.2,
		OutcomeClass:   domain.OutcomeClassLoss,
		HoldDurationMs: 60_000,
		Day:            day,
	}
}

func TestTradeStore_InsertAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(conn)

	trade := createTestTrade("pos-1", domain.PoolHunt, "2026-03-02", 5000)
	require.NoError(t, store.Insert(ctx, trade))

	got, err := store.GetByID(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PoolHunt, got.Pool)
	assert.Equal(t, domain.CloseStopLoss, got.CloseReason)
	assert.True(t, trade.RealizedPnL.Equal(got.RealizedPnL))
	assert.True(t, trade.EntryValue.Equal(got.EntryValue))

	assert.ErrorIs(t, store.Insert(ctx, trade), storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTradeStore_GetByDayAndPool(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(conn)

	require.NoError(t, store.Insert(ctx, createTestTrade("b", domain.PoolSafe, "2026-03-02", 3000)))
	require.NoError(t, store.Insert(ctx, createTestTrade("a", domain.PoolHunt, "2026-03-02", 2000)))
	require.NoError(t, store.Insert(ctx, createTestTrade("c", domain.PoolHunt, "2026-03-03", 1000)))

	day, err := store.GetByDay(ctx, "2026-03-02")
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, "a", day[0].PositionID)

	hunt, err := store.GetByPool(ctx, domain.PoolHunt)
	require.NoError(t, err)
	require.Len(t, hunt, 2)
	assert.Equal(t, "c", hunt[0].PositionID)
}
