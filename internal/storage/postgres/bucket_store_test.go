package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexgrid/internal/domain"
)

func TestBucketStore_UpsertAndRange(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a Postgres container")
	}
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewBucketStore(pool)

	start := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	row := domain.BucketRecord{
		Token:        "TokenA",
		BucketStart:  start,
		BaseVolume:   decimal.NewFromFloat(10.5),
		TargetVolume: decimal.NewFromFloat(1000),
		High:         decimal.NewFromFloat(95.2),
		Low:          decimal.NewFromFloat(94.8),
		TradeCount:   4,
	}

	n, err := store.Upsert(ctx, domain.GridTenMinute, []domain.BucketRecord{row}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := store.Range(ctx, domain.GridTenMinute, start, start.Add(10*time.Minute), nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "TokenA", rows[0].Token)
	assert.True(t, rows[0].BaseVolume.Equal(decimal.NewFromFloat(10.5)))
	assert.False(t, rows[0].IsComplete)
}

func TestBucketStore_UpsertNeverDemotesComplete(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a Postgres container")
	}
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewBucketStore(pool)

	start := time.Date(2026, 7, 30, 13, 0, 0, 0, time.UTC)
	base := domain.BucketRecord{Token: "TokenB", BucketStart: start, BaseVolume: decimal.NewFromInt(1)}

	_, err := store.Upsert(ctx, domain.GridTenMinute, []domain.BucketRecord{base}, true)
	require.NoError(t, err)

	_, err = store.Upsert(ctx, domain.GridTenMinute, []domain.BucketRecord{base}, false)
	require.NoError(t, err)

	rows, err := store.Range(ctx, domain.GridTenMinute, start, start.Add(10*time.Minute), nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsComplete, "completeness must never be demoted by a later incomplete upsert")
}

func TestBucketStore_Rolling24hAndRollups(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a Postgres container")
	}
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewBucketStore(pool)

	hourStart := time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC)
	rows := []domain.BucketRecord{
		{Token: "TokenC", BucketStart: hourStart, BaseVolume: decimal.NewFromInt(1), High: decimal.NewFromInt(10), Low: decimal.NewFromInt(9), TradeCount: 1, IsComplete: true},
		{Token: "TokenC", BucketStart: hourStart.Add(10 * time.Minute), BaseVolume: decimal.NewFromInt(2), High: decimal.NewFromInt(11), Low: decimal.NewFromInt(8), TradeCount: 2, IsComplete: true},
	}
	_, err := store.Upsert(ctx, domain.GridTenMinute, rows, false)
	require.NoError(t, err)

	n, err := store.Aggregate10MinToHourly(ctx, "TokenC", hourStart)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hourlyRows, err := store.Range(ctx, domain.GridHourly, hourStart, hourStart.Add(time.Hour), nil)
	require.NoError(t, err)
	require.Len(t, hourlyRows, 1)
	assert.True(t, hourlyRows[0].BaseVolume.Equal(decimal.NewFromInt(3)))
	assert.True(t, hourlyRows[0].High.Equal(decimal.NewFromInt(11)))
	assert.True(t, hourlyRows[0].Low.Equal(decimal.NewFromInt(8)))

	agg, err := store.Rolling24h(ctx, domain.GridTenMinute, hourStart.Add(20*time.Minute), nil)
	require.NoError(t, err)
	require.Contains(t, agg, "TokenC")
	assert.True(t, agg["TokenC"].SumBase.Equal(decimal.NewFromInt(3)))
}

func TestBucketStore_Metadata(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a Postgres container")
	}
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewBucketStore(pool)

	_, ok, err := store.MetadataGet(ctx, "last_sync_time")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.MetadataSet(ctx, "last_sync_time", "2026-07-30T00:00:00Z"))

	value, ok, err := store.MetadataGet(ctx, "last_sync_time")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2026-07-30T00:00:00Z", value)
}
