package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexgrid/internal/domain"
)

func TestBucketStore_UpsertNeverDemotesComplete(t *testing.T) {
	store := NewBucketStore()
	ctx := context.Background()

	start := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	row := domain.BucketRecord{Token: "TokenA", BucketStart: start, BaseVolume: decimal.NewFromInt(1)}

	_, err := store.Upsert(ctx, domain.GridTenMinute, []domain.BucketRecord{row}, true)
	require.NoError(t, err)

	_, err = store.Upsert(ctx, domain.GridTenMinute, []domain.BucketRecord{row}, false)
	require.NoError(t, err)

	rows, err := store.Range(ctx, domain.GridTenMinute, start, start.Add(10*time.Minute), nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsComplete)
}

func TestBucketStore_RingEviction(t *testing.T) {
	store := NewBucketStore()
	store.capacity = 3
	ctx := context.Background()

	base := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		row := domain.BucketRecord{
			Token:       "TokenB",
			BucketStart: base.Add(time.Duration(i) * 10 * time.Minute),
			BaseVolume:  decimal.NewFromInt(int64(i)),
		}
		_, err := store.Upsert(ctx, domain.GridTenMinute, []domain.BucketRecord{row}, false)
		require.NoError(t, err)
	}

	rows, err := store.Range(ctx, domain.GridTenMinute, base, time.Time{}, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(rows), 3)
}

func TestBucketStore_AggregateRollups(t *testing.T) {
	store := NewBucketStore()
	ctx := context.Background()

	hourStart := time.Date(2026, 7, 30, 11, 0, 0, 0, time.UTC)
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
	assert.True(t, hourlyRows[0].IsComplete)
}

func TestBucketStore_MetadataRoundTrip(t *testing.T) {
	store := NewBucketStore()
	ctx := context.Background()

	_, ok, err := store.MetadataGet(ctx, "last_sync_time")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.MetadataSet(ctx, "last_sync_time", "2026-07-30T00:00:00Z"))
	v, ok, err := store.MetadataGet(ctx, "last_sync_time")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2026-07-30T00:00:00Z", v)
}
