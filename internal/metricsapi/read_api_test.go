package metricsapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexgrid/internal/domain"
	"dexgrid/internal/storage/memory"
)

func TestMetricsReadAPI_PrefersTenMinuteGrid(t *testing.T) {
	store := memory.NewBucketStore()
	now := time.Now().UTC()

	_, err := store.Upsert(context.Background(), domain.GridTenMinute, []domain.BucketRecord{
		{Token: "tok1", BucketStart: now.Add(-10 * time.Minute)},
	}, false)
	require.NoError(t, err)

	api := NewMetricsReadAPI(MetricsReadAPIOptions{Store: store})
	result, err := api.Rolling24h(context.Background(), nil, map[string]string{"tok1": "pool1"})
	require.NoError(t, err)
	_, ok := result["pool1"]
	assert.True(t, ok)
}

func TestMetricsReadAPI_FallsBackToHourlyGrid(t *testing.T) {
	store := memory.NewBucketStore()
	now := time.Now().UTC()

	_, err := store.Upsert(context.Background(), domain.GridHourly, []domain.BucketRecord{
		{Token: "tok1", BucketStart: now.Add(-time.Hour)},
	}, true)
	require.NoError(t, err)

	api := NewMetricsReadAPI(MetricsReadAPIOptions{Store: store})
	result, err := api.Rolling24h(context.Background(), nil, map[string]string{"tok1": "pool1"})
	require.NoError(t, err)
	_, ok := result["pool1"]
	assert.True(t, ok)
}

func TestMetricsReadAPI_FallsBackToSnapshotWhenStoreEmpty(t *testing.T) {
	store := memory.NewBucketStore()
	api := NewMetricsReadAPI(MetricsReadAPIOptions{Store: store})

	api.UpdateSnapshot(map[string]domain.RollingAggregate{
		"tok1": {SumTradeCount: 42},
	})

	result, err := api.Rolling24h(context.Background(), nil, map[string]string{"tok1": "pool1"})
	require.NoError(t, err)
	require.Contains(t, result, "pool1")
	assert.Equal(t, int64(42), result["pool1"].SumTradeCount)
}

func TestMetricsReadAPI_ReturnsEmptyWhenNothingAvailable(t *testing.T) {
	store := memory.NewBucketStore()
	api := NewMetricsReadAPI(MetricsReadAPIOptions{Store: store})

	result, err := api.Rolling24h(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestMetricsReadAPI_UnmappedTokenFallsBackToTokenAsKey(t *testing.T) {
	store := memory.NewBucketStore()
	now := time.Now().UTC()
	_, err := store.Upsert(context.Background(), domain.GridTenMinute, []domain.BucketRecord{
		{Token: "tok1", BucketStart: now.Add(-10 * time.Minute)},
	}, false)
	require.NoError(t, err)

	api := NewMetricsReadAPI(MetricsReadAPIOptions{Store: store})
	result, err := api.Rolling24h(context.Background(), nil, map[string]string{})
	require.NoError(t, err)
	assert.Contains(t, result, "tok1")
}
