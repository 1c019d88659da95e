package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexgrid/internal/domain"
	"dexgrid/internal/storage"
)

func TestSupplementaryStore_BuySellRoundTrip(t *testing.T) {
	store := NewSupplementaryStore()
	ctx := context.Background()

	date := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	row := domain.DailyBuySellRecord{Token: "TokenD", Date: date, BuyVolume: decimal.NewFromFloat(500), SellVolume: decimal.NewFromFloat(480)}

	_, err := store.UpsertBuySell(ctx, []domain.DailyBuySellRecord{row})
	require.NoError(t, err)

	rows, err := store.RangeBuySell(ctx, date, date.Add(24*time.Hour), nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "TokenD", rows[0].Token)

	latest, ok, err := store.LatestDate(ctx, "TokenD", storage.SourceBuySell)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, date, latest)
}

func TestSupplementaryStore_MeteoraRoundTrip(t *testing.T) {
	store := NewSupplementaryStore()
	ctx := context.Background()

	date := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	row := domain.DailyMeteoraRecord{Token: "TokenE", Date: date, Volume: decimal.NewFromFloat(1234.5)}

	_, err := store.UpsertMeteora(ctx, []domain.DailyMeteoraRecord{row})
	require.NoError(t, err)

	rows, err := store.RangeMeteora(ctx, date, date.Add(24*time.Hour), nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, ok, err := store.LatestDate(ctx, "Unknown", storage.SourceMeteora)
	require.NoError(t, err)
	assert.False(t, ok)
}
