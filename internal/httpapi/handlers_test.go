package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexgrid/internal/catalogue"
	"dexgrid/internal/domain"
	"dexgrid/internal/health"
	"dexgrid/internal/metricsapi"
	"dexgrid/internal/storage/memory"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestServer(t *testing.T, markets []domain.Market, seed []domain.BucketRecord) (*Server, *memory.BucketStore) {
	t.Helper()
	store := memory.NewBucketStore()
	if len(seed) > 0 {
		_, err := store.Upsert(context.Background(), domain.GridTenMinute, seed, true)
		require.NoError(t, err)
	}
	m := metricsapi.NewMetricsReadAPI(metricsapi.MetricsReadAPIOptions{Store: store})
	cat := catalogue.NewStaticCatalogue(markets)
	snaps := health.NewSnapshotter()
	s := NewServer(m, store, nil, cat, snaps, nil, nil, nil)
	return s, store
}

func TestHandleTickers_OmitsMarketsWithoutPrice(t *testing.T) {
	now := time.Now().UTC()
	markets := []domain.Market{
		{BaseToken: "tokenA", QuoteToken: "USDC", PoolID: "poolA"},
		{BaseToken: "tokenB", QuoteToken: "USDC", PoolID: "poolB"},
	}
	seed := []domain.BucketRecord{
		{Token: "tokenA", BucketStart: now, BaseVolume: dec("100"), TargetVolume: dec("250"), High: dec("3"), Low: dec("2"), IsComplete: true},
	}
	s, _ := newTestServer(t, markets, seed)

	req := httptest.NewRequest(http.MethodGet, "/api/tickers", nil)
	rec := httptest.NewRecorder()
	s.handleTickers(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []tickerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "tokenA_USDC", out[0].TickerID)
	assert.Equal(t, "poolA", out[0].PoolID)
	assert.Equal(t, out[0].LastPrice, out[0].Bid)
	assert.Equal(t, out[0].LastPrice, out[0].Ask)
}

func TestHandleCacheRefresh_RejectsConcurrentRefresh(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	s.Refresh = func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}

	rec1 := httptest.NewRecorder()
	s.handleCacheRefresh(rec1, httptest.NewRequest(http.MethodPost, "/api/cache/refresh", nil))
	require.Equal(t, http.StatusAccepted, rec1.Code)

	<-started
	rec2 := httptest.NewRecorder()
	s.handleCacheRefresh(rec2, httptest.NewRequest(http.MethodPost, "/api/cache/refresh", nil))
	assert.Equal(t, http.StatusConflict, rec2.Code)

	close(release)
}

func TestHandleHealthHistory_ValidatesHours(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/health/history?hours=0", nil)
	rec := httptest.NewRecorder()
	s.handleHealthHistory(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleMarketData_RequiresDateRange(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/market-data", nil)
	rec := httptest.NewRecorder()
	s.handleMarketData(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
