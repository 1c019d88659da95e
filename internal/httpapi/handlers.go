// Package httpapi wires the read endpoints of the pipeline's HTTP surface —
// thin gorilla/mux routing over MetricsReadAPI, BucketStore, and the health
// Snapshotter. Routing decisions (load balancing, TLS termination, auth) are
// out of scope; this package only validates query parameters and shapes
// JSON responses.
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"dexgrid/internal/catalogue"
	"dexgrid/internal/domain"
	"dexgrid/internal/health"
	"dexgrid/internal/metricsapi"
	"dexgrid/internal/storage"

	"github.com/shopspring/decimal"
)

// RefreshTrigger forces an out-of-band supplementary snapshot refresh. The
// composition root wires this to the SupplementaryFetcher's run methods.
type RefreshTrigger func(ctx context.Context) error

// Server holds the read-only collaborators the HTTP handlers consult. It
// has no mutable state of its own besides the refresh-in-flight flag.
type Server struct {
	Metrics        *metricsapi.MetricsReadAPI
	Store          storage.BucketStore
	Supplementary  storage.SupplementaryStore // optional: nil skips external-pool rows in market-data
	Catalogue      catalogue.MarketCatalogue
	Health         *health.Snapshotter
	MetricsHandler http.Handler // Prometheus text-format handler, e.g. promhttp.Handler()
	LiveHandler    http.Handler // optional: WebSocket upgrade for the live bucket feed
	Refresh        RefreshTrigger
	Logger         *log.Logger

	refreshMu  sync.Mutex
	refreshing bool
}

// NewServer builds a Server. Logger defaults to the standard logger with a
// package-scoped prefix when nil.
func NewServer(metrics *metricsapi.MetricsReadAPI, store storage.BucketStore, supplementary storage.SupplementaryStore, cat catalogue.MarketCatalogue, snaps *health.Snapshotter, metricsHandler http.Handler, refresh RefreshTrigger, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[httpapi] ", log.LstdFlags)
	}
	return &Server{
		Metrics:        metrics,
		Store:          store,
		Supplementary:  supplementary,
		Catalogue:      cat,
		Health:         snaps,
		MetricsHandler: metricsHandler,
		Refresh:        refresh,
		Logger:         logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeAPIError(w http.ResponseWriter, status int, apiErr *apiError) {
	writeJSON(w, status, apiErr)
}

// tickerResponse is one element of the ticker list, using the CoinGecko-style
// DEX ticker field set upstream aggregators expect.
type tickerResponse struct {
	TickerID       string  `json:"ticker_id"`
	BaseCurrency   string  `json:"base_currency"`
	TargetCurrency string  `json:"target_currency"`
	BaseSymbol     string  `json:"base_symbol,omitempty"`
	BaseName       string  `json:"base_name,omitempty"`
	TargetSymbol   string  `json:"target_symbol,omitempty"`
	TargetName     string  `json:"target_name,omitempty"`
	PoolID         string  `json:"pool_id"`
	LastPrice      string  `json:"last_price"`
	BaseVolume     string  `json:"base_volume"`
	TargetVolume   string  `json:"target_volume"`
	Bid            string  `json:"bid"`
	Ask            string  `json:"ask"`
	LiquidityInUSD string  `json:"liquidity_in_usd"`
	High24h        *string `json:"high_24h,omitempty"`
	Low24h         *string `json:"low_24h,omitempty"`
	StartDate      string  `json:"start_date,omitempty"`
}

// handleTickers serves GET /api/tickers. There is no order book behind an
// AMM pool, so bid and ask both mirror last_price — the same convention the
// upstream aggregators (CoinGecko/CMC DEX ticker feeds) use for pool-only
// venues.
func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	markets, err := s.Catalogue.Markets(ctx)
	if err != nil {
		s.Logger.Printf("tickers: catalogue lookup failed: %v", err)
		writeAPIError(w, http.StatusInternalServerError, &apiError{Error: "internal error"})
		return
	}

	tokenToPoolID := make(map[string]string, len(markets))
	for _, m := range markets {
		tokenToPoolID[m.BaseToken] = m.PoolID
	}

	tokens := make([]string, 0, len(markets))
	for _, m := range markets {
		tokens = append(tokens, m.BaseToken)
	}

	rolling, err := s.Metrics.Rolling24h(ctx, tokens, tokenToPoolID)
	if err != nil {
		s.Logger.Printf("tickers: rolling24h failed: %v", err)
		writeAPIError(w, http.StatusInternalServerError, &apiError{Error: "internal error"})
		return
	}

	daily, err := s.Store.DailyAggregates(ctx, tokens)
	if err != nil {
		s.Logger.Printf("tickers: daily aggregates failed: %v", err)
		daily = nil
	}

	out := make([]tickerResponse, 0, len(markets))
	for _, m := range markets {
		agg, ok := rolling[m.PoolID]
		if !ok {
			continue // no price observation yet: omit from the response
		}
		price := lastPrice(agg)
		if price.IsZero() {
			continue
		}

		resp := tickerResponse{
			TickerID:       m.TickerID(),
			BaseCurrency:   m.BaseToken,
			TargetCurrency: m.QuoteToken,
			PoolID:         m.PoolID,
			LastPrice:      price.StringFixed(12),
			BaseVolume:     agg.SumBase.StringFixed(12),
			TargetVolume:   agg.SumTarget.StringFixed(12),
			Bid:            price.StringFixed(12),
			Ask:            price.StringFixed(12),
			LiquidityInUSD: "0",
		}
		if !agg.MaxHigh.IsZero() {
			h := agg.MaxHigh.StringFixed(12)
			resp.High24h = &h
		}
		if !agg.MinPositive.IsZero() {
			l := agg.MinPositive.StringFixed(12)
			resp.Low24h = &l
		}
		if d, ok := daily[m.BaseToken]; ok && !d.FirstDate.IsZero() {
			resp.StartDate = d.FirstDate.Format("2006-01-02")
		}
		out = append(out, resp)
	}

	writeJSON(w, http.StatusOK, out)
}

// lastPrice derives a representative price from a rolling aggregate: the
// volume-weighted average over the window, falling back to the observed
// high when there's no base volume to weight against.
func lastPrice(agg domain.RollingAggregate) decimal.Decimal {
	if !agg.SumBase.IsZero() {
		return agg.SumTarget.Div(agg.SumBase)
	}
	return agg.MaxHigh
}

// marketDataResponse is one token's daily-and-external-pool summary for
// GET /api/market-data.
type marketDataResponse struct {
	Token       string             `json:"token"`
	FirstDate   string             `json:"first_date,omitempty"`
	LastDate    string             `json:"last_date,omitempty"`
	TotalBase   string             `json:"total_base_volume"`
	TotalTarget string             `json:"total_target_volume"`
	AllTimeHigh string             `json:"all_time_high"`
	AllTimeLow  string             `json:"all_time_low"`
	TradingDays int                `json:"trading_days"`
	Daily       []dailyRowResponse `json:"daily"`
	Meteora     []meteoraResponse  `json:"external_pool_volume,omitempty"`
}

type dailyRowResponse struct {
	Date       string `json:"date"`
	BaseVolume string `json:"base_volume"`
	IsComplete bool   `json:"is_complete"`
}

type meteoraResponse struct {
	Date       string `json:"date"`
	Volume     string `json:"volume"`
	IsComplete bool   `json:"is_complete"`
}

// handleMarketData serves GET /api/market-data.
func (s *Server) handleMarketData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	startDate, apiErr := parseDateParam(r, "startDate")
	if apiErr != nil {
		writeAPIError(w, http.StatusBadRequest, apiErr)
		return
	}
	endDate, apiErr := parseDateParam(r, "endDate")
	if apiErr != nil {
		writeAPIError(w, http.StatusBadRequest, apiErr)
		return
	}
	tokens := parseTokensParam(r)

	daily, err := s.Store.Range(ctx, domain.GridDaily, startDate, endDate, tokens)
	if err != nil {
		s.Logger.Printf("market-data: daily range failed: %v", err)
		writeAPIError(w, http.StatusInternalServerError, &apiError{Error: "internal error"})
		return
	}
	aggregates, err := s.Store.DailyAggregates(ctx, tokens)
	if err != nil {
		s.Logger.Printf("market-data: daily aggregates failed: %v", err)
		aggregates = nil
	}

	var meteora []domain.DailyMeteoraRecord
	if s.Supplementary != nil {
		meteora, err = s.Supplementary.RangeMeteora(ctx, startDate, endDate, tokens)
		if err != nil {
			s.Logger.Printf("market-data: meteora range failed: %v", err)
			meteora = nil
		}
	}
	meteoraByToken := make(map[string][]domain.DailyMeteoraRecord)
	for _, row := range meteora {
		meteoraByToken[row.Token] = append(meteoraByToken[row.Token], row)
	}

	byToken := make(map[string][]domain.BucketRecord)
	for _, row := range daily {
		byToken[row.Token] = append(byToken[row.Token], row)
	}
	for token := range meteoraByToken {
		if _, ok := byToken[token]; !ok {
			byToken[token] = nil
		}
	}

	out := make([]marketDataResponse, 0, len(byToken))
	for token, rows := range byToken {
		sort.Slice(rows, func(i, j int) bool { return rows[i].BucketStart.Before(rows[j].BucketStart) })

		resp := marketDataResponse{Token: token, TradingDays: len(rows)}
		if agg, ok := aggregates[token]; ok {
			if !agg.FirstDate.IsZero() {
				resp.FirstDate = agg.FirstDate.Format("2006-01-02")
			}
			if !agg.LastDate.IsZero() {
				resp.LastDate = agg.LastDate.Format("2006-01-02")
			}
			resp.TotalBase = agg.TotalBase.StringFixed(12)
			resp.TotalTarget = agg.TotalTarget.StringFixed(12)
			resp.AllTimeHigh = agg.AllTimeHigh.StringFixed(12)
			resp.AllTimeLow = agg.AllTimeLowPos.StringFixed(12)
		}
		for _, row := range rows {
			resp.Daily = append(resp.Daily, dailyRowResponse{
				Date:       row.BucketStart.Format("2006-01-02"),
				BaseVolume: row.BaseVolume.StringFixed(12),
				IsComplete: row.IsComplete,
			})
		}
		if mRows, ok := meteoraByToken[token]; ok {
			sort.Slice(mRows, func(i, j int) bool { return mRows[i].Date.Before(mRows[j].Date) })
			for _, row := range mRows {
				resp.Meteora = append(resp.Meteora, meteoraResponse{
					Date:       row.Date.Format("2006-01-02"),
					Volume:     row.Volume.StringFixed(12),
					IsComplete: row.IsComplete,
				})
			}
		}
		out = append(out, resp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })

	writeJSON(w, http.StatusOK, out)
}

// handleMetrics delegates to the Prometheus text-format handler.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.MetricsHandler == nil {
		writeAPIError(w, http.StatusNotImplemented, &apiError{Error: "metrics not configured"})
		return
	}
	s.MetricsHandler.ServeHTTP(w, r)
}

// handleLiveStream upgrades GET /api/stream/ticks to the live bucket feed.
func (s *Server) handleLiveStream(w http.ResponseWriter, r *http.Request) {
	if s.LiveHandler == nil {
		writeAPIError(w, http.StatusNotImplemented, &apiError{Error: "live stream not configured"})
		return
	}
	s.LiveHandler.ServeHTTP(w, r)
}

// handleHealthLiveness serves GET /health — a bare liveness probe, no body
// shape contract beyond 200 OK.
func (s *Server) handleHealthLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHealth serves GET /api/health — the latest snapshot per service.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Health.Latest())
}

// handleHealthHistory serves GET /api/health/history?service=&hours=.
func (s *Server) handleHealthHistory(w http.ResponseWriter, r *http.Request) {
	hours, apiErr := parseHoursParam(r)
	if apiErr != nil {
		writeAPIError(w, http.StatusBadRequest, apiErr)
		return
	}
	service := r.URL.Query().Get("service")
	writeJSON(w, http.StatusOK, s.Health.History(service, hours))
}

type cacheStatusResponse struct {
	Refreshing bool                            `json:"refreshing"`
	Services   map[string]domain.ServiceStatus `json:"services"`
	AsOf       string                          `json:"as_of"`
}

// handleCacheStatus serves GET /api/cache/status.
func (s *Server) handleCacheStatus(w http.ResponseWriter, _ *http.Request) {
	s.refreshMu.Lock()
	refreshing := s.refreshing
	s.refreshMu.Unlock()

	writeJSON(w, http.StatusOK, cacheStatusResponse{
		Refreshing: refreshing,
		Services:   s.Health.Latest(),
		AsOf:       time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCacheRefresh serves POST /api/cache/refresh: forces a supplementary
// snapshot refresh, returning 409 if one is already in flight.
func (s *Server) handleCacheRefresh(w http.ResponseWriter, r *http.Request) {
	if s.Refresh == nil {
		writeAPIError(w, http.StatusNotImplemented, &apiError{Error: "refresh not configured"})
		return
	}

	s.refreshMu.Lock()
	if s.refreshing {
		s.refreshMu.Unlock()
		writeAPIError(w, http.StatusConflict, &apiError{Error: "refresh already in progress"})
		return
	}
	s.refreshing = true
	s.refreshMu.Unlock()

	go func() {
		defer func() {
			s.refreshMu.Lock()
			s.refreshing = false
			s.refreshMu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.Refresh(ctx); err != nil {
			s.Logger.Printf("cache refresh failed: %v", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh started"})
}
