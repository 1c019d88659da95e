// Package main runs the unified dexgrid server: the three bucket-grid
// refreshers, the two supplementary daily fetchers, their schedulers, and the
// read-only HTTP API, all in one process.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dexgrid/internal/analytics"
	"dexgrid/internal/catalogue"
	"dexgrid/internal/config"
	"dexgrid/internal/domain"
	"dexgrid/internal/health"
	"dexgrid/internal/httpapi"
	"dexgrid/internal/live"
	"dexgrid/internal/metricsapi"
	"dexgrid/internal/observability"
	"dexgrid/internal/refresh"
	"dexgrid/internal/scheduler"
	"dexgrid/internal/storage"
	chstore "dexgrid/internal/storage/clickhouse"
	"dexgrid/internal/storage/memory"
	pgstore "dexgrid/internal/storage/postgres"
)

// stores holds the two storage interfaces the refreshers and the HTTP API
// share, whichever backend produced them.
type stores struct {
	bucket        storage.BucketStore
	supplementary storage.SupplementaryStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags)

	ctx, cancel := context.WithCancel(context.Background())

	st, cleanup, degraded, err := createStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("create stores: %v", err)
	}
	defer cleanup()
	observability.SetDegradedMode(degraded)

	excluded := make(map[string]struct{}, len(cfg.ExcludedMarkets))
	for _, e := range cfg.ExcludedMarkets {
		excluded[e] = struct{}{}
	}
	included := make([]domain.Market, 0, len(cfg.Markets))
	for _, m := range cfg.Markets {
		_, byPool := excluded[m.PoolID]
		_, byToken := excluded[m.BaseToken]
		if !byPool && !byToken {
			included = append(included, m)
		}
	}
	cat := catalogue.NewStaticCatalogue(included)

	var client *analytics.AnalyticsClient
	if !cfg.SkipAnalytics {
		backend := analytics.NewHTTPBackend(cfg.AnalyticsBaseURL, cfg.AnalyticsAPIKey)
		client = analytics.NewAnalyticsClient(backend, analytics.WithLogger(log.New(os.Stdout, "[analytics] ", log.LstdFlags)))
	}

	liveHub := live.NewHub()
	liveStop := make(chan struct{})
	go liveHub.Run(liveStop)

	tenMinute := refresh.NewTenMinuteRefresher(refresh.TenMinuteRefresherOptions{
		Client:          client,
		Store:           st.bucket,
		QueryID:         cfg.AnalyticsSwapsQueryID,
		ExcludedMarkets: cfg.ExcludedMarkets,
		Notify:          liveHub.Notify,
		Logger:          log.New(os.Stdout, "[refresh:10m] ", log.LstdFlags),
	})
	hourly := refresh.NewHourlyAggregator(refresh.HourlyAggregatorOptions{
		Store:  st.bucket,
		Logger: log.New(os.Stdout, "[refresh:1h] ", log.LstdFlags),
	})
	daily := refresh.NewDailyAggregator(refresh.DailyAggregatorOptions{
		Store:  st.bucket,
		Logger: log.New(os.Stdout, "[refresh:1d] ", log.LstdFlags),
	})
	supplementary := refresh.NewSupplementaryFetcher(refresh.SupplementaryFetcherOptions{
		Client:           client,
		Store:            st.supplementary,
		BuySellQueryID:   cfg.AnalyticsBuySellQueryID,
		MeteoraQueryID:   cfg.AnalyticsMeteoraQueryID,
		GenesisDate:      cfg.GenesisDate,
		OwnerToBaseToken: cfg.OwnerToBaseToken,
		Logger:           log.New(os.Stdout, "[refresh:supplementary] ", log.LstdFlags),
	})

	if !cfg.SkipAnalytics {
		if err := tenMinute.Initialize(ctx); err != nil {
			logger.Printf("10m grid bootstrap: %v", err)
		}
		if err := hourly.FullRefresh(ctx); err != nil {
			logger.Printf("hourly grid bootstrap: %v", err)
		}
	}

	snaps := health.NewSnapshotter()
	metricsRead := metricsapi.NewMetricsReadAPI(metricsapi.MetricsReadAPIOptions{
		Store:  st.bucket,
		Logger: log.New(os.Stdout, "[metricsapi] ", log.LstdFlags),
	})

	markets, err := cat.Markets(ctx)
	if err != nil {
		logger.Fatalf("load market catalogue: %v", err)
	}
	tokens := make([]string, 0, len(markets))
	for _, m := range markets {
		tokens = append(tokens, m.BaseToken)
	}

	refreshTrigger := httpapi.RefreshTrigger(func(ctx context.Context) error {
		if err := supplementary.RunBuySell(ctx, tokens); err != nil {
			return err
		}
		return supplementary.RunMeteora(ctx, ownersOf(cfg.OwnerToBaseToken))
	})

	server := httpapi.NewServer(
		metricsRead,
		st.bucket,
		st.supplementary,
		cat,
		snaps,
		observability.Handler(),
		refreshTrigger,
		log.New(os.Stdout, "[httpapi] ", log.LstdFlags),
	)
	server.LiveHandler = http.HandlerFunc(liveHub.Handler)
	router := httpapi.NewRouter(server)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var handles []*scheduler.Handle
	if !cfg.SkipAnalytics {
		handles = append(handles,
			scheduler.Start(scheduler.Config{
				Name:            "refresh_10m",
				Discipline:      scheduler.WallClockBoundary,
				BoundaryMinutes: 10,
				BufferSeconds:   5,
				TaskTimeout:     cfg.FetchTimeout,
				Task: func(ctx context.Context) error {
					err := tenMinute.Refresh(ctx)
					observability.RecordSchedulerRun("refresh_10m", err)
					return err
				},
			}),
			scheduler.Start(scheduler.Config{
				Name:            "refresh_open_hour",
				Discipline:      scheduler.WallClockBoundary,
				BoundaryMinutes: 10,
				BufferSeconds:   15,
				TaskTimeout:     cfg.FetchTimeout,
				Task: func(ctx context.Context) error {
					err := hourly.RefreshOpenHour(ctx)
					observability.RecordSchedulerRun("refresh_open_hour", err)
					return err
				},
			}),
			scheduler.Start(scheduler.Config{
				Name:            "seal_hour",
				Discipline:      scheduler.WallClockBoundary,
				BoundaryMinutes: 60,
				BufferSeconds:   60,
				TaskTimeout:     cfg.FetchTimeout,
				Task: func(ctx context.Context) error {
					err := hourly.SealClosedHour(ctx)
					observability.RecordSchedulerRun("seal_hour", err)
					return err
				},
			}),
			scheduler.Start(scheduler.Config{
				Name:        "seal_day",
				Discipline:  scheduler.DailyUTC,
				HourUTC:     0,
				MinuteUTC:   5,
				TaskTimeout: cfg.FetchTimeout,
				Task: func(ctx context.Context) error {
					err := daily.Run(ctx)
					observability.RecordSchedulerRun("seal_day", err)
					return err
				},
			}),
			scheduler.Start(scheduler.Config{
				Name:        "supplementary",
				Discipline:  scheduler.DailyUTC,
				HourUTC:     0,
				MinuteUTC:   15,
				TaskTimeout: cfg.FetchTimeout,
				Task: func(ctx context.Context) error {
					if err := supplementary.RunBuySell(ctx, tokens); err != nil {
						observability.RecordSchedulerRun("supplementary_buy_sell", err)
						return err
					}
					observability.RecordSchedulerRun("supplementary_buy_sell", nil)

					err := supplementary.RunMeteora(ctx, ownersOf(cfg.OwnerToBaseToken))
					observability.RecordSchedulerRun("supplementary_meteora", err)
					return err
				},
			}),
		)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("received signal %v, shutting down", sig)
	case err := <-errCh:
		logger.Printf("server error: %v", err)
	}

	cancel()
	close(liveStop)
	for _, h := range handles {
		h.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		httpSrv.Shutdown(shutdownCtx)
		close(done)
	}()

	select {
	case sig := <-sigCh:
		logger.Printf("received second signal %v, forcing immediate shutdown", sig)
		os.Exit(1)
	case <-shutdownCtx.Done():
		logger.Println("graceful shutdown timed out after 30s, forcing exit")
		os.Exit(1)
	case <-done:
	}

	logger.Println("shutdown complete")
}

// createStores builds the bucket and supplementary stores. In memory mode, or
// when a durable connection fails at startup, it falls back to the in-memory
// stores and reports degraded=true so the caller can flag it.
func createStores(ctx context.Context, cfg config.Config, logger *log.Logger) (*stores, func(), bool, error) {
	if cfg.UseMemory {
		return &stores{
			bucket:        memory.NewBucketStore(),
			supplementary: memory.NewSupplementaryStore(),
		}, func() {}, true, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("connect to postgres failed (%v), falling back to in-memory storage", err)
		return &stores{
			bucket:        memory.NewBucketStore(),
			supplementary: memory.NewSupplementaryStore(),
		}, func() {}, true, nil
	}

	chConn, err := chstore.NewConn(ctx, cfg.ClickHouseURL)
	if err != nil {
		pool.Close()
		logger.Printf("connect to clickhouse failed (%v), falling back to in-memory storage", err)
		return &stores{
			bucket:        memory.NewBucketStore(),
			supplementary: memory.NewSupplementaryStore(),
		}, func() {}, true, nil
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return &stores{
		bucket:        pgstore.NewBucketStore(pool),
		supplementary: chstore.NewSupplementaryStore(chConn),
	}, cleanup, false, nil
}

func ownersOf(ownerToBaseToken map[string]string) []string {
	owners := make([]string, 0, len(ownerToBaseToken))
	for owner := range ownerToBaseToken {
		owners = append(owners, owner)
	}
	return owners
}
