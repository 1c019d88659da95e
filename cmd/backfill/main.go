// Command backfill drives TenMinuteRefresher.BackfillRange over the recent
// window controlled by RECENT_DAYS, in seven-day chunks, printing an operator
// recovery menu and exiting non-zero on quota exhaustion.
package main

import (
	"context"
	"log"
	"os"
	"sync/atomic"
	"time"

	"dexgrid/internal/analytics"
	"dexgrid/internal/backfill"
	"dexgrid/internal/config"
	"dexgrid/internal/domain"
	"dexgrid/internal/refresh"
	"dexgrid/internal/storage"
	"dexgrid/internal/storage/memory"
	pgstore "dexgrid/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.SkipAnalytics {
		log.Fatal("SKIP_ANALYTICS is set; nothing to backfill")
	}

	logger := log.New(os.Stdout, "[backfill] ", log.LstdFlags)
	ctx := context.Background()

	var bucketStore storage.BucketStore
	if cfg.UseMemory {
		bucketStore = memory.NewBucketStore()
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("connect to postgres: %v", err)
		}
		defer pool.Close()
		bucketStore = pgstore.NewBucketStore(pool)
	}

	backend := analytics.NewHTTPBackend(cfg.AnalyticsBaseURL, cfg.AnalyticsAPIKey)
	client := analytics.NewAnalyticsClient(backend, analytics.WithLogger(log.New(os.Stdout, "[analytics] ", log.LstdFlags)))

	var rowsUpdated int64
	refresher := refresh.NewTenMinuteRefresher(refresh.TenMinuteRefresherOptions{
		Client:          client,
		Store:           bucketStore,
		QueryID:         cfg.AnalyticsSwapsQueryID,
		ExcludedMarkets: cfg.ExcludedMarkets,
		Notify: func(rows []domain.BucketRecord) {
			atomic.AddInt64(&rowsUpdated, int64(len(rows)))
		},
		Logger: logger,
	})

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -cfg.RecentDays)

	result, err := backfill.Run(ctx, refresher, from, now, logger)
	if err != nil {
		logger.Fatalf("backfill pass failed: %v", err)
	}

	updated := atomic.LoadInt64(&rowsUpdated)
	logger.Printf("processed=%d chunks, updated=%d", result.ChunksProcessed, updated)

	if result.QuotaExceeded {
		logger.Printf("processed=%d/%d chunks before quota exhaustion, updated=%d", result.ChunksProcessed, result.ChunksTotal, updated)
		os.Stderr.WriteString(backfill.RecoveryMenu)
		os.Exit(1)
	}
}
