package refresh

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"dexgrid/internal/domain"
	"dexgrid/internal/observability"
	"dexgrid/internal/storage"
)

// DailyAggregator mirrors HourlyAggregator one level up: it sources rows from
// the hourly grid into the daily grid, scheduled once at 00:05 UTC.
type DailyAggregator struct {
	store  storage.BucketStore
	logger *log.Logger

	mu      sync.Mutex
	running bool
}

// DailyAggregatorOptions configures a DailyAggregator.
type DailyAggregatorOptions struct {
	Store  storage.BucketStore
	Logger *log.Logger
}

// NewDailyAggregator builds a DailyAggregator from opts.
func NewDailyAggregator(opts DailyAggregatorOptions) *DailyAggregator {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[refresh:1d] ", log.LstdFlags)
	}
	return &DailyAggregator{store: opts.Store, logger: logger}
}

// Run seals the day that just closed (yesterday in UTC) into the daily grid.
func (a *DailyAggregator) Run(ctx context.Context) error {
	return a.singleFlight(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()
		yesterday := domain.AlignBucket(domain.GridDaily, now).Add(-24 * time.Hour)

		if _, err := a.store.AggregateHourlyToDaily(ctx, yesterday); err != nil {
			return fmt.Errorf("daily aggregation: %w", err)
		}
		return a.store.MarkComplete(ctx, domain.GridDaily, yesterday.Add(24*time.Hour))
	})
}

// FullRefresh re-derives the daily grid for every day the hourly grid can
// still describe. Used on startup and on a force-refresh request.
func (a *DailyAggregator) FullRefresh(ctx context.Context) error {
	return a.singleFlight(ctx, func(ctx context.Context) error {
		hourly, err := a.store.Range(ctx, domain.GridHourly, time.Time{}, time.Time{}, nil)
		if err != nil {
			return fmt.Errorf("full daily aggregation: %w", err)
		}
		seen := make(map[int64]struct{})
		for _, row := range hourly {
			day := domain.AlignBucket(domain.GridDaily, row.BucketStart)
			if _, ok := seen[day.Unix()]; ok {
				continue
			}
			seen[day.Unix()] = struct{}{}
			if _, err := a.store.AggregateHourlyToDaily(ctx, day); err != nil {
				return fmt.Errorf("full daily aggregation: %w", err)
			}
		}

		today := domain.AlignBucket(domain.GridDaily, time.Now().UTC())
		return a.store.MarkComplete(ctx, domain.GridDaily, today)
	})
}

func (a *DailyAggregator) singleFlight(ctx context.Context, fn func(context.Context) error) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		a.logger.Printf("aggregation already in progress, skipping")
		observability.RecordRefreshSkipped("1d")
		return nil
	}
	a.running = true
	a.mu.Unlock()

	start := time.Now()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	err := fn(ctx)
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.RecordRefreshRun("1d", status, time.Since(start).Seconds())
	return err
}
