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

// HourlyAggregator keeps the hourly grid consistent with the 10-minute grid.
// It runs on two cadences: every 10-minute boundary it re-aggregates the
// currently open hour as incomplete, and at :01 past each hour it seals the
// hour that just closed.
type HourlyAggregator struct {
	store  storage.BucketStore
	logger *log.Logger

	mu      sync.Mutex
	running bool
}

// HourlyAggregatorOptions configures a HourlyAggregator.
type HourlyAggregatorOptions struct {
	Store  storage.BucketStore
	Logger *log.Logger
}

// NewHourlyAggregator builds a HourlyAggregator from opts.
func NewHourlyAggregator(opts HourlyAggregatorOptions) *HourlyAggregator {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[refresh:1h] ", log.LstdFlags)
	}
	return &HourlyAggregator{store: opts.Store, logger: logger}
}

// RefreshOpenHour re-aggregates the currently open hour, leaving it incomplete.
func (a *HourlyAggregator) RefreshOpenHour(ctx context.Context) error {
	return a.singleFlight(ctx, func(ctx context.Context) error {
		openHour := domain.AlignBucket(domain.GridHourly, time.Now().UTC())
		_, err := a.store.Aggregate10MinToHourly(ctx, "", openHour)
		return err
	})
}

// SealClosedHour re-aggregates the hour that just closed and marks it complete.
func (a *HourlyAggregator) SealClosedHour(ctx context.Context) error {
	return a.singleFlight(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()
		closedHour := domain.AlignBucket(domain.GridHourly, now).Add(-time.Hour)

		if _, err := a.store.Aggregate10MinToHourly(ctx, "", closedHour); err != nil {
			return err
		}
		return a.store.MarkComplete(ctx, domain.GridHourly, closedHour.Add(time.Hour))
	})
}

// FullRefresh aggregates every currently incomplete hour in one scan, then
// seals everything older than the current open hour. Used on startup and on
// a force-refresh request.
func (a *HourlyAggregator) FullRefresh(ctx context.Context) error {
	return a.singleFlight(ctx, func(ctx context.Context) error {
		if _, err := a.store.Aggregate10MinToHourly(ctx, "", time.Time{}); err != nil {
			return fmt.Errorf("full hourly aggregation: %w", err)
		}

		openHour := domain.AlignBucket(domain.GridHourly, time.Now().UTC())
		return a.store.MarkComplete(ctx, domain.GridHourly, openHour)
	})
}

func (a *HourlyAggregator) singleFlight(ctx context.Context, fn func(context.Context) error) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		a.logger.Printf("aggregation already in progress, skipping")
		observability.RecordRefreshSkipped("1h")
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
	observability.RecordRefreshRun("1h", status, time.Since(start).Seconds())
	return err
}
