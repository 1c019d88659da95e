// Package refresh implements the four refreshers that keep the three bucket
// grids (and the two supplementary daily tables) consistent with upstream
// analytics data: TenMinuteRefresher, HourlyAggregator, DailyAggregator, and
// SupplementaryFetcher.
package refresh

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"dexgrid/internal/analytics"
	"dexgrid/internal/domain"
	"dexgrid/internal/observability"
	"dexgrid/internal/storage"
)

// backfillWindow is how far back the bootstrap backfill reaches when the
// grid is empty or stale.
const backfillWindow = 24 * time.Hour

// TenMinuteRefresher owns the authoritative 10-minute grid.
type TenMinuteRefresher struct {
	client  *analytics.AnalyticsClient
	store   storage.BucketStore
	queryID string
	exclude map[string]struct{}
	notify  func([]domain.BucketRecord)
	logger  *log.Logger

	mu         sync.Mutex
	refreshing bool
	ready      bool
}

// TenMinuteRefresherOptions configures a TenMinuteRefresher.
type TenMinuteRefresherOptions struct {
	Client          *analytics.AnalyticsClient
	Store           storage.BucketStore
	QueryID         string
	ExcludedMarkets []string

	// Notify, if set, is called with every batch of rows upserted into the
	// 10-minute grid (complete and incomplete together), for the live feed.
	Notify func([]domain.BucketRecord)

	Logger *log.Logger
}

// NewTenMinuteRefresher builds a TenMinuteRefresher from opts.
func NewTenMinuteRefresher(opts TenMinuteRefresherOptions) *TenMinuteRefresher {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[refresh:10m] ", log.LstdFlags)
	}

	exclude := make(map[string]struct{}, len(opts.ExcludedMarkets))
	for _, t := range opts.ExcludedMarkets {
		exclude[t] = struct{}{}
	}

	return &TenMinuteRefresher{
		client:  opts.Client,
		store:   opts.Store,
		queryID: opts.QueryID,
		exclude: exclude,
		notify:  opts.Notify,
		logger:  logger,
	}
}

// Ready reports whether the grid has been bootstrapped at least once with a
// non-empty store, even if the bootstrap itself partially failed.
func (r *TenMinuteRefresher) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Initialize bootstraps the 10-minute grid: if the latest bucket is absent or
// less than 24h old, backfill from max(latest, now-24h) to now in one
// analytics run; a grid whose latest bucket is older than 24h is not
// backfilled here. The service is marked ready even on partial failure as
// long as the store ends up non-empty.
func (r *TenMinuteRefresher) Initialize(ctx context.Context) error {
	now := time.Now().UTC()

	latest, ok, err := r.store.LatestBucket(ctx, domain.GridTenMinute)
	if err != nil {
		return fmt.Errorf("read latest 10m bucket: %w", err)
	}

	needsBackfill := !ok || now.Sub(latest) < backfillWindow
	if needsBackfill {
		from := now.Add(-backfillWindow)
		if ok && latest.After(from) {
			from = latest
		}

		if err := r.backfill(ctx, from, now); err != nil {
			r.logger.Printf("bootstrap backfill failed: %v", err)
		}
	}

	_, ok, err = r.store.LatestBucket(ctx, domain.GridTenMinute)
	if err != nil {
		return fmt.Errorf("read latest 10m bucket after bootstrap: %w", err)
	}

	r.mu.Lock()
	r.ready = ok
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("10m grid still empty after bootstrap")
	}
	return nil
}

// Refresh runs one 10-minute-boundary refresh cycle. It is single-flighted:
// if a previous refresh has not returned, this call is a documented no-op.
func (r *TenMinuteRefresher) Refresh(ctx context.Context) error {
	r.mu.Lock()
	if r.refreshing {
		r.mu.Unlock()
		r.logger.Printf("refresh already in progress, skipping")
		observability.RecordRefreshSkipped("10m")
		return nil
	}
	r.refreshing = true
	r.mu.Unlock()

	start := time.Now()
	defer func() {
		r.mu.Lock()
		r.refreshing = false
		r.mu.Unlock()
	}()

	now := time.Now().UTC()
	from := now.Add(-20 * time.Minute)
	currentBucketStart := domain.AlignBucket(domain.GridTenMinute, now)

	if err := r.fetchAndUpsert(ctx, from, now, currentBucketStart); err != nil {
		observability.RecordRefreshRun("10m", "error", time.Since(start).Seconds())
		return err
	}

	err := r.store.MarkComplete(ctx, domain.GridTenMinute, currentBucketStart)
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.RecordRefreshRun("10m", status, time.Since(start).Seconds())
	return err
}

// BackfillRange force-backfills [start, end) outside the normal refresh
// cadence. QuotaExceeded propagates unchanged so a driving script can stop
// the whole pass.
func (r *TenMinuteRefresher) BackfillRange(ctx context.Context, start, end time.Time) error {
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return r.backfill(ctx, start, end)
}

func (r *TenMinuteRefresher) backfill(ctx context.Context, from, to time.Time) error {
	currentBucketStart := domain.AlignBucket(domain.GridTenMinute, time.Now().UTC())
	return r.fetchAndUpsert(ctx, from, to, currentBucketStart)
}

func (r *TenMinuteRefresher) fetchAndUpsert(ctx context.Context, from, to, currentBucketStart time.Time) error {
	params := map[string]any{
		"from": from.Format(time.RFC3339),
		"to":   to.Format(time.RFC3339),
	}

	result, err := r.client.Run(ctx, r.queryID, params)
	if err != nil {
		return err
	}

	complete, incomplete, err := r.projectAndSplit(result.Rows, currentBucketStart)
	if err != nil {
		return err
	}

	if len(complete) > 0 {
		n, err := r.store.Upsert(ctx, domain.GridTenMinute, complete, true)
		if err != nil {
			return fmt.Errorf("upsert complete 10m rows: %w", err)
		}
		observability.RecordRowsUpserted("10m", n)
	}
	if len(incomplete) > 0 {
		n, err := r.store.Upsert(ctx, domain.GridTenMinute, incomplete, false)
		if err != nil {
			return fmt.Errorf("upsert incomplete 10m rows: %w", err)
		}
		observability.RecordRowsUpserted("10m", n)
	}

	if r.notify != nil && (len(complete) > 0 || len(incomplete) > 0) {
		r.notify(append(append([]domain.BucketRecord{}, complete...), incomplete...))
	}
	return nil
}

func (r *TenMinuteRefresher) projectAndSplit(rows []map[string]string, currentBucketStart time.Time) (complete, incomplete []domain.BucketRecord, err error) {
	for _, row := range rows {
		rec, perr := projectBucketRow(row)
		if perr != nil {
			r.logger.Printf("dropping malformed row: %v", perr)
			continue
		}
		if _, excluded := r.exclude[rec.Token]; excluded {
			continue
		}

		if rec.BucketStart.Before(currentBucketStart) {
			complete = append(complete, rec)
		} else {
			incomplete = append(incomplete, rec)
		}
	}

	sortByTokenThenStart(complete)
	sortByTokenThenStart(incomplete)
	return complete, incomplete, nil
}

func sortByTokenThenStart(rows []domain.BucketRecord) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Token != rows[j].Token {
			return rows[i].Token < rows[j].Token
		}
		return rows[i].BucketStart.Before(rows[j].BucketStart)
	})
}
