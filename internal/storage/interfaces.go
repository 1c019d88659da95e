// Package storage declares the durable-state contract for the bucket grids.
// Concrete implementations live in subpackages (postgres, clickhouse, memory) —
// see internal/storage/postgres/bucket_store.go for the authoritative one.
package storage

import (
	"context"
	"time"

	"dexgrid/internal/domain"
)

// BucketStore is durable state for the three time grids and the metadata table.
// Implementations must satisfy the grid invariants: unique (token, bucketStart)
// per grid, completeness flags that only ever advance, and monotonic upserts.
type BucketStore interface {
	// Upsert batches rows keyed by (token, bucketStart). Batch size is bounded
	// by the implementation (500 rows/transaction for the Postgres store).
	// On conflict: overwrite numeric fields, bump UpdatedAt, and OR the
	// completeness flag in with markComplete — never demote it.
	Upsert(ctx context.Context, grid domain.Grid, rows []domain.BucketRecord, markComplete bool) (int, error)

	// MarkComplete sets IsComplete = true for every row with
	// BucketStart < beforeBucket that is still incomplete.
	MarkComplete(ctx context.Context, grid domain.Grid, beforeBucket time.Time) error

	// PruneBefore deletes rows with BucketStart < cutoff, returning the count deleted.
	PruneBefore(ctx context.Context, grid domain.Grid, cutoff time.Time) (int, error)

	// LatestBucket returns the newest BucketStart in the grid, or ok=false if empty.
	LatestBucket(ctx context.Context, grid domain.Grid) (t time.Time, ok bool, err error)

	// LatestCompleteBucket returns the newest BucketStart with IsComplete=true.
	LatestCompleteBucket(ctx context.Context, grid domain.Grid) (t time.Time, ok bool, err error)

	// Rolling24h reduces rows with now-24h <= BucketStart <= now. Empty tokens means "all".
	Rolling24h(ctx context.Context, grid domain.Grid, now time.Time, tokens []string) (map[string]domain.RollingAggregate, error)

	// Range returns rows ordered by (token, bucketStart ASC). A zero `to` means "open-ended".
	Range(ctx context.Context, grid domain.Grid, from, to time.Time, tokens []string) ([]domain.BucketRecord, error)

	// DailyAggregates computes per-token summaries over the daily grid.
	DailyAggregates(ctx context.Context, tokens []string) (map[string]domain.DailyAggregate, error)

	// Aggregate10MinToHourly rolls 10m rows up into the hourly grid. An empty
	// token means every token observed in the 10-minute grid. If hour is the
	// zero Time, every hour the store can observe is rolled up.
	Aggregate10MinToHourly(ctx context.Context, token string, hour time.Time) (int, error)

	// AggregateHourlyToDaily rolls the hourly rows of the UTC day containing
	// date up into the daily grid, for every token with hourly rows that day.
	// Unlike Aggregate10MinToHourly, a zero date is not expanded to every day.
	AggregateHourlyToDaily(ctx context.Context, date time.Time) (int, error)

	MetadataGet(ctx context.Context, key string) (string, bool, error)
	MetadataSet(ctx context.Context, key, value string) error
}

// SupplementaryStore is durable state for the two daily supplementary tables
// buy/sell splits and external-pool (Meteora) volumes.
type SupplementaryStore interface {
	UpsertBuySell(ctx context.Context, rows []domain.DailyBuySellRecord) (int, error)
	UpsertMeteora(ctx context.Context, rows []domain.DailyMeteoraRecord) (int, error)

	RangeBuySell(ctx context.Context, from, to time.Time, tokens []string) ([]domain.DailyBuySellRecord, error)
	RangeMeteora(ctx context.Context, from, to time.Time, tokens []string) ([]domain.DailyMeteoraRecord, error)

	// LatestDate returns the newest date with a row for the given token, or
	// ok=false if the table is empty for that token (used to decide between a
	// genesis backfill and an incremental catch-up).
	LatestDate(ctx context.Context, token string, source SupplementarySource) (t time.Time, ok bool, err error)
}

// SupplementarySource distinguishes the two supplementary tables for LatestDate.
type SupplementarySource string

const (
	SourceBuySell SupplementarySource = "buy_sell"
	SourceMeteora SupplementarySource = "meteora"
)
