// Package backfill drives TenMinuteRefresher.BackfillRange over a historical
// window in seven-day chunks, stopping cleanly on quota exhaustion so the
// next run can resume from the first unpopulated day.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"dexgrid/internal/domain"
	"dexgrid/internal/refresh"
)

// ChunkSize is the width of one backfill pass, per the rate-limit handling
// the driving scripts use.
const ChunkSize = 7 * 24 * time.Hour

// InterChunkDelay is the pause between chunks, giving the upstream quota
// window room to recover between requests.
const InterChunkDelay = 3 * time.Second

// interChunkDelay is a package variable so tests can shrink the pause
// without changing the documented production constant.
var interChunkDelay = InterChunkDelay

// Result reports how far a Run got.
type Result struct {
	ChunksProcessed int
	ChunksTotal     int
	QuotaExceeded   bool
}

// Run issues BackfillRange over [from, to) in ChunkSize chunks, sleeping
// InterChunkDelay between them. It stops at the first chunk that returns
// domain.AnalyticsQuota and reports how far it got; the caller decides the
// exit code and recovery messaging.
func Run(ctx context.Context, refresher *refresh.TenMinuteRefresher, from, to time.Time, logger *log.Logger) (Result, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[backfill] ", log.LstdFlags)
	}

	chunks := chunkRanges(from, to)
	result := Result{ChunksTotal: len(chunks)}

	for i, c := range chunks {
		logger.Printf("chunk %d/%d: %s to %s", i+1, len(chunks), c.from.Format(time.RFC3339), c.to.Format(time.RFC3339))

		if err := refresher.BackfillRange(ctx, c.from, c.to); err != nil {
			var ae *domain.AnalyticsError
			if errors.As(err, &ae) && ae.Kind == domain.AnalyticsQuota {
				logger.Printf("quota exceeded at chunk %d, stopping pass", i+1)
				result.QuotaExceeded = true
				return result, nil
			}
			return result, fmt.Errorf("chunk %d: %w", i+1, err)
		}

		result.ChunksProcessed++

		if i < len(chunks)-1 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(interChunkDelay):
			}
		}
	}

	return result, nil
}

type chunkRange struct {
	from, to time.Time
}

func chunkRanges(from, to time.Time) []chunkRange {
	var out []chunkRange
	for start := from; start.Before(to); start = start.Add(ChunkSize) {
		end := start.Add(ChunkSize)
		if end.After(to) {
			end = to
		}
		out = append(out, chunkRange{from: start, to: end})
	}
	return out
}

// RecoveryMenu is the operator-facing message printed on quota exhaustion.
const RecoveryMenu = `backfill stopped: upstream quota exceeded

options:
  1. wait for the quota window to reset and re-run this driver
  2. upgrade the analytics plan for a higher quota
  3. switch to DB-only mode (skip analytics, serve only what's already stored)
  4. resume later — the next run starts from the first unpopulated day
`
