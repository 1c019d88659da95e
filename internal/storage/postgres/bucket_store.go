package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dexgrid/internal/domain"
	"dexgrid/internal/observability"
	"dexgrid/internal/storage"
)

// upsertBatchSize bounds how many rows go into a single transaction.
const upsertBatchSize = 500

// BucketStore implements storage.BucketStore using PostgreSQL.
type BucketStore struct {
	pool *Pool
}

// NewBucketStore creates a new BucketStore.
func NewBucketStore(pool *Pool) *BucketStore {
	return &BucketStore{pool: pool}
}

var _ storage.BucketStore = (*BucketStore)(nil)

func tableName(grid domain.Grid) (string, error) {
	switch grid {
	case domain.GridTenMinute:
		return "buckets_10m", nil
	case domain.GridHourly:
		return "buckets_1h", nil
	case domain.GridDaily:
		return "buckets_1d", nil
	default:
		return "", fmt.Errorf("unknown grid %q", grid)
	}
}

// Upsert batches rows in transactions of upsertBatchSize. On conflict it
// overwrites the numeric fields, bumps updated_at, and ORs markComplete into
// is_complete — never demoting a row that is already complete.
func (s *BucketStore) Upsert(ctx context.Context, grid domain.Grid, rows []domain.BucketRecord, markComplete bool) (int, error) {
	start := time.Now()
	n, err := s.upsert(ctx, grid, rows, markComplete)
	observability.RecordStorageQuery("postgres", "upsert", time.Since(start).Seconds(), err)
	return n, err
}

func (s *BucketStore) upsert(ctx context.Context, grid domain.Grid, rows []domain.BucketRecord, markComplete bool) (int, error) {
	table, err := tableName(grid)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			token, bucket_start, base_volume, target_volume, high, low, trade_count,
			buy_volume, sell_volume, average_price, usdc_fees, token_fees, sell_volume_usd,
			is_complete, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
		ON CONFLICT (token, bucket_start) DO UPDATE SET
			base_volume     = EXCLUDED.base_volume,
			target_volume   = EXCLUDED.target_volume,
			high            = EXCLUDED.high,
			low             = EXCLUDED.low,
			trade_count     = EXCLUDED.trade_count,
			buy_volume      = EXCLUDED.buy_volume,
			sell_volume     = EXCLUDED.sell_volume,
			average_price   = EXCLUDED.average_price,
			usdc_fees       = EXCLUDED.usdc_fees,
			token_fees      = EXCLUDED.token_fees,
			sell_volume_usd = EXCLUDED.sell_volume_usd,
			is_complete     = %s.is_complete OR EXCLUDED.is_complete,
			updated_at      = now()
	`, table, table)

	total := 0
	for start := 0; start < len(rows); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		n, err := s.upsertChunk(ctx, query, chunk, markComplete)
		if err != nil {
			return total, err
		}
		total += n
	}

	return total, nil
}

func (s *BucketStore) upsertChunk(ctx context.Context, query string, rows []domain.BucketRecord, markComplete bool) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range rows {
		isComplete := r.IsComplete || markComplete
		_, err := tx.Exec(ctx, query,
			r.Token, r.BucketStart,
			r.BaseVolume, r.TargetVolume, r.High, r.Low, r.TradeCount,
			r.BuyVolume, r.SellVolume, r.AveragePrice, r.USDCFees, r.TokenFees, r.SellVolumeUSD,
			isComplete,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert bucket row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return len(rows), nil
}

// MarkComplete sets is_complete = true for every row older than beforeBucket
// that is still incomplete.
func (s *BucketStore) MarkComplete(ctx context.Context, grid domain.Grid, beforeBucket time.Time) error {
	start := time.Now()
	err := s.markComplete(ctx, grid, beforeBucket)
	observability.RecordStorageQuery("postgres", "mark_complete", time.Since(start).Seconds(), err)
	return err
}

func (s *BucketStore) markComplete(ctx context.Context, grid domain.Grid, beforeBucket time.Time) error {
	table, err := tableName(grid)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET is_complete = true, updated_at = now() WHERE bucket_start < $1 AND is_complete = false`, table)
	if _, err := s.pool.Exec(ctx, query, beforeBucket); err != nil {
		return fmt.Errorf("mark complete: %w", err)
	}
	return nil
}

// PruneBefore deletes rows older than cutoff, returning the count deleted.
func (s *BucketStore) PruneBefore(ctx context.Context, grid domain.Grid, cutoff time.Time) (int, error) {
	start := time.Now()
	n, err := s.pruneBefore(ctx, grid, cutoff)
	observability.RecordStorageQuery("postgres", "prune_before", time.Since(start).Seconds(), err)
	return n, err
}

func (s *BucketStore) pruneBefore(ctx context.Context, grid domain.Grid, cutoff time.Time) (int, error) {
	table, err := tableName(grid)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE bucket_start < $1`, table), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune before: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *BucketStore) latestBucket(ctx context.Context, grid domain.Grid, completeOnly bool) (t time.Time, ok bool, err error) {
	op := "latest_bucket"
	if completeOnly {
		op = "latest_complete_bucket"
	}
	start := time.Now()
	defer func() {
		observability.RecordStorageQuery("postgres", op, time.Since(start).Seconds(), err)
	}()

	table, err := tableName(grid)
	if err != nil {
		return time.Time{}, false, err
	}
	query := fmt.Sprintf(`SELECT MAX(bucket_start) FROM %s`, table)
	if completeOnly {
		query = fmt.Sprintf(`SELECT MAX(bucket_start) FROM %s WHERE is_complete = true`, table)
	}

	var maxBucket *time.Time
	if err := s.pool.QueryRow(ctx, query).Scan(&maxBucket); err != nil {
		return time.Time{}, false, fmt.Errorf("latest bucket: %w", err)
	}
	if maxBucket == nil {
		return time.Time{}, false, nil
	}
	return *maxBucket, true, nil
}

// LatestBucket returns the newest bucket_start in the grid.
func (s *BucketStore) LatestBucket(ctx context.Context, grid domain.Grid) (time.Time, bool, error) {
	return s.latestBucket(ctx, grid, false)
}

// LatestCompleteBucket returns the newest bucket_start with is_complete = true.
func (s *BucketStore) LatestCompleteBucket(ctx context.Context, grid domain.Grid) (time.Time, bool, error) {
	return s.latestBucket(ctx, grid, true)
}

// Rolling24h reduces rows with now-24h <= bucket_start <= now, grouped by token.
func (s *BucketStore) Rolling24h(ctx context.Context, grid domain.Grid, now time.Time, tokens []string) (result map[string]domain.RollingAggregate, err error) {
	start := time.Now()
	defer func() {
		observability.RecordStorageQuery("postgres", "rolling_24h", time.Since(start).Seconds(), err)
	}()

	table, err := tableName(grid)
	if err != nil {
		return nil, err
	}
	since := now.Add(-24 * time.Hour)

	query := fmt.Sprintf(`
		SELECT token,
			COALESCE(SUM(base_volume), 0),
			COALESCE(SUM(target_volume), 0),
			COALESCE(MAX(high), 0),
			COALESCE(MIN(NULLIF(low, 0)), 0),
			COALESCE(SUM(trade_count), 0)
		FROM %s
		WHERE bucket_start >= $1 AND bucket_start <= $2
		%s
		GROUP BY token
	`, table, tokenFilterClause(tokens, 3))

	args := []any{since, now}
	if len(tokens) > 0 {
		args = append(args, tokens)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rolling 24h: %w", err)
	}
	defer rows.Close()

	result = make(map[string]domain.RollingAggregate)
	for rows.Next() {
		var token string
		var agg domain.RollingAggregate
		if err := rows.Scan(&token, &agg.SumBase, &agg.SumTarget, &agg.MaxHigh, &agg.MinPositive, &agg.SumTradeCount); err != nil {
			return nil, fmt.Errorf("scan rolling aggregate: %w", err)
		}
		result[token] = agg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rolling aggregate rows: %w", err)
	}
	return result, nil
}

// tokenFilterClause renders an `AND token = ANY($n)` fragment when tokens is
// non-empty, or an empty string when it isn't (meaning "all tokens").
func tokenFilterClause(tokens []string, argPos int) string {
	if len(tokens) == 0 {
		return ""
	}
	return fmt.Sprintf("AND token = ANY($%d)", argPos)
}

// Range returns rows ordered by (token, bucket_start ASC). A zero `to` means open-ended.
func (s *BucketStore) Range(ctx context.Context, grid domain.Grid, from, to time.Time, tokens []string) ([]domain.BucketRecord, error) {
	start := time.Now()
	rows, err := s.rangeRows(ctx, grid, from, to, tokens)
	observability.RecordStorageQuery("postgres", "range", time.Since(start).Seconds(), err)
	return rows, err
}

func (s *BucketStore) rangeRows(ctx context.Context, grid domain.Grid, from, to time.Time, tokens []string) ([]domain.BucketRecord, error) {
	table, err := tableName(grid)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT token, bucket_start, base_volume, target_volume, high, low, trade_count,
			buy_volume, sell_volume, average_price, usdc_fees, token_fees, sell_volume_usd,
			is_complete, updated_at
		FROM %s
		WHERE bucket_start >= $1 AND ($2::timestamptz IS NULL OR bucket_start < $2)
		%s
		ORDER BY token ASC, bucket_start ASC
	`, table, tokenFilterClause(tokens, 3))

	args := []any{from, nullableTime(to)}
	if len(tokens) > 0 {
		args = append(args, tokens)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("range: %w", err)
	}
	defer rows.Close()

	return scanBucketRows(rows)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func scanBucketRows(rows pgx.Rows) ([]domain.BucketRecord, error) {
	var out []domain.BucketRecord
	for rows.Next() {
		var r domain.BucketRecord
		if err := rows.Scan(
			&r.Token, &r.BucketStart, &r.BaseVolume, &r.TargetVolume, &r.High, &r.Low, &r.TradeCount,
			&r.BuyVolume, &r.SellVolume, &r.AveragePrice, &r.USDCFees, &r.TokenFees, &r.SellVolumeUSD,
			&r.IsComplete, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan bucket row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bucket rows: %w", err)
	}
	return out, nil
}

// DailyAggregates computes per-token summaries over the daily grid.
func (s *BucketStore) DailyAggregates(ctx context.Context, tokens []string) (map[string]domain.DailyAggregate, error) {
	start := time.Now()
	result, err := s.dailyAggregates(ctx, tokens)
	observability.RecordStorageQuery("postgres", "daily_aggregates", time.Since(start).Seconds(), err)
	return result, err
}

func (s *BucketStore) dailyAggregates(ctx context.Context, tokens []string) (map[string]domain.DailyAggregate, error) {
	query := fmt.Sprintf(`
		SELECT token, MIN(bucket_start), MAX(bucket_start),
			COALESCE(SUM(base_volume), 0), COALESCE(SUM(target_volume), 0),
			COALESCE(MAX(high), 0), COALESCE(MIN(NULLIF(low, 0)), 0), COUNT(*)
		FROM buckets_1d
		WHERE 1=1 %s
		GROUP BY token
	`, tokenFilterClause(tokens, 1))

	var args []any
	if len(tokens) > 0 {
		args = append(args, tokens)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("daily aggregates: %w", err)
	}
	defer rows.Close()

	result := make(map[string]domain.DailyAggregate)
	for rows.Next() {
		var d domain.DailyAggregate
		if err := rows.Scan(&d.Token, &d.FirstDate, &d.LastDate, &d.TotalBase, &d.TotalTarget, &d.AllTimeHigh, &d.AllTimeLowPos, &d.TradingDays); err != nil {
			return nil, fmt.Errorf("scan daily aggregate: %w", err)
		}
		result[d.Token] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily aggregate rows: %w", err)
	}
	return result, nil
}

// Aggregate10MinToHourly rolls 10-minute rows up into the hourly grid for a
// single token and hour. An empty token means every token observed in the
// 10-minute grid. If hour is the zero value, every hour with 10-minute
// coverage observed in the source grid is rolled up.
func (s *BucketStore) Aggregate10MinToHourly(ctx context.Context, token string, hour time.Time) (int, error) {
	start := time.Now()
	var n int
	var err error
	switch {
	case token == "" && hour.IsZero():
		n, err = s.aggregateAllTokensAllHours(ctx)
	case token == "":
		n, err = s.aggregateAllTokensOneHour(ctx, hour)
	case hour.IsZero():
		n, err = s.aggregateAllHours(ctx, token)
	default:
		n, err = s.aggregateOneHour(ctx, token, hour)
	}
	observability.RecordStorageQuery("postgres", "aggregate_10m_to_hourly", time.Since(start).Seconds(), err)
	return n, err
}

func (s *BucketStore) aggregateAllTokensOneHour(ctx context.Context, hour time.Time) (int, error) {
	hourStart := domain.AlignBucket(domain.GridHourly, hour)
	hourEnd := hourStart.Add(time.Hour)

	rows, err := s.pool.Query(ctx, `
		SELECT token, COALESCE(SUM(base_volume), 0), COALESCE(SUM(target_volume), 0),
			COALESCE(MAX(high), 0), COALESCE(MIN(NULLIF(low, 0)), 0), COALESCE(SUM(trade_count), 0),
			BOOL_AND(is_complete)
		FROM buckets_10m
		WHERE bucket_start >= $1 AND bucket_start < $2
		GROUP BY token
	`, hourStart, hourEnd)
	if err != nil {
		return 0, fmt.Errorf("aggregate all tokens one hour: %w", err)
	}
	defer rows.Close()

	var batch []domain.BucketRecord
	for rows.Next() {
		var token string
		var agg domain.RollingAggregate
		var complete bool
		if err := rows.Scan(&token, &agg.SumBase, &agg.SumTarget, &agg.MaxHigh, &agg.MinPositive, &agg.SumTradeCount, &complete); err != nil {
			return 0, fmt.Errorf("scan hourly rollup row: %w", err)
		}
		batch = append(batch, domain.BucketRecord{
			Token:        token,
			BucketStart:  hourStart,
			BaseVolume:   agg.SumBase,
			TargetVolume: agg.SumTarget,
			High:         agg.MaxHigh,
			Low:          agg.MinPositive,
			TradeCount:   agg.SumTradeCount,
			IsComplete:   complete,
		})
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate hourly rollup rows: %w", err)
	}

	return s.Upsert(ctx, domain.GridHourly, batch, false)
}

func (s *BucketStore) aggregateAllTokensAllHours(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT date_trunc('hour', bucket_start)
		FROM buckets_10m
		ORDER BY 1
	`)
	if err != nil {
		return 0, fmt.Errorf("list candidate hours: %w", err)
	}
	var hours []time.Time
	for rows.Next() {
		var h time.Time
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan candidate hour: %w", err)
		}
		hours = append(hours, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate candidate hours: %w", err)
	}

	total := 0
	for _, h := range hours {
		n, err := s.aggregateAllTokensOneHour(ctx, h)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *BucketStore) aggregateOneHour(ctx context.Context, token string, hour time.Time) (int, error) {
	hourStart := domain.AlignBucket(domain.GridHourly, hour)
	hourEnd := hourStart.Add(time.Hour)

	var agg domain.RollingAggregate
	var complete bool
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(base_volume), 0), COALESCE(SUM(target_volume), 0),
			COALESCE(MAX(high), 0), COALESCE(MIN(NULLIF(low, 0)), 0), COALESCE(SUM(trade_count), 0),
			BOOL_AND(is_complete)
		FROM buckets_10m
		WHERE token = $1 AND bucket_start >= $2 AND bucket_start < $3
	`, token, hourStart, hourEnd)
	if err := row.Scan(&agg.SumBase, &agg.SumTarget, &agg.MaxHigh, &agg.MinPositive, &agg.SumTradeCount, &complete); err != nil {
		return 0, fmt.Errorf("aggregate one hour: %w", err)
	}

	record := domain.BucketRecord{
		Token:        token,
		BucketStart:  hourStart,
		BaseVolume:   agg.SumBase,
		TargetVolume: agg.SumTarget,
		High:         agg.MaxHigh,
		Low:          agg.MinPositive,
		TradeCount:   agg.SumTradeCount,
		IsComplete:   complete,
	}
	return s.Upsert(ctx, domain.GridHourly, []domain.BucketRecord{record}, false)
}

func (s *BucketStore) aggregateAllHours(ctx context.Context, token string) (int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT date_trunc('hour', bucket_start)
		FROM buckets_10m
		WHERE token = $1
		ORDER BY 1
	`, token)
	if err != nil {
		return 0, fmt.Errorf("list candidate hours: %w", err)
	}
	var hours []time.Time
	for rows.Next() {
		var h time.Time
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan candidate hour: %w", err)
		}
		hours = append(hours, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate candidate hours: %w", err)
	}

	total := 0
	for _, h := range hours {
		n, err := s.aggregateOneHour(ctx, token, h)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// AggregateHourlyToDaily rolls hourly rows up into the daily grid for every
// token observed on that UTC date.
func (s *BucketStore) AggregateHourlyToDaily(ctx context.Context, date time.Time) (int, error) {
	start := time.Now()
	n, err := s.aggregateHourlyToDaily(ctx, date)
	observability.RecordStorageQuery("postgres", "aggregate_hourly_to_daily", time.Since(start).Seconds(), err)
	return n, err
}

func (s *BucketStore) aggregateHourlyToDaily(ctx context.Context, date time.Time) (int, error) {
	dayStart := domain.AlignBucket(domain.GridDaily, date)
	dayEnd := dayStart.Add(24 * time.Hour)

	rows, err := s.pool.Query(ctx, `
		SELECT token, COALESCE(SUM(base_volume), 0), COALESCE(SUM(target_volume), 0),
			COALESCE(MAX(high), 0), COALESCE(MIN(NULLIF(low, 0)), 0), COALESCE(SUM(trade_count), 0),
			BOOL_AND(is_complete)
		FROM buckets_1h
		WHERE bucket_start >= $1 AND bucket_start < $2
		GROUP BY token
	`, dayStart, dayEnd)
	if err != nil {
		return 0, fmt.Errorf("aggregate hourly to daily: %w", err)
	}
	defer rows.Close()

	var batch []domain.BucketRecord
	for rows.Next() {
		var token string
		var agg domain.RollingAggregate
		var complete bool
		if err := rows.Scan(&token, &agg.SumBase, &agg.SumTarget, &agg.MaxHigh, &agg.MinPositive, &agg.SumTradeCount, &complete); err != nil {
			return 0, fmt.Errorf("scan daily rollup row: %w", err)
		}
		batch = append(batch, domain.BucketRecord{
			Token:        token,
			BucketStart:  dayStart,
			BaseVolume:   agg.SumBase,
			TargetVolume: agg.SumTarget,
			High:         agg.MaxHigh,
			Low:          agg.MinPositive,
			TradeCount:   agg.SumTradeCount,
			IsComplete:   complete,
		})
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate daily rollup rows: %w", err)
	}

	return s.Upsert(ctx, domain.GridDaily, batch, false)
}

// MetadataGet reads a sync-cursor value.
func (s *BucketStore) MetadataGet(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	value, ok, err := s.metadataGet(ctx, key)
	observability.RecordStorageQuery("postgres", "metadata_get", time.Since(start).Seconds(), err)
	return value, ok, err
}

func (s *BucketStore) metadataGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM sync_metadata WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if isNotFoundError(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("metadata get: %w", err)
	}
	return value, true, nil
}

// MetadataSet writes a sync-cursor value, overwriting any prior one.
func (s *BucketStore) MetadataSet(ctx context.Context, key, value string) error {
	start := time.Now()
	err := s.metadataSet(ctx, key, value)
	observability.RecordStorageQuery("postgres", "metadata_set", time.Since(start).Seconds(), err)
	return err
}

func (s *BucketStore) metadataSet(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_metadata (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("metadata set: %w", err)
	}
	return nil
}
