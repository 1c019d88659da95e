package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dexgrid/internal/domain"
	"dexgrid/internal/observability"
	"dexgrid/internal/storage"
)

// SupplementaryStore implements storage.SupplementaryStore using ClickHouse.
// Both tables are ReplacingMergeTree(updated_at): a later upsert with a newer
// updated_at silently wins at merge time, and reads use FINAL to force the
// resolution rather than waiting on background merges.
type SupplementaryStore struct {
	conn *Conn
}

// NewSupplementaryStore creates a new SupplementaryStore.
func NewSupplementaryStore(conn *Conn) *SupplementaryStore {
	return &SupplementaryStore{conn: conn}
}

var _ storage.SupplementaryStore = (*SupplementaryStore)(nil)

// UpsertBuySell inserts (or, at next merge, replaces) the buy/sell split rows.
func (s *SupplementaryStore) UpsertBuySell(ctx context.Context, rows []domain.DailyBuySellRecord) (int, error) {
	start := time.Now()
	n, err := s.upsertBuySell(ctx, rows)
	observability.RecordStorageQuery("clickhouse", "upsert_buy_sell", time.Since(start).Seconds(), err)
	return n, err
}

func (s *SupplementaryStore) upsertBuySell(ctx context.Context, rows []domain.DailyBuySellRecord) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO daily_buy_sell (token, date, buy_volume, sell_volume, is_complete, updated_at)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare buy/sell batch: %w", err)
	}

	now := time.Now().UTC()
	for _, r := range rows {
		complete := uint8(0)
		if r.IsComplete {
			complete = 1
		}
		if err := batch.Append(r.Token, r.Date, r.BuyVolume.InexactFloat64(), r.SellVolume.InexactFloat64(), complete, now); err != nil {
			return 0, fmt.Errorf("append buy/sell row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send buy/sell batch: %w", err)
	}
	return len(rows), nil
}

// UpsertMeteora inserts (or, at next merge, replaces) the external-pool volume rows.
func (s *SupplementaryStore) UpsertMeteora(ctx context.Context, rows []domain.DailyMeteoraRecord) (int, error) {
	start := time.Now()
	n, err := s.upsertMeteora(ctx, rows)
	observability.RecordStorageQuery("clickhouse", "upsert_meteora", time.Since(start).Seconds(), err)
	return n, err
}

func (s *SupplementaryStore) upsertMeteora(ctx context.Context, rows []domain.DailyMeteoraRecord) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO daily_meteora (token, date, volume, is_complete, updated_at)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare meteora batch: %w", err)
	}

	now := time.Now().UTC()
	for _, r := range rows {
		complete := uint8(0)
		if r.IsComplete {
			complete = 1
		}
		if err := batch.Append(r.Token, r.Date, r.Volume.InexactFloat64(), complete, now); err != nil {
			return 0, fmt.Errorf("append meteora row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send meteora batch: %w", err)
	}
	return len(rows), nil
}

// RangeBuySell returns rows in [from, to), FINAL-resolved, ordered by (token, date).
func (s *SupplementaryStore) RangeBuySell(ctx context.Context, from, to time.Time, tokens []string) ([]domain.DailyBuySellRecord, error) {
	start := time.Now()
	out, err := s.rangeBuySell(ctx, from, to, tokens)
	observability.RecordStorageQuery("clickhouse", "range_buy_sell", time.Since(start).Seconds(), err)
	return out, err
}

func (s *SupplementaryStore) rangeBuySell(ctx context.Context, from, to time.Time, tokens []string) ([]domain.DailyBuySellRecord, error) {
	query := `
		SELECT token, date, buy_volume, sell_volume, is_complete, updated_at
		FROM daily_buy_sell FINAL
		WHERE date >= ? AND date < ?
	` + chTokenFilter(tokens) + `
		ORDER BY token ASC, date ASC
	`
	args := []any{from, toOrFarFuture(to)}
	if len(tokens) > 0 {
		args = append(args, tokens)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("range buy/sell: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyBuySellRecord
	for rows.Next() {
		var r domain.DailyBuySellRecord
		var buyVolume, sellVolume float64
		var complete uint8
		if err := rows.Scan(&r.Token, &r.Date, &buyVolume, &sellVolume, &complete, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan buy/sell row: %w", err)
		}
		r.BuyVolume = decimal.NewFromFloat(buyVolume)
		r.SellVolume = decimal.NewFromFloat(sellVolume)
		r.IsComplete = complete != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buy/sell rows: %w", err)
	}
	return out, nil
}

// RangeMeteora returns rows in [from, to), FINAL-resolved, ordered by (token, date).
func (s *SupplementaryStore) RangeMeteora(ctx context.Context, from, to time.Time, tokens []string) ([]domain.DailyMeteoraRecord, error) {
	start := time.Now()
	out, err := s.rangeMeteora(ctx, from, to, tokens)
	observability.RecordStorageQuery("clickhouse", "range_meteora", time.Since(start).Seconds(), err)
	return out, err
}

func (s *SupplementaryStore) rangeMeteora(ctx context.Context, from, to time.Time, tokens []string) ([]domain.DailyMeteoraRecord, error) {
	query := `
		SELECT token, date, volume, is_complete, updated_at
		FROM daily_meteora FINAL
		WHERE date >= ? AND date < ?
	` + chTokenFilter(tokens) + `
		ORDER BY token ASC, date ASC
	`
	args := []any{from, toOrFarFuture(to)}
	if len(tokens) > 0 {
		args = append(args, tokens)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("range meteora: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyMeteoraRecord
	for rows.Next() {
		var r domain.DailyMeteoraRecord
		var volume float64
		var complete uint8
		if err := rows.Scan(&r.Token, &r.Date, &volume, &complete, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan meteora row: %w", err)
		}
		r.Volume = decimal.NewFromFloat(volume)
		r.IsComplete = complete != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meteora rows: %w", err)
	}
	return out, nil
}

// LatestDate returns the newest date with a row for the given token and source.
func (s *SupplementaryStore) LatestDate(ctx context.Context, token string, source storage.SupplementarySource) (time.Time, bool, error) {
	start := time.Now()
	t, ok, err := s.latestDate(ctx, token, source)
	observability.RecordStorageQuery("clickhouse", "latest_date", time.Since(start).Seconds(), err)
	return t, ok, err
}

func (s *SupplementaryStore) latestDate(ctx context.Context, token string, source storage.SupplementarySource) (time.Time, bool, error) {
	table, err := supplementaryTable(source)
	if err != nil {
		return time.Time{}, false, err
	}

	query := fmt.Sprintf(`SELECT max(date) FROM %s FINAL WHERE token = ?`, table)
	var t time.Time
	if err := s.conn.QueryRow(ctx, query, token).Scan(&t); err != nil {
		return time.Time{}, false, fmt.Errorf("latest date: %w", err)
	}
	// max() over no rows yields the Date default, 1970-01-01, not NULL.
	if t.IsZero() || t.Unix() == 0 {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

func supplementaryTable(source storage.SupplementarySource) (string, error) {
	switch source {
	case storage.SourceBuySell:
		return "daily_buy_sell", nil
	case storage.SourceMeteora:
		return "daily_meteora", nil
	default:
		return "", fmt.Errorf("unknown supplementary source %q", source)
	}
}

func chTokenFilter(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	return "AND token IN (?)"
}

// toOrFarFuture maps a zero `to` (the "open-ended" sentinel the store
// interface uses) onto a date far enough out to include every real row,
// since the native driver has no portable NULL-means-unbounded parameter.
func toOrFarFuture(to time.Time) time.Time {
	if to.IsZero() {
		return time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return to
}
