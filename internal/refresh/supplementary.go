package refresh

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dexgrid/internal/analytics"
	"dexgrid/internal/domain"
	"dexgrid/internal/observability"
	"dexgrid/internal/storage"
)

// SupplementaryFetcher runs independent daily upstream pulls for the buy/sell
// split and external-pool (Meteora) volume tables. Each source is keyed by
// (token, date) and shares the same backfill-from-genesis-or-incremental
// bootstrap rule.
type SupplementaryFetcher struct {
	client  *analytics.AnalyticsClient
	store   storage.SupplementaryStore
	logger  *log.Logger

	buySellQueryID string
	meteoraQueryID string
	genesisDate    time.Time

	// ownerToBaseToken resolves external-pool owner addresses to the base
	// token they trade, per the static mapping the fetcher requires for the
	// Meteora source. Unknown owners are dropped with a warning.
	ownerToBaseToken map[string]string

	mu      sync.Mutex
	running bool
}

// SupplementaryFetcherOptions configures a SupplementaryFetcher.
type SupplementaryFetcherOptions struct {
	Client           *analytics.AnalyticsClient
	Store            storage.SupplementaryStore
	BuySellQueryID   string
	MeteoraQueryID   string
	GenesisDate      time.Time
	OwnerToBaseToken map[string]string
	Logger           *log.Logger
}

// NewSupplementaryFetcher builds a SupplementaryFetcher from opts.
func NewSupplementaryFetcher(opts SupplementaryFetcherOptions) *SupplementaryFetcher {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[refresh:supplementary] ", log.LstdFlags)
	}
	return &SupplementaryFetcher{
		client:           opts.Client,
		store:            opts.Store,
		buySellQueryID:   opts.BuySellQueryID,
		meteoraQueryID:   opts.MeteoraQueryID,
		genesisDate:      opts.GenesisDate,
		ownerToBaseToken: opts.OwnerToBaseToken,
		logger:           logger,
	}
}

// RunBuySell fetches the buy/sell split for tokens from their last stored
// date (or genesis, if the table is still empty) up to and including today.
func (f *SupplementaryFetcher) RunBuySell(ctx context.Context, tokens []string) error {
	return f.singleFlight(ctx, "buy_sell", func(ctx context.Context) error {
		for _, token := range tokens {
			if err := f.runBuySellForToken(ctx, token); err != nil {
				f.logger.Printf("buy/sell fetch failed for %s: %v", token, err)
			}
		}
		return nil
	})
}

func (f *SupplementaryFetcher) runBuySellForToken(ctx context.Context, token string) error {
	from, err := f.startDate(ctx, token, storage.SourceBuySell)
	if err != nil {
		return err
	}
	today := domain.AlignBucket(domain.GridDaily, time.Now().UTC())

	result, err := f.client.Run(ctx, f.buySellQueryID, map[string]any{
		"token": token,
		"from":  from.Format("2006-01-02"),
		"to":    today.Format("2006-01-02"),
	})
	if err != nil {
		return err
	}

	rows := make([]domain.DailyBuySellRecord, 0, len(result.Rows))
	for _, row := range result.Rows {
		rec, err := projectBuySellRow(token, row, today)
		if err != nil {
			f.logger.Printf("dropping malformed buy/sell row: %v", err)
			continue
		}
		rows = append(rows, rec)
	}

	if len(rows) == 0 {
		return nil
	}
	n, err := f.store.UpsertBuySell(ctx, rows)
	if err == nil {
		observability.RecordRowsUpserted("buy_sell", n)
	}
	return err
}

// RunMeteora fetches external-pool volumes, resolving each row's owner
// address to a base token via the static mapping before insertion.
func (f *SupplementaryFetcher) RunMeteora(ctx context.Context, owners []string) error {
	return f.singleFlight(ctx, "meteora", func(ctx context.Context) error {
		for _, owner := range owners {
			if err := f.runMeteoraForOwner(ctx, owner); err != nil {
				f.logger.Printf("meteora fetch failed for owner %s: %v", owner, err)
			}
		}
		return nil
	})
}

func (f *SupplementaryFetcher) runMeteoraForOwner(ctx context.Context, owner string) error {
	token, ok := f.ownerToBaseToken[owner]
	if !ok {
		f.logger.Printf("unknown meteora owner %s, dropping", owner)
		return nil
	}

	from, err := f.startDate(ctx, token, storage.SourceMeteora)
	if err != nil {
		return err
	}
	today := domain.AlignBucket(domain.GridDaily, time.Now().UTC())

	result, err := f.client.Run(ctx, f.meteoraQueryID, map[string]any{
		"owner": owner,
		"from":  from.Format("2006-01-02"),
		"to":    today.Format("2006-01-02"),
	})
	if err != nil {
		return err
	}

	rows := make([]domain.DailyMeteoraRecord, 0, len(result.Rows))
	for _, row := range result.Rows {
		rec, err := projectMeteoraRow(token, row, today)
		if err != nil {
			f.logger.Printf("dropping malformed meteora row: %v", err)
			continue
		}
		rows = append(rows, rec)
	}

	if len(rows) == 0 {
		return nil
	}
	n, err := f.store.UpsertMeteora(ctx, rows)
	if err == nil {
		observability.RecordRowsUpserted("meteora", n)
	}
	return err
}

// startDate decides between a genesis backfill (table empty for this token)
// and an incremental catch-up from the last stored date.
func (f *SupplementaryFetcher) startDate(ctx context.Context, token string, source storage.SupplementarySource) (time.Time, error) {
	latest, ok, err := f.store.LatestDate(ctx, token, source)
	if err != nil {
		return time.Time{}, fmt.Errorf("read latest date for %s: %w", token, err)
	}
	if !ok {
		if f.genesisDate.IsZero() {
			return time.Now().UTC().Add(-24 * time.Hour), nil
		}
		return f.genesisDate, nil
	}
	return latest, nil
}

func (f *SupplementaryFetcher) singleFlight(ctx context.Context, label string, fn func(context.Context) error) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		f.logger.Printf("supplementary fetch already in progress, skipping")
		observability.RecordRefreshSkipped(label)
		return nil
	}
	f.running = true
	f.mu.Unlock()

	start := time.Now()
	defer func() {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	err := fn(ctx)
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.RecordRefreshRun(label, status, time.Since(start).Seconds())
	return err
}

// parseSupplementaryDate accepts a bare "YYYY-MM-DD" date (as UTC midnight)
// as well as the bucket timestamp shapes analytics.ParseBucketTime handles.
func parseSupplementaryDate(raw string) (time.Time, error) {
	if d, err := time.Parse("2006-01-02", raw); err == nil {
		return d, nil
	}
	return analytics.ParseBucketTime(raw)
}

func projectBuySellRow(token string, row map[string]string, today time.Time) (domain.DailyBuySellRecord, error) {
	rawDate := row["date"]
	if rawDate == "" {
		return domain.DailyBuySellRecord{}, fmt.Errorf("row missing date")
	}
	date, err := parseSupplementaryDate(rawDate)
	if err != nil {
		return domain.DailyBuySellRecord{}, err
	}
	date = domain.AlignBucket(domain.GridDaily, date)

	return domain.DailyBuySellRecord{
		Token:      token,
		Date:       date,
		BuyVolume:  decOr(row["buy_volume"]),
		SellVolume: decOr(row["sell_volume"]),
		// Today's row is always re-fetched and marked incomplete until the
		// next day boundary.
		IsComplete: date.Before(today),
	}, nil
}

func projectMeteoraRow(token string, row map[string]string, today time.Time) (domain.DailyMeteoraRecord, error) {
	rawDate := row["date"]
	if rawDate == "" {
		return domain.DailyMeteoraRecord{}, fmt.Errorf("row missing date")
	}
	date, err := parseSupplementaryDate(rawDate)
	if err != nil {
		return domain.DailyMeteoraRecord{}, err
	}
	date = domain.AlignBucket(domain.GridDaily, date)

	volume := decOr(row["volume"])
	if volume.Equal(decimal.Zero) && row["volume_usd"] != "" {
		volume = decOr(row["volume_usd"])
	}

	return domain.DailyMeteoraRecord{
		Token:      token,
		Date:       date,
		Volume:     volume,
		IsComplete: date.Before(today),
	}, nil
}
