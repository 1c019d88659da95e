package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Grid identifies which of the three fixed-width time grids a BucketRecord belongs to.
type Grid string

const (
	GridTenMinute Grid = "10m"
	GridHourly    Grid = "1h"
	GridDaily     Grid = "1d"
)

// Step returns the bucket alignment step for the grid.
func (g Grid) Step() time.Duration {
	switch g {
	case GridTenMinute:
		return 10 * time.Minute
	case GridHourly:
		return time.Hour
	case GridDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// AlignBucket truncates t down to the grid's step boundary, in UTC.
func AlignBucket(g Grid, t time.Time) time.Time {
	step := g.Step()
	if step <= 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(step)
}

// BucketRecord is one row in a time grid: (token, bucketStart) is unique per grid.
// Volume/price fields are shopspring/decimal, not float64: responses require
// exact fixed-point decimals (12 fractional digits, no trailing zeros on the
// wire), and sums across thousands of small swap amounts would otherwise
// drift under float64 rounding.
type BucketRecord struct {
	Token       string
	BucketStart time.Time

	BaseVolume   decimal.Decimal // >= 0
	TargetVolume decimal.Decimal // >= 0

	High decimal.Decimal // positive
	Low  decimal.Decimal // positive; zero means "no observation"

	TradeCount int64

	// Extended fields, optional — the zero Decimal means "not populated".
	BuyVolume     decimal.Decimal
	SellVolume    decimal.Decimal
	AveragePrice  decimal.Decimal
	USDCFees      decimal.Decimal
	TokenFees     decimal.Decimal
	SellVolumeUSD decimal.Decimal

	IsComplete bool
	UpdatedAt  time.Time
}

// RollingAggregate is the reduction produced by BucketStore.Rolling24h (and used
// by the grid roll-ups): sum for volumes/trades, max for high, min-of-positives for low.
type RollingAggregate struct {
	SumBase       decimal.Decimal
	SumTarget     decimal.Decimal
	MaxHigh       decimal.Decimal
	MinPositive   decimal.Decimal
	SumTradeCount int64
}

// DailyAggregate is the per-token summary produced by BucketStore.dailyAggregates.
type DailyAggregate struct {
	Token         string
	FirstDate     time.Time
	LastDate      time.Time
	TotalBase     decimal.Decimal
	TotalTarget   decimal.Decimal
	AllTimeHigh   decimal.Decimal
	AllTimeLowPos decimal.Decimal
	TradingDays   int
	DailyRows     []BucketRecord
}

// DailyBuySellRecord is a per-day, per-token record from the buy/sell split upstream.
type DailyBuySellRecord struct {
	Token      string
	Date       time.Time
	BuyVolume  decimal.Decimal
	SellVolume decimal.Decimal
	IsComplete bool
	UpdatedAt  time.Time
}

// DailyMeteoraRecord is a per-day, per-token record from the external-pool volume upstream.
type DailyMeteoraRecord struct {
	Token      string
	Date       time.Time
	Volume     decimal.Decimal
	IsComplete bool
	UpdatedAt  time.Time
}

// SyncMetadata is a key/value store for opaque cursors (e.g. "last_sync_time").
type SyncMetadata struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// ServiceStatus is an observability-only snapshot; never authoritative state.
type ServiceStatus struct {
	Service         string
	Initialized     bool
	Refreshing      bool
	LastRefreshTime time.Time
	RecordCount     int64
	Degraded        bool
	CapturedAt      time.Time
}
