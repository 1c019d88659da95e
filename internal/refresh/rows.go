package refresh

import (
	"fmt"

	"github.com/shopspring/decimal"

	"dexgrid/internal/analytics"
	"dexgrid/internal/domain"
)

// projectBucketRow converts one normalised analytics row into a BucketRecord.
// Missing numeric fields default to zero; a missing token or bucket_start is
// an error since neither half of the (token, bucketStart) key can be guessed.
func projectBucketRow(row map[string]string) (domain.BucketRecord, error) {
	token := row["token"]
	if token == "" {
		return domain.BucketRecord{}, fmt.Errorf("row missing token")
	}

	rawStart := row["bucket_start"]
	if rawStart == "" {
		return domain.BucketRecord{}, fmt.Errorf("row for token %s missing bucket_start", token)
	}
	bucketStart, err := analytics.ParseBucketTime(rawStart)
	if err != nil {
		return domain.BucketRecord{}, fmt.Errorf("token %s: %w", token, err)
	}

	baseVolume := decOr(row["base_volume"])
	targetVolume := decOr(row["target_volume"])
	if targetVolume.IsZero() {
		// Open Question #2: fall back to baseVolume * last_price when the
		// upstream target_volume is absent or zero and a price is present.
		if price, ok := row["last_price"]; ok {
			targetVolume = baseVolume.Mul(decOr(price))
		}
	}

	return domain.BucketRecord{
		Token:         token,
		BucketStart:   bucketStart,
		BaseVolume:    baseVolume,
		TargetVolume:  targetVolume,
		High:          decOr(row["high"]),
		Low:           decOr(row["low"]),
		TradeCount:    intOr(row["trade_count"]),
		BuyVolume:     decOr(row["buy_volume"]),
		SellVolume:    decOr(row["sell_volume"]),
		AveragePrice:  decOr(row["average_price"]),
		USDCFees:      decOr(row["usdc_fees"]),
		TokenFees:     decOr(row["token_fees"]),
		SellVolumeUSD: decOr(row["sell_volume_usd"]),
	}, nil
}

func decOr(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func intOr(s string) int64 {
	if s == "" {
		return 0
	}
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0
	}
	return n
}
