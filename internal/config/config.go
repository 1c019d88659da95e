// Package config resolves the process's environment surface into typed
// values, loading an optional .env file before falling back to the
// process environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dexgrid/internal/domain"
)

// Config is the fully resolved environment surface.
type Config struct {
	DatabaseURL   string
	ClickHouseURL string
	ListenAddr    string

	AnalyticsBaseURL        string
	AnalyticsAPIKey         string
	AnalyticsSwapsQueryID   string
	AnalyticsBuySellQueryID string
	AnalyticsMeteoraQueryID string

	RefreshIntervalTenMinute time.Duration
	RefreshIntervalHourly    time.Duration
	RefreshIntervalDaily     time.Duration
	FetchTimeout             time.Duration
	CacheTTL                 time.Duration

	ExcludedMarkets []string
	ProtocolFeeRate decimal.Decimal

	Markets          []domain.Market
	OwnerToBaseToken map[string]string
	GenesisDate      time.Time

	RecentDays    int
	SkipAnalytics bool
	DevMode       bool
	UseMemory     bool
}

// Load reads .env (if present, without overriding already-set variables) and
// resolves the full Config from the process environment, applying defaults
// for everything left unset.
func Load() (Config, error) {
	loadEnvFile(".env")

	feeRate, err := decimal.NewFromString(getEnv("PROTOCOL_FEE_RATE", "0.003"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PROTOCOL_FEE_RATE: %w", err)
	}

	recentDays, err := strconv.Atoi(getEnv("RECENT_DAYS", "7"))
	if err != nil {
		return Config{}, fmt.Errorf("parse RECENT_DAYS: %w", err)
	}

	refreshTen, err := time.ParseDuration(getEnv("REFRESH_INTERVAL_10M", "10m"))
	if err != nil {
		return Config{}, fmt.Errorf("parse REFRESH_INTERVAL_10M: %w", err)
	}
	refreshHourly, err := time.ParseDuration(getEnv("REFRESH_INTERVAL_1H", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("parse REFRESH_INTERVAL_1H: %w", err)
	}
	refreshDaily, err := time.ParseDuration(getEnv("REFRESH_INTERVAL_1D", "24h"))
	if err != nil {
		return Config{}, fmt.Errorf("parse REFRESH_INTERVAL_1D: %w", err)
	}
	fetchTimeout, err := time.ParseDuration(getEnv("FETCH_TIMEOUT", "4m"))
	if err != nil {
		return Config{}, fmt.Errorf("parse FETCH_TIMEOUT: %w", err)
	}
	cacheTTL, err := time.ParseDuration(getEnv("CACHE_TTL", "5m"))
	if err != nil {
		return Config{}, fmt.Errorf("parse CACHE_TTL: %w", err)
	}

	genesisDate, err := time.Parse("2006-01-02", getEnv("GENESIS_DATE", "2024-01-01"))
	if err != nil {
		return Config{}, fmt.Errorf("parse GENESIS_DATE: %w", err)
	}

	markets, err := parseMarkets(os.Getenv("MARKETS_JSON"))
	if err != nil {
		return Config{}, fmt.Errorf("parse MARKETS_JSON: %w", err)
	}

	ownerToBaseToken, err := parseStringMap(os.Getenv("OWNER_TO_BASE_TOKEN_JSON"))
	if err != nil {
		return Config{}, fmt.Errorf("parse OWNER_TO_BASE_TOKEN_JSON: %w", err)
	}

	return Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		ClickHouseURL: os.Getenv("CLICKHOUSE_URL"),
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),

		AnalyticsBaseURL:        os.Getenv("ANALYTICS_BASE_URL"),
		AnalyticsAPIKey:         os.Getenv("ANALYTICS_API_KEY"),
		AnalyticsSwapsQueryID:   os.Getenv("ANALYTICS_SWAPS_QUERY_ID"),
		AnalyticsBuySellQueryID: os.Getenv("ANALYTICS_BUY_SELL_QUERY_ID"),
		AnalyticsMeteoraQueryID: os.Getenv("ANALYTICS_METEORA_QUERY_ID"),

		RefreshIntervalTenMinute: refreshTen,
		RefreshIntervalHourly:    refreshHourly,
		RefreshIntervalDaily:     refreshDaily,
		FetchTimeout:             fetchTimeout,
		CacheTTL:                 cacheTTL,

		ExcludedMarkets: splitCommaList(os.Getenv("EXCLUDED_MARKETS")),
		ProtocolFeeRate: feeRate,

		Markets:          markets,
		OwnerToBaseToken: ownerToBaseToken,
		GenesisDate:      genesisDate,

		RecentDays:    recentDays,
		SkipAnalytics: getEnvBool("SKIP_ANALYTICS", false),
		DevMode:       getEnvBool("DEV_MODE", false),
		UseMemory:     getEnvBool("USE_MEMORY", false),
	}, nil
}

// parseMarkets decodes MARKETS_JSON, a JSON array of domain.Market objects
// describing the static catalogue. An empty string yields no markets.
func parseMarkets(raw string) ([]domain.Market, error) {
	if raw == "" {
		return nil, nil
	}
	var markets []domain.Market
	if err := json.Unmarshal([]byte(raw), &markets); err != nil {
		return nil, err
	}
	return markets, nil
}

// parseStringMap decodes a JSON object of string to string, used for the
// Meteora owner-to-base-token mapping. An empty string yields an empty map.
func parseStringMap(raw string) (map[string]string, error) {
	if raw == "" {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitCommaList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// loadEnvFile loads KEY=VALUE pairs from path into the process environment,
// skipping blanks and comments, without overriding variables already set.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
