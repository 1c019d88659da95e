package analytics

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// canonicalizeScalar renders any backend scalar as the fixed-point,
// no-trailing-zero decimal string the wire format requires.
// null/empty/"0" all collapse to "0"; non-numeric values pass through the
// same stringification path.
func canonicalizeScalar(v any) string {
	if v == nil {
		return "0"
	}

	switch t := v.(type) {
	case string:
		return canonicalizeNumericString(t)
	case float64:
		return canonicalizeNumericString(strconv.FormatFloat(t, 'f', -1, 64))
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return canonicalizeNumericString(fmt.Sprintf("%v", t))
	}
}

// canonicalizeNumericString turns a (possibly scientific-notation) numeric
// string into a fixed-point string with no trailing zeros. Non-numeric input
// is returned unchanged, matching the backend's own pass-through rows (e.g.
// token symbols occasionally land in numeric-looking columns).
func canonicalizeNumericString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return "0"
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	if f == 0 {
		return "0"
	}

	out := strconv.FormatFloat(f, 'f', -1, 64)
	return trimTrailingZeros(out)
}

// trimTrailingZeros strips trailing fractional zeros (and a bare trailing
// decimal point) from an already fixed-point string. norm(norm(x)) == norm(x).
func trimTrailingZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// bucketTimeLayouts are the two accepted upstream timestamp shapes: ISO-8601
// and the bare "YYYY-MM-DD HH:MM:SS" shape the backend also emits, both
// assumed UTC.
var bucketTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseBucketTime parses an upstream bucket timestamp, trimming a trailing
// " UTC" suffix when present, and always returns a UTC time.
func parseBucketTime(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, " UTC")

	var lastErr error
	for _, layout := range bucketTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse bucket time %q: %w", raw, lastErr)
}

// ParseBucketTime is the exported form of parseBucketTime for callers outside
// this package (the refreshers parse the same two upstream timestamp shapes
// when projecting raw rows into domain.BucketRecord).
func ParseBucketTime(raw string) (time.Time, error) {
	return parseBucketTime(raw)
}

// normalizeRow converts a raw backend row (map<string, scalar>) into the
// map<string, string> shape QueryResult exposes to callers.
func normalizeRow(row map[string]any) map[string]string {
	out := make(map[string]string, len(row))
	for k, v := range row {
		out[k] = canonicalizeScalar(v)
	}
	return out
}
