package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeNumericString(t *testing.T) {
	cases := map[string]string{
		"3.2E5":   "320000",
		"":        "0",
		"0":       "0",
		"0.50000": "0.5",
		"-0.0":    "0",
		"abc":     "abc",
	}
	for in, want := range cases {
		assert.Equal(t, want, canonicalizeNumericString(in), "input %q", in)
	}
}

func TestCanonicalizeNumericString_Idempotent(t *testing.T) {
	inputs := []string{"3.2E5", "0.500000", "42", "1.23456E-3"}
	for _, in := range inputs {
		once := canonicalizeNumericString(in)
		twice := canonicalizeNumericString(once)
		assert.Equal(t, once, twice, "norm(norm(%q)) != norm(%q)", in, in)
	}
}

func TestCanonicalizeScalar_NilBecomesZero(t *testing.T) {
	assert.Equal(t, "0", canonicalizeScalar(nil))
}

func TestParseBucketTime(t *testing.T) {
	want := time.Date(2026, 1, 7, 12, 30, 0, 0, time.UTC)

	iso, err := parseBucketTime("2026-01-07T12:30:00Z")
	require.NoError(t, err)
	assert.True(t, want.Equal(iso))

	plain, err := parseBucketTime("2026-01-07 12:30:00")
	require.NoError(t, err)
	assert.True(t, want.Equal(plain))

	withSuffix, err := parseBucketTime("2026-01-07 12:30:00 UTC")
	require.NoError(t, err)
	assert.True(t, want.Equal(withSuffix))
}

func TestParseBucketTime_Invalid(t *testing.T) {
	_, err := parseBucketTime("not-a-time")
	assert.Error(t, err)
}
