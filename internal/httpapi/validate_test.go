package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(query string) *http.Request {
	return httptest.NewRequest(http.MethodGet, "/x?"+query, nil)
}

func TestParseDateParam_ValidAndInvalid(t *testing.T) {
	_, apiErr := parseDateParam(newRequest("startDate=2026-01-07"), "startDate")
	assert.Nil(t, apiErr)

	_, apiErr = parseDateParam(newRequest("startDate=2026-13-40"), "startDate")
	require.NotNil(t, apiErr)
	assert.Equal(t, "startDate", apiErr.Field)

	_, apiErr = parseDateParam(newRequest(""), "startDate")
	require.NotNil(t, apiErr)
}

func TestParseHoursParam_DefaultsAndBounds(t *testing.T) {
	hours, apiErr := parseHoursParam(newRequest(""))
	require.Nil(t, apiErr)
	assert.Equal(t, 24, hours)

	_, apiErr = parseHoursParam(newRequest("hours=0"))
	require.NotNil(t, apiErr)

	_, apiErr = parseHoursParam(newRequest("hours=169"))
	require.NotNil(t, apiErr)

	hours, apiErr = parseHoursParam(newRequest("hours=168"))
	require.Nil(t, apiErr)
	assert.Equal(t, 168, hours)
}

func TestParseTokensParam_DiscardsEmptyItems(t *testing.T) {
	tokens := parseTokensParam(newRequest("tokens=a,,b, ,c"))
	assert.Equal(t, []string{"a", "b", "c"}, tokens)
}

func TestValidateAddress(t *testing.T) {
	assert.True(t, validateAddress("1111111111111111111111111111111111111111"))
	assert.False(t, validateAddress("short"))
	assert.False(t, validateAddress("0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl"))
}
