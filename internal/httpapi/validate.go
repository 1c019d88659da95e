package httpapi

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var base58AddressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// apiError is the error response shape the validation contract requires.
type apiError struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// parseDateParam requires a strict YYYY-MM-DD value that parses to a valid
// Gregorian date.
func parseDateParam(r *http.Request, name string) (time.Time, *apiError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, &apiError{Error: "Invalid parameter", Field: name, Message: "required"}
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, &apiError{Error: "Invalid parameter", Field: name, Message: "must be YYYY-MM-DD"}
	}
	return t, nil
}

// parseHoursParam parses an optional "hours" query parameter, defaulting to
// 24 and bounding it to [1, 168].
func parseHoursParam(r *http.Request) (int, *apiError) {
	raw := r.URL.Query().Get("hours")
	if raw == "" {
		return 24, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &apiError{Error: "Invalid parameter", Field: "hours", Message: "must be an integer"}
	}
	if n < 1 || n > 168 {
		return 0, &apiError{Error: "Invalid parameter", Field: "hours", Message: "must be between 1 and 168"}
	}
	return n, nil
}

// parseTokensParam splits a comma-separated token list, discarding empty items.
func parseTokensParam(r *http.Request) []string {
	raw := r.URL.Query().Get("tokens")
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

// validateAddress reports whether addr matches the base58 address shape.
func validateAddress(addr string) bool {
	return base58AddressPattern.MatchString(addr)
}
