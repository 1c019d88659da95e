package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dexgrid/internal/domain"
	"dexgrid/internal/storage"
)

// SupplementaryStore is a mutex-guarded, in-memory implementation of
// storage.SupplementaryStore, used in degraded mode.
type SupplementaryStore struct {
	mu      sync.RWMutex
	buySell map[string]map[int64]domain.DailyBuySellRecord
	meteora map[string]map[int64]domain.DailyMeteoraRecord
}

// NewSupplementaryStore creates an empty degraded-mode supplementary store.
func NewSupplementaryStore() *SupplementaryStore {
	return &SupplementaryStore{
		buySell: make(map[string]map[int64]domain.DailyBuySellRecord),
		meteora: make(map[string]map[int64]domain.DailyMeteoraRecord),
	}
}

var _ storage.SupplementaryStore = (*SupplementaryStore)(nil)

func dayKey(t time.Time) int64 {
	return t.UTC().Truncate(24 * time.Hour).Unix()
}

// UpsertBuySell inserts or overwrites buy/sell rows keyed by (token, date).
func (s *SupplementaryStore) UpsertBuySell(_ context.Context, rows []domain.DailyBuySellRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		m, ok := s.buySell[r.Token]
		if !ok {
			m = make(map[int64]domain.DailyBuySellRecord)
			s.buySell[r.Token] = m
		}
		r.UpdatedAt = time.Now().UTC()
		m[dayKey(r.Date)] = r
	}
	return len(rows), nil
}

// UpsertMeteora inserts or overwrites external-pool volume rows.
func (s *SupplementaryStore) UpsertMeteora(_ context.Context, rows []domain.DailyMeteoraRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		m, ok := s.meteora[r.Token]
		if !ok {
			m = make(map[int64]domain.DailyMeteoraRecord)
			s.meteora[r.Token] = m
		}
		r.UpdatedAt = time.Now().UTC()
		m[dayKey(r.Date)] = r
	}
	return len(rows), nil
}

// RangeBuySell returns rows in [from, to) ordered by (token, date).
func (s *SupplementaryStore) RangeBuySell(_ context.Context, from, to time.Time, tokens []string) ([]domain.DailyBuySellRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fromKey := dayKey(from)
	var out []domain.DailyBuySellRecord
	for token, m := range s.buySell {
		if !tokenAllowed(tokens, token) {
			continue
		}
		for key, r := range m {
			if key < fromKey || (!to.IsZero() && key >= dayKey(to)) {
				continue
			}
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Token != out[j].Token {
			return out[i].Token < out[j].Token
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

// RangeMeteora returns rows in [from, to) ordered by (token, date).
func (s *SupplementaryStore) RangeMeteora(_ context.Context, from, to time.Time, tokens []string) ([]domain.DailyMeteoraRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fromKey := dayKey(from)
	var out []domain.DailyMeteoraRecord
	for token, m := range s.meteora {
		if !tokenAllowed(tokens, token) {
			continue
		}
		for key, r := range m {
			if key < fromKey || (!to.IsZero() && key >= dayKey(to)) {
				continue
			}
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Token != out[j].Token {
			return out[i].Token < out[j].Token
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

// LatestDate returns the newest date with a row for the given token and source.
func (s *SupplementaryStore) LatestDate(_ context.Context, token string, source storage.SupplementarySource) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest int64
	found := false

	switch source {
	case storage.SourceBuySell:
		for key := range s.buySell[token] {
			if !found || key > latest {
				latest = key
				found = true
			}
		}
	case storage.SourceMeteora:
		for key := range s.meteora[token] {
			if !found || key > latest {
				latest = key
				found = true
			}
		}
	}

	if !found {
		return time.Time{}, false, nil
	}
	return time.Unix(latest, 0).UTC(), true, nil
}
