// Package metricsapi serves rolling-24h metrics on demand, falling back
// through progressively coarser sources when the finer-grained grids have no
// data in the window.
package metricsapi

import (
	"context"
	"log"
	"sync"
	"time"

	"dexgrid/internal/domain"
	"dexgrid/internal/storage"
)

// MetricsReadAPI resolves rolling-24h metrics per poolId.
//
// Resolution order per request:
//  1. 10-minute grid, if it has rows in the window.
//  2. Hourly grid, if it has rows in the window.
//  3. The last snapshot in the in-memory supplementary cache.
//  4. An empty mapping, logged once per request.
type MetricsReadAPI struct {
	store  storage.BucketStore
	logger *log.Logger

	mu       sync.RWMutex
	snapshot map[string]domain.RollingAggregate
}

// MetricsReadAPIOptions configures a MetricsReadAPI.
type MetricsReadAPIOptions struct {
	Store  storage.BucketStore
	Logger *log.Logger
}

// NewMetricsReadAPI builds a MetricsReadAPI from opts.
func NewMetricsReadAPI(opts MetricsReadAPIOptions) *MetricsReadAPI {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[metricsapi] ", log.LstdFlags)
	}
	return &MetricsReadAPI{store: opts.Store, logger: logger}
}

// UpdateSnapshot atomically replaces the fallback snapshot that Rolling24h
// serves when neither grid has rows in the window. No refresher in this
// module calls it, so the snapshot stays empty unless a caller sets it.
func (m *MetricsReadAPI) UpdateSnapshot(agg map[string]domain.RollingAggregate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = agg
}

// Rolling24h resolves the rolling-24h metrics for tokens (empty means "all"),
// keyed by the poolId the caller's index maps each token to.
func (m *MetricsReadAPI) Rolling24h(ctx context.Context, tokens []string, tokenToPoolID map[string]string) (map[string]domain.RollingAggregate, error) {
	now := time.Now().UTC()

	agg, err := m.store.Rolling24h(ctx, domain.GridTenMinute, now, tokens)
	if err != nil {
		return nil, err
	}
	if len(agg) > 0 {
		return keyByPoolID(agg, tokenToPoolID), nil
	}

	agg, err = m.store.Rolling24h(ctx, domain.GridHourly, now, tokens)
	if err != nil {
		return nil, err
	}
	if len(agg) > 0 {
		return keyByPoolID(agg, tokenToPoolID), nil
	}

	if snap := m.snapshotFor(tokens); len(snap) > 0 {
		return keyByPoolID(snap, tokenToPoolID), nil
	}

	m.logger.Printf("no rolling-24h data available for %d token(s); returning empty", len(tokens))
	return map[string]domain.RollingAggregate{}, nil
}

func (m *MetricsReadAPI) snapshotFor(tokens []string) map[string]domain.RollingAggregate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(tokens) == 0 {
		out := make(map[string]domain.RollingAggregate, len(m.snapshot))
		for k, v := range m.snapshot {
			out[k] = v
		}
		return out
	}

	out := make(map[string]domain.RollingAggregate, len(tokens))
	for _, t := range tokens {
		if v, ok := m.snapshot[t]; ok {
			out[t] = v
		}
	}
	return out
}

func keyByPoolID(byToken map[string]domain.RollingAggregate, tokenToPoolID map[string]string) map[string]domain.RollingAggregate {
	out := make(map[string]domain.RollingAggregate, len(byToken))
	for token, agg := range byToken {
		poolID, ok := tokenToPoolID[token]
		if !ok {
			poolID = token
		}
		out[poolID] = agg
	}
	return out
}
