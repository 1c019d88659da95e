// Package health keeps a bounded in-memory history of ServiceStatus
// snapshots per service, serving GET /api/health and the windowed history
// endpoint the operator view needs.
package health

import (
	"sort"
	"sync"
	"time"

	"dexgrid/internal/domain"
)

// DefaultHistoryCapacity bounds how many snapshots per service are retained.
const DefaultHistoryCapacity = 4096

// Snapshotter records ServiceStatus observations and answers windowed
// history queries.
type Snapshotter struct {
	mu        sync.RWMutex
	capacity  int
	byService map[string][]domain.ServiceStatus
}

// NewSnapshotter creates an empty Snapshotter.
func NewSnapshotter() *Snapshotter {
	return &Snapshotter{
		capacity:  DefaultHistoryCapacity,
		byService: make(map[string][]domain.ServiceStatus),
	}
}

// Record appends a snapshot, evicting the oldest entry for that service if
// the ring is at capacity.
func (s *Snapshotter) Record(status domain.ServiceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.byService[status.Service]
	history = append(history, status)
	if len(history) > s.capacity {
		history = history[len(history)-s.capacity:]
	}
	s.byService[status.Service] = history
}

// Latest returns the most recent snapshot for every known service.
func (s *Snapshotter) Latest() map[string]domain.ServiceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.ServiceStatus, len(s.byService))
	for service, history := range s.byService {
		if len(history) > 0 {
			out[service] = history[len(history)-1]
		}
	}
	return out
}

// History returns the snapshots for service within the last `hours`, newest
// last. An empty service name matches every service.
func (s *Snapshotter) History(service string, hours int) []domain.ServiceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	var out []domain.ServiceStatus
	if service != "" {
		out = filterSince(s.byService[service], cutoff)
	} else {
		for _, history := range s.byService {
			out = append(out, filterSince(history, cutoff)...)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	}
	return out
}

func filterSince(history []domain.ServiceStatus, cutoff time.Time) []domain.ServiceStatus {
	var out []domain.ServiceStatus
	for _, s := range history {
		if !s.CapturedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}
