package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexgrid/internal/domain"
)

func TestSnapshotter_LatestReturnsMostRecentPerService(t *testing.T) {
	s := NewSnapshotter()
	now := time.Now().UTC()

	s.Record(domain.ServiceStatus{Service: "10m", RecordCount: 1, CapturedAt: now.Add(-time.Minute)})
	s.Record(domain.ServiceStatus{Service: "10m", RecordCount: 2, CapturedAt: now})

	latest := s.Latest()
	require.Contains(t, latest, "10m")
	assert.Equal(t, int64(2), latest["10m"].RecordCount)
}

func TestSnapshotter_HistoryFiltersByWindow(t *testing.T) {
	s := NewSnapshotter()
	now := time.Now().UTC()

	s.Record(domain.ServiceStatus{Service: "10m", CapturedAt: now.Add(-48 * time.Hour)})
	s.Record(domain.ServiceStatus{Service: "10m", CapturedAt: now.Add(-2 * time.Hour)})

	history := s.History("10m", 24)
	require.Len(t, history, 1)
	assert.True(t, history[0].CapturedAt.After(now.Add(-24*time.Hour)))
}

func TestSnapshotter_EvictsOldestBeyondCapacity(t *testing.T) {
	s := NewSnapshotter()
	s.capacity = 2
	now := time.Now().UTC()

	s.Record(domain.ServiceStatus{Service: "10m", RecordCount: 1, CapturedAt: now})
	s.Record(domain.ServiceStatus{Service: "10m", RecordCount: 2, CapturedAt: now})
	s.Record(domain.ServiceStatus{Service: "10m", RecordCount: 3, CapturedAt: now})

	history := s.History("10m", 24)
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[0].RecordCount)
	assert.Equal(t, int64(3), history[1].RecordCount)
}
