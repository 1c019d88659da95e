package backfill

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexgrid/internal/analytics"
	"dexgrid/internal/refresh"
	"dexgrid/internal/storage"
	"dexgrid/internal/storage/memory"
)

func TestMain(m *testing.M) {
	interChunkDelay = time.Millisecond
	os.Exit(m.Run())
}

func newTestRefresher(client *analytics.AnalyticsClient, store storage.BucketStore) *refresh.TenMinuteRefresher {
	return refresh.NewTenMinuteRefresher(refresh.TenMinuteRefresherOptions{
		Client:  client,
		Store:   store,
		QueryID: "raw_swaps",
	})
}

type fakeBackfillBackend struct {
	failAtExecution int // 1-indexed; 0 means never fail
	calls           int
}

func (f *fakeBackfillBackend) Execute(_ context.Context, _ string, _ map[string]any) (string, error) {
	f.calls++
	if f.failAtExecution != 0 && f.calls == f.failAtExecution {
		return "", &analytics.BackendError{StatusCode: 402, Message: "quota exceeded"}
	}
	return fmt.Sprintf("exec-%d", f.calls), nil
}

func (f *fakeBackfillBackend) Status(_ context.Context, _ string) (analytics.ExecutionState, error) {
	return analytics.StateCompleted, nil
}

func (f *fakeBackfillBackend) Results(_ context.Context, _ string) ([]map[string]any, analytics.QueryMeta, error) {
	return nil, analytics.QueryMeta{}, nil
}

func TestRun_CompletesAllChunksWhenNoQuotaError(t *testing.T) {
	backend := &fakeBackfillBackend{}
	client := analytics.NewAnalyticsClient(backend, analytics.WithMaxWait(time.Second))
	store := memory.NewBucketStore()
	refresher := newTestRefresher(client, store)

	to := time.Now().UTC()
	from := to.Add(-14 * 24 * time.Hour)

	result, err := Run(context.Background(), refresher, from, to, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ChunksProcessed)
	assert.Equal(t, 2, result.ChunksTotal)
	assert.False(t, result.QuotaExceeded)
}

func TestRun_StopsPassOnQuotaExceeded(t *testing.T) {
	backend := &fakeBackfillBackend{failAtExecution: 3}
	client := analytics.NewAnalyticsClient(backend, analytics.WithMaxWait(time.Second), analytics.WithMaxRetries(0))
	store := memory.NewBucketStore()
	refresher := newTestRefresher(client, store)

	to := time.Now().UTC()
	from := to.Add(-28 * 24 * time.Hour) // four 7-day chunks

	result, err := Run(context.Background(), refresher, from, to, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ChunksProcessed)
	assert.Equal(t, 4, result.ChunksTotal)
	assert.True(t, result.QuotaExceeded)
}

func TestChunkRanges_SplitsIntoSevenDayWindows(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(16 * 24 * time.Hour)

	chunks := chunkRanges(from, to)
	require.Len(t, chunks, 3)
	assert.True(t, chunks[0].from.Equal(from))
	assert.True(t, chunks[2].to.Equal(to))
	for i := 1; i < len(chunks); i++ {
		assert.True(t, chunks[i].from.Equal(chunks[i-1].to))
	}
}
