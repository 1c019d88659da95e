package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_FixedIntervalRunsRepeatedlyAndStops(t *testing.T) {
	var runs atomic.Int32
	h := Start(Config{
		Name:       "interval-task",
		Discipline: FixedInterval,
		IntervalMs: 5,
		Task: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	defer h.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)

	h.Stop()
	count := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, runs.Load(), "no runs should occur after Stop returns")
}

func TestHandle_SingleFlightNeverOverlaps(t *testing.T) {
	var inFlight atomic.Int32
	var maxObserved atomic.Int32

	h := Start(Config{
		Name:       "overlap-check",
		Discipline: FixedInterval,
		IntervalMs: 1,
		Task: func(ctx context.Context) error {
			n := inFlight.Add(1)
			for {
				old := maxObserved.Load()
				if n <= old || maxObserved.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		},
	})
	defer h.Stop()

	time.Sleep(40 * time.Millisecond)
	h.Stop()

	assert.LessOrEqual(t, maxObserved.Load(), int32(1))
}

func TestHandle_ErrorsRouteToOnErrorAndKeepRunning(t *testing.T) {
	var errCount atomic.Int32
	var runs atomic.Int32

	h := Start(Config{
		Name:       "erroring-task",
		Discipline: FixedInterval,
		IntervalMs: 5,
		Task: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
		OnError: func(name string, err error) {
			errCount.Add(1)
		},
	})
	defer h.Stop()

	require.Eventually(t, func() bool { return errCount.Load() >= 2 }, time.Second, time.Millisecond)
	assert.Equal(t, runs.Load(), errCount.Load())
}

func TestHandle_LastRunAndNextRunTrackProgress(t *testing.T) {
	h := Start(Config{
		Name:       "tracked-task",
		Discipline: FixedInterval,
		IntervalMs: 5,
		Task: func(ctx context.Context) error {
			return nil
		},
	})
	defer h.Stop()

	require.Eventually(t, func() bool { return !h.LastRun().IsZero() }, time.Second, time.Millisecond)
	assert.False(t, h.NextRun().IsZero())
}

func TestNextBoundaryDelay_AlignsToBoundaryPlusBuffer(t *testing.T) {
	now := time.Date(2026, 1, 7, 12, 3, 0, 0, time.UTC)
	delay := nextBoundaryDelay(now, 10, 5)

	next := now.Add(delay)
	assert.Equal(t, 10, next.Minute())
	assert.Equal(t, 5, next.Second())
}

func TestNextBoundaryDelay_RollsToNextBoundaryWhenPastBuffer(t *testing.T) {
	now := time.Date(2026, 1, 7, 12, 10, 6, 0, time.UTC)
	delay := nextBoundaryDelay(now, 10, 5)

	next := now.Add(delay)
	assert.Equal(t, 20, next.Minute())
	assert.Equal(t, 5, next.Second())
}

func TestNextDailyDelay_SameDayWhenBeforeTarget(t *testing.T) {
	now := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)
	delay := nextDailyDelay(now, 0, 5)

	next := now.Add(delay)
	assert.Equal(t, 7, next.Day())
	assert.Equal(t, 0, next.Hour())
	assert.Equal(t, 5, next.Minute())
}

func TestNextDailyDelay_NextDayWhenPastTarget(t *testing.T) {
	now := time.Date(2026, 1, 7, 0, 10, 0, 0, time.UTC)
	delay := nextDailyDelay(now, 0, 5)

	next := now.Add(delay)
	assert.Equal(t, 8, next.Day())
	assert.Equal(t, 0, next.Hour())
	assert.Equal(t, 5, next.Minute())
}

func TestHandle_StopDuringRunLetsCurrentRunFinish(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})

	h := Start(Config{
		Name:       "slow-task",
		Discipline: FixedInterval,
		IntervalMs: 1,
		Task: func(ctx context.Context) error {
			close(started)
			time.Sleep(20 * time.Millisecond)
			close(finished)
			return nil
		},
	})

	<-started
	h.Stop()

	select {
	case <-finished:
	default:
		t.Fatal("Stop returned before the in-flight run finished")
	}
}
