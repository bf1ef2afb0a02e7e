package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedLimiter(t *testing.T, perSec float64, maxDepth int) *Limiter {
	t.Helper()
	l := New(zerolog.Nop(), perSec, maxDepth)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Stop)
	return l
}

func TestSchedule_Ordering(t *testing.T) {
	l := startedLimiter(t, 500, 16)

	var mu sync.Mutex
	var got []int

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			// enqueue in order, spaced enough to make FIFO observable
			time.Sleep(time.Duration(i*20) * time.Millisecond)
			_ = l.Schedule(context.Background(), func(context.Context) error {
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestSchedule_PacesDispatches(t *testing.T) {
	const perSec = 50.0
	l := startedLimiter(t, perSec, 16)

	var mu sync.Mutex
	var stamps []time.Time

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Schedule(context.Background(), func(context.Context) error {
				mu.Lock()
				stamps = append(stamps, time.Now())
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	require.Len(t, stamps, 5)
	minGap := time.Duration(float64(time.Second)/perSec) - 5*time.Millisecond // scheduler slack
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		assert.GreaterOrEqual(t, gap, minGap, "dispatch %d too close to %d", i, i-1)
	}
}

func TestSchedule_QueueOverflowFailsFast(t *testing.T) {
	l := startedLimiter(t, 1, 2) // slow drain, tiny queue

	block := make(chan struct{})
	go func() {
		_ = l.Schedule(context.Background(), func(context.Context) error {
			<-block
			return nil
		})
	}()

	// let the blocker reach the dispatcher, then fill the queue
	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 2; i++ {
		go func() {
			_ = l.Schedule(context.Background(), func(context.Context) error { return nil })
		}()
	}
	time.Sleep(50 * time.Millisecond)

	err := l.Schedule(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueOverflow)

	close(block)
}

func TestSchedule_PropagatesCallErrors(t *testing.T) {
	l := startedLimiter(t, 100, 8)

	boom := errors.New("boom")
	err := l.Schedule(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	stats := l.Stats()
	assert.EqualValues(t, 1, stats.TotalRequests)
	assert.EqualValues(t, 1, stats.TotalFailed)
	require.Len(t, stats.Recent, 1)
	assert.True(t, stats.Recent[0].Failed)
}

func TestSchedule_CallerContextCancel(t *testing.T) {
	l := startedLimiter(t, 100, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Schedule(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSchedule_AfterStop(t *testing.T) {
	l := New(zerolog.Nop(), 100, 8)
	require.NoError(t, l.Start(context.Background()))
	l.Stop()

	err := l.Schedule(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStats_Snapshot(t *testing.T) {
	l := startedLimiter(t, 200, 7)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Schedule(context.Background(), func(context.Context) error { return nil }))
	}

	stats := l.Stats()
	assert.Equal(t, 200.0, stats.RatePerSec)
	assert.Equal(t, 7, stats.QueueMaxDepth)
	assert.EqualValues(t, 3, stats.TotalRequests)
	assert.Zero(t, stats.TotalFailed)
	assert.Len(t, stats.Recent, 3)
}

func TestStats_RecentWindowBounded(t *testing.T) {
	l := startedLimiter(t, 5000, 128)

	for i := 0; i < recentCallWindow+10; i++ {
		require.NoError(t, l.Schedule(context.Background(), func(context.Context) error { return nil }))
	}

	stats := l.Stats()
	assert.Len(t, stats.Recent, recentCallWindow)
	assert.EqualValues(t, recentCallWindow+10, stats.TotalRequests)
}
