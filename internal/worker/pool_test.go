package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_ClampsWorkers(t *testing.T) {
	double := func(_ context.Context, n int) int { return n * 2 }
	assert.Equal(t, 1, NewPool(0, double).workers)
	assert.Equal(t, 1, NewPool(-3, double).workers)
	assert.Equal(t, 4, NewPool(4, double).workers)
}

func TestPool_KeepsInputOrder(t *testing.T) {
	// later inputs finish first
	pool := NewPool(4, func(_ context.Context, n int) int {
		time.Sleep(time.Duration(10-n) * time.Millisecond)
		return n * n
	})

	slots := pool.Map(context.Background(), []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})

	require.Len(t, slots, 10)
	for i, s := range slots {
		assert.True(t, s.Done, i)
		assert.Equal(t, i*i, s.Value)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	pool := NewPool(3, func(_ context.Context, _ int) struct{} {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return struct{}{}
	})

	pool.Map(context.Background(), make([]int, 12))

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, int32(3), peak.Load())
}

func TestPool_Empty(t *testing.T) {
	calls := 0
	pool := NewPool(2, func(_ context.Context, _ string) int { calls++; return 0 })
	assert.Empty(t, pool.Map(context.Background(), nil))
	assert.Zero(t, calls)
}

func TestPool_CancelStopsNewWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var started atomic.Int32

	pool := NewPool(1, func(ctx context.Context, n int) int {
		if started.Add(1) == 2 {
			cancel()
		}
		return n
	})
	slots := pool.Map(ctx, []int{1, 2, 3, 4, 5})

	require.Len(t, slots, 5)
	assert.True(t, slots[0].Done)
	assert.True(t, slots[1].Done)
	assert.False(t, slots[4].Done)
	assert.LessOrEqual(t, started.Load(), int32(3))
}

func TestPool_RunningCallsSeeCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	pool := NewPool(2, func(ctx context.Context, _ int) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	start := time.Now()
	slots := pool.Map(ctx, []int{1, 2})
	assert.Less(t, time.Since(start), 2*time.Second)
	for _, s := range slots {
		require.True(t, s.Done)
		assert.ErrorIs(t, s.Value, context.DeadlineExceeded)
	}
}
