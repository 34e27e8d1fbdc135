package dispatcher

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPool_SingleWorkerIsStrictFIFO(t *testing.T) {
	pool := NewPool(1, testLogger())
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(context.Background())

	const n = 50
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(n)

	for i := range n {
		pool.Submit(func(_ context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	require.Len(t, order, n)
	for i := range n {
		assert.Equal(t, i, order[i], "job %d ran out of order", i)
	}
}

func TestPool_ManyWorkersRunEveryJobExactlyOnce(t *testing.T) {
	pool := NewPool(5, testLogger())
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(context.Background())

	const n = 200
	counts := make([]atomic.Int32, n)
	var wg sync.WaitGroup
	wg.Add(n)

	for i := range n {
		pool.Submit(func(_ context.Context) {
			counts[i].Add(1)
			wg.Done()
		})
	}
	wg.Wait()

	for i := range n {
		assert.Equal(t, int32(1), counts[i].Load(), "job %d", i)
	}
}

func TestPool_SubmitNeverBlocks(t *testing.T) {
	pool := NewPool(1, testLogger())
	require.NoError(t, pool.Start(context.Background()))

	gate := make(chan struct{})
	started := make(chan struct{})
	pool.Submit(func(_ context.Context) {
		close(started)
		<-gate
	})
	<-started

	// The single worker is busy; every further Submit must return
	// immediately and queue.
	done := make(chan struct{})
	go func() {
		for range 100 {
			pool.Submit(func(_ context.Context) {})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked with a busy worker")
	}

	depth := pool.Depth()
	assert.Equal(t, 1, depth.Running)
	assert.Equal(t, 100, depth.Pending)

	close(gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(ctx))
}

func TestPool_HandleIsDiagnosticOnly(t *testing.T) {
	pool := NewPool(1, testLogger())
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(context.Background())

	before := time.Now()
	h := pool.Submit(func(_ context.Context) {})
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", h.ID.String())
	assert.False(t, h.EnqueuedAt.Before(before))
}

func TestPool_StopWaitsForInFlightAndAbandonsQueued(t *testing.T) {
	pool := NewPool(1, testLogger())
	require.NoError(t, pool.Start(context.Background()))

	gate := make(chan struct{})
	started := make(chan struct{})
	pool.Submit(func(_ context.Context) {
		close(started)
		<-gate
	})
	<-started

	var abandoned atomic.Int32
	for range 10 {
		pool.Submit(func(_ context.Context) { abandoned.Add(1) })
	}

	// The in-flight job is stuck on the gate, so Stop must hit its
	// deadline without cancelling it.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := pool.Stop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Once the in-flight job finishes, the worker must exit without
	// touching the queued jobs.
	close(gate)
	assert.Eventually(t, func() bool {
		return pool.Depth().Running == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), abandoned.Load())
}

func TestPool_StartIsIdempotent(t *testing.T) {
	pool := NewPool(2, testLogger())
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Start(context.Background()))

	var wg sync.WaitGroup
	wg.Add(1)
	pool.Submit(func(_ context.Context) { wg.Done() })
	wg.Wait()

	require.NoError(t, pool.Stop(context.Background()))
}

func TestPool_SizeFloorsAtOne(t *testing.T) {
	pool := NewPool(0, testLogger())
	assert.Equal(t, 1, pool.Size())
}
