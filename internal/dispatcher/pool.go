// internal/dispatcher/pool.go
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jack139/internvl-backend/internal/metrics"
)

// Job is one unit of work executed by a pool worker. Jobs must recover
// their own failures; the pool never inspects the outcome.
type Job func(ctx context.Context)

// Handle identifies a submitted job. It exists for diagnostics only and is
// never awaited.
type Handle struct {
	ID         uuid.UUID
	EnqueuedAt time.Time
}

// QueueDepthSample is an ephemeral observation of pool occupancy, logged
// per received broker event.
type QueueDepthSample struct {
	Running int
	Pending int
}

type queuedJob struct {
	handle Handle
	run    Job
}

// Pool is a fixed set of worker goroutines draining an unbounded FIFO
// intake queue. Submit never blocks, so the channel listener keeps draining
// the broker even while a slow engine call is in flight. The intake queue
// is deliberately unbounded: if the arrival rate persistently exceeds
// worker throughput the backlog grows without limit, observable through
// Depth and the pool gauges.
type Pool struct {
	size   int
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []queuedJob
	running int
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// NewPool creates a dispatch pool with the given worker count. Sizes below
// one fall back to a single worker, matching the engine's default
// non-reentrant contract.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		size:   size,
		logger: logger.With("component", "dispatch-pool"),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Size returns the configured worker count.
func (p *Pool) Size() int { return p.size }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}
	p.started = true

	p.logger.Info("dispatch pool starting", "workers", p.size)

	for range p.size {
		p.wg.Add(1)
		go p.workerLoop()
	}
	return nil
}

// Submit enqueues a job and returns immediately. It always succeeds: when
// every worker is busy the job simply waits its turn in FIFO order.
func (p *Pool) Submit(job Job) Handle {
	h := Handle{ID: uuid.New(), EnqueuedAt: time.Now()}

	p.mu.Lock()
	p.queue = append(p.queue, queuedJob{handle: h, run: job})
	pending := len(p.queue)
	p.mu.Unlock()

	metrics.PoolPending.Set(float64(pending))
	p.cond.Signal()
	return h
}

// Depth samples the current pool occupancy.
func (p *Pool) Depth() QueueDepthSample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return QueueDepthSample{Running: p.running, Pending: len(p.queue)}
}

// Stop signals the workers to exit and waits for in-flight jobs to finish.
// Queued jobs that never started are abandoned — a lost request is only
// ever lost to process termination. If the context expires first, Stop
// returns without waiting further; jobs are never cancelled mid-flight.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	abandoned := len(p.queue)
	p.mu.Unlock()

	p.cond.Broadcast()
	if abandoned > 0 {
		p.logger.Warn("abandoning queued jobs on shutdown", "count", abandoned)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("dispatch pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("dispatch pool shutdown timed out with jobs still running")
		return ctx.Err()
	}
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		qj := p.queue[0]
		p.queue = p.queue[1:]
		p.running++
		running, pending := p.running, len(p.queue)
		p.mu.Unlock()

		metrics.PoolRunning.Set(float64(running))
		metrics.PoolPending.Set(float64(pending))

		// Jobs run on a fresh context: once accepted they are never
		// cancelled, not even during shutdown.
		qj.run(context.Background())

		p.mu.Lock()
		p.running--
		running = p.running
		p.mu.Unlock()
		metrics.PoolRunning.Set(float64(running))
	}
}
