// Package scheduler implements the fixed worker pool and delayed-task
// queue [SCHEDULER] component: promise-bearing task submission, a
// container/heap-backed deadline queue for delayed work, a panic callback
// distinct from the per-task error channel, and supervised shutdown via
// golang.org/x/sync/errgroup, in the style of the teacher's bufpool and
// errgroup-driven cmd/gameserver wiring.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/voxelcore/server/internal/coderr"
)

// Task is a unit of work submitted to the pool.
type Task func(ctx context.Context) (any, error)

// Future is the promise returned by Enqueue/EnqueueAfter: it resolves
// once, either to a result or to an error, and Wait may be called from
// any number of goroutines.
type Future struct {
	done   chan struct{}
	result any
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(result any, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

// Wait blocks until the future resolves or ctx is cancelled, whichever
// comes first.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed once the future resolves, for use in a
// select alongside other channels.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// PanicFunc is invoked, off the worker goroutine that panicked, whenever
// a Task panics. It is distinct from the error a Future resolves with:
// a panic is a programmer error surfaced out-of-band, not a normal task
// failure.
type PanicFunc func(worker int, recovered any)

type job struct {
	task   Task
	future *Future
}

// Pool is a fixed-size worker pool. Workers are started by Run and run
// until ctx is cancelled or Shutdown is called; tasks still queued at that
// point resolve their futures with a PoolShutdown error, while tasks
// already running finish normally.
type Pool struct {
	workers int
	onPanic PanicFunc

	mu     sync.RWMutex
	jobs   chan job
	closed bool
}

// New creates a pool with the given fixed worker count. onPanic may be
// nil, in which case a recovered panic is silently converted into a
// PoolShutdown-unrelated Fatal error on that task's future only.
func New(workers int, onPanic PanicFunc) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		onPanic: onPanic,
		jobs:    make(chan job, workers*4),
	}
}

// Run starts the worker goroutines, supervised by an errgroup so that a
// worker goroutine's own (non-task) failure propagates to the caller's
// Wait, mirroring the teacher's use of golang.org/x/sync/errgroup to
// supervise the reactor's accept loop and connection goroutines.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			p.runWorker(ctx, worker)
			return nil
		})
	}

	<-ctx.Done()
	p.Shutdown()

	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			p.execute(ctx, worker, j)
		}
	}
}

func (p *Pool) execute(ctx context.Context, worker int, j job) {
	defer func() {
		if r := recover(); r != nil {
			if p.onPanic != nil {
				p.onPanic(worker, r)
			}
			j.future.resolve(nil, coderr.New(coderr.Fatal, fmt.Sprintf("task panicked: %v", r)))
		}
	}()
	result, err := j.task(ctx)
	j.future.resolve(result, err)
}

// Enqueue submits a task for execution by the next available worker,
// returning a Future that resolves with its result. The read lock is held
// across the channel send so a concurrent Shutdown cannot close p.jobs
// while a send is in flight (which would panic); Shutdown takes the
// exclusive lock before closing, so it can only proceed once every
// in-flight Enqueue has released its read lock.
func (p *Pool) Enqueue(task Task) *Future {
	f := newFuture()
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		f.resolve(nil, coderr.New(coderr.PoolShutdown, "pool is shut down"))
		return f
	}
	p.jobs <- job{task: task, future: f}
	return f
}

// Shutdown closes the pool to new work and resolves every job still
// sitting in the queue with a PoolShutdown error. Jobs already handed to
// a worker are allowed to finish normally. Safe to call more than once.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	for j := range p.jobs {
		j.future.resolve(nil, coderr.New(coderr.PoolShutdown, "pool is shut down"))
	}
}
