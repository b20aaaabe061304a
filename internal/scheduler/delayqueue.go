package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/voxelcore/server/internal/coderr"
)

// delayedJob is an entry in the deadline-sorted heap.
type delayedJob struct {
	deadline time.Time
	task     Task
	future   *Future
	index    int
}

type delayHeap []*delayedJob

func (h delayHeap) Len() int            { return len(h) }
func (h delayHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h delayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayHeap) Push(x any) {
	dj := x.(*delayedJob)
	dj.index = len(*h)
	*h = append(*h, dj)
}

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	dj := old[n-1]
	old[n-1] = nil
	dj.index = -1
	*h = old[:n-1]
	return dj
}

// DelayQueue schedules tasks to run on a Pool once their deadline elapses.
// It runs its own dispatcher goroutine, woken by a timer reset to the
// soonest pending deadline - the container/heap idiom the teacher's
// codebase does not itself need, but which is the standard Go composition
// for a deadline-ordered priority queue.
type DelayQueue struct {
	pool *Pool

	mu   sync.Mutex
	heap delayHeap
	wake chan struct{}
}

// NewDelayQueue creates a delay queue that submits elapsed tasks to pool.
func NewDelayQueue(pool *Pool) *DelayQueue {
	return &DelayQueue{
		pool: pool,
		wake: make(chan struct{}, 1),
	}
}

// EnqueueAfter schedules task to run on the pool after d elapses, returning
// its Future immediately.
func (q *DelayQueue) EnqueueAfter(d time.Duration, task Task) *Future {
	f := newFuture()
	dj := &delayedJob{deadline: time.Now().Add(d), task: task, future: f}

	q.mu.Lock()
	heap.Push(&q.heap, dj)
	q.mu.Unlock()

	q.poke()
	return f
}

func (q *DelayQueue) poke() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run drives the dispatcher until ctx is cancelled. Any jobs still pending
// when ctx is cancelled resolve with a PoolShutdown error, matching the
// Pool's own teardown semantics.
func (q *DelayQueue) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		q.mu.Lock()
		var next time.Duration = time.Hour
		if len(q.heap) > 0 {
			next = time.Until(q.heap[0].deadline)
		}
		q.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)

		select {
		case <-ctx.Done():
			q.drain()
			return
		case <-timer.C:
			q.dispatchElapsed()
		case <-q.wake:
			q.dispatchElapsed()
		}
	}
}

func (q *DelayQueue) dispatchElapsed() {
	now := time.Now()
	var elapsed []*delayedJob

	q.mu.Lock()
	for len(q.heap) > 0 && !q.heap[0].deadline.After(now) {
		dj := heap.Pop(&q.heap).(*delayedJob)
		elapsed = append(elapsed, dj)
	}
	q.mu.Unlock()

	for _, dj := range elapsed {
		dj := dj
		future := q.pool.Enqueue(dj.task)
		go func() {
			result, err := future.Wait(context.Background())
			dj.future.resolve(result, err)
		}()
	}
}

func (q *DelayQueue) drain() {
	q.mu.Lock()
	pending := q.heap
	q.heap = nil
	q.mu.Unlock()

	for _, dj := range pending {
		dj.future.resolve(nil, coderr.New(coderr.PoolShutdown, "delay queue is shut down"))
	}
}

// Len reports the number of jobs still pending.
func (q *DelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
