package worldlock

import (
	"context"
	"sync"

	"github.com/voxelcore/server/internal/coderr"
)

// Handle is the opaque token returned by Acquire; pass it to Release or
// Upgrade. It plays the role of the `const void *` identity the original
// engine hands back, except here it also carries the wait channel a
// blocked caller parks on until the scheduler grants the request.
type Handle struct {
	request *Request
	granted chan struct{}
}

// Lock is a range-based multi-reader/multi-writer lock over world
// columns. Requests that would contend with any held or earlier-pending
// request queue in FIFO order; Upgrade re-queues at the front of pending
// when it cannot be granted immediately, matching the original engine.
type Lock struct {
	mu      sync.Mutex
	held    []*Handle
	pending []*Handle
}

// New creates an empty lock.
func New() *Lock {
	return &Lock{}
}

// Acquire blocks until request can be granted (i.e. it contends with no
// held or pending request), then returns a Handle. If ctx is cancelled
// while waiting, the request is removed from pending and ctx.Err() is
// returned.
func (l *Lock) Acquire(ctx context.Context, request *Request) (*Handle, error) {
	h := &Handle{request: request, granted: make(chan struct{})}

	l.mu.Lock()
	canAcquire := true
	for _, held := range l.held {
		if held.request.DoesContendWith(request) {
			canAcquire = false
			break
		}
	}
	if canAcquire {
		for _, pend := range l.pending {
			if pend.request.DoesContendWith(request) {
				canAcquire = false
				break
			}
		}
	}

	if canAcquire {
		l.held = append(l.held, h)
		l.mu.Unlock()
		return h, nil
	}

	l.pending = append(l.pending, h)
	l.mu.Unlock()

	select {
	case <-h.granted:
		return h, nil
	case <-ctx.Done():
		l.cancelPending(h)
		return nil, ctx.Err()
	}
}

// TryAcquire attempts a non-blocking acquire: it returns a Contention
// error instead of waiting if request contends with anything held or
// pending.
func (l *Lock) TryAcquire(request *Request) (*Handle, error) {
	h := &Handle{request: request, granted: make(chan struct{})}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, held := range l.held {
		if held.request.DoesContendWith(request) {
			return nil, coderr.New(coderr.Contention, "request contends with a held lock")
		}
	}
	for _, pend := range l.pending {
		if pend.request.DoesContendWith(request) {
			return nil, coderr.New(coderr.Contention, "request contends with a pending lock")
		}
	}

	l.held = append(l.held, h)
	close(h.granted)
	return h, nil
}

func (l *Lock) cancelPending(h *Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, pend := range l.pending {
		if pend == h {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			return
		}
	}
}

// Release gives up a held lock and promotes any pending requests that can
// now be granted, walking pending in order so earlier requests are never
// starved by later ones (the same two-phase scan - against held locks,
// then against earlier pending locks - as the original release()).
func (l *Lock) Release(h *Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()

	found := -1
	for i, held := range l.held {
		if held == h {
			found = i
			break
		}
	}
	if found == -1 {
		return
	}
	l.held = append(l.held[:found], l.held[found+1:]...)

	l.promotePending()
}

// promotePending must be called with l.mu held.
func (l *Lock) promotePending() {
	for i := 0; i < len(l.pending); {
		candidate := l.pending[i]

		canAcquire := true
		for _, held := range l.held {
			if held.request.DoesContendWith(candidate.request) {
				canAcquire = false
				break
			}
		}
		if canAcquire {
			for n := 0; n < i; n++ {
				if l.pending[n].request.DoesContendWith(candidate.request) {
					canAcquire = false
					break
				}
			}
		}
		if !canAcquire {
			i++
			continue
		}

		l.pending = append(l.pending[:i], l.pending[i+1:]...)
		l.held = append(l.held, candidate)
		close(candidate.granted)
		// Do not advance i: the slice shifted left under us.
	}
}

// Upgrade widens an already-held request's read/write sets in place. If
// the widened request still does not contend with anything else held, it
// is granted immediately; otherwise it is moved out of held and re-queued
// at the FRONT of pending (not the back), so an upgrade that cannot
// proceed at once does not lose its place to newer, unrelated requests -
// this is a deliberate property of the original algorithm, not FIFO
// fairness being violated by accident.
func (l *Lock) Upgrade(ctx context.Context, h *Handle, widen *Request) error {
	l.mu.Lock()

	found := -1
	for i, held := range l.held {
		if held == h {
			found = i
			break
		}
	}
	if found == -1 {
		l.mu.Unlock()
		return coderr.New(coderr.NotFound, "handle is not currently held")
	}

	h.request.Merge(widen)

	canAcquire := true
	for i, held := range l.held {
		if i == found {
			continue
		}
		if held.request.DoesContendWith(h.request) {
			canAcquire = false
			break
		}
	}

	if canAcquire {
		l.mu.Unlock()
		return nil
	}

	l.held = append(l.held[:found], l.held[found+1:]...)
	h.granted = make(chan struct{})
	l.pending = append([]*Handle{h}, l.pending...)
	l.mu.Unlock()

	select {
	case <-h.granted:
		return nil
	case <-ctx.Done():
		l.cancelPending(h)
		return ctx.Err()
	}
}

// Request returns the handle's current (possibly widened) request.
func (h *Handle) Request() *Request {
	return h.request
}
