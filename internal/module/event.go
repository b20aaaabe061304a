package module

import "sync"

// FoldMode selects how an Event combines its subscribers' return values.
type FoldMode int

const (
	// FoldNone ignores subscriber return values entirely.
	FoldNone FoldMode = iota
	// FoldAnd combines bool-returning subscribers with logical AND: the
	// event "succeeds" only if every subscriber returns true.
	FoldAnd
	// FoldCollect returns every subscriber's result individually, in
	// subscription order.
	FoldCollect
)

// Event is a typed, priority-unordered fan-out point: F is the
// subscriber function signature, e.g. func(ChatMessage) bool.
type Event[F any] struct {
	mu                sync.RWMutex
	subscribers       []F
	swallowExceptions bool
}

// NewEvent creates an event. If swallowExceptions is true, a panicking
// subscriber is recovered and does not prevent remaining subscribers from
// running; if false, the panic propagates to the caller that fired the
// event (after any subscribers before it have already run).
func NewEvent[F any](swallowExceptions bool) *Event[F] {
	return &Event[F]{swallowExceptions: swallowExceptions}
}

// Subscribe registers fn to be invoked whenever the event fires.
func (e *Event[F]) Subscribe(fn F) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

// snapshot returns a stable copy of the subscriber list to iterate
// without holding the lock across (potentially slow) subscriber calls.
func (e *Event[F]) snapshot() []F {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]F(nil), e.subscribers...)
}

// FireNone invokes every subscriber for its side effects only, ignoring
// any return value.
func FireNone[T any](e *Event[func(T)], arg T) {
	for _, sub := range e.snapshot() {
		callGuarded(e.swallowExceptions, func() { sub(arg) })
	}
}

// FireAnd invokes subscribers in order and AND-folds their bool results,
// short-circuiting on the first false: once a subscriber vetoes, no
// subsequent subscriber runs and the fold result is false. Matches
// original_source/include/event.hpp:229's `if (!func(args...)) return
// false;`.
func FireAnd[T any](e *Event[func(T) bool], arg T) bool {
	for _, sub := range e.snapshot() {
		var out bool
		callGuarded(e.swallowExceptions, func() { out = sub(arg) })
		if !out {
			return false
		}
	}
	return true
}

// FireCollect invokes every subscriber and returns each one's result, in
// subscription order.
func FireCollect[T, R any](e *Event[func(T) R], arg T) []R {
	subs := e.snapshot()
	results := make([]R, len(subs))
	for i, sub := range subs {
		i, sub := i, sub
		callGuarded(e.swallowExceptions, func() { results[i] = sub(arg) })
	}
	return results
}

func callGuarded(swallow bool, fn func()) {
	if !swallow {
		fn()
		return
	}
	defer func() { recover() }()
	fn()
}
