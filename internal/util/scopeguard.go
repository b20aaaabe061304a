package util

import "sync/atomic"

// ScopeGuard is a reference-counted callback holder: it fires each once
// every time a reference is released, and all once its refcount reaches
// zero. Grounded on the original engine's MultiScopeGuard; used by the
// world store to track the number of clients interested in a loaded
// column so it can be unloaded once nobody holds a reference anymore.
type ScopeGuard struct {
	count int64
	each  func()
	all   func()
}

// NewScopeGuard creates a guard starting at one reference. each is invoked
// (if non-nil) on every Release; all is invoked (if non-nil) on the
// Release that drops the count to zero.
func NewScopeGuard(each, all func()) *ScopeGuard {
	return &ScopeGuard{count: 1, each: each, all: all}
}

// Acquire adds one reference.
func (g *ScopeGuard) Acquire() {
	atomic.AddInt64(&g.count, 1)
}

// Release removes one reference, returning true if this call dropped the
// count to zero (and thus ran the "all" callback).
func (g *ScopeGuard) Release() bool {
	if g.each != nil {
		g.each()
	}
	n := atomic.AddInt64(&g.count, -1)
	if n < 0 {
		panic("util: ScopeGuard released more times than acquired")
	}
	if n == 0 {
		if g.all != nil {
			g.all()
		}
		return true
	}
	return false
}

// Count returns the current reference count.
func (g *ScopeGuard) Count() int64 {
	return atomic.LoadInt64(&g.count)
}
