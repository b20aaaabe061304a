// Package world implements the column-addressed block grid [WORLD]: a
// per-column state machine (Unloaded -> Loading -> Generating ->
// Generated -> Populating -> Populated, with a load that hits an
// already-populated column short-circuiting straight to Populated), a
// world store keyed by column coordinate, and access/write strategies
// for reading and mutating blocks through a WorldHandle. The state
// machine is translated from original_source/src/world/process.cpp;
// registries are grounded on the teacher's world.go/region.go
// (sync.Map-backed registries, atomic state).
package world

import (
	"sync"
	"sync/atomic"

	"github.com/voxelcore/server/internal/util"
	"github.com/voxelcore/server/internal/worldlock"
)

// State is a column's lifecycle stage.
type State int32

const (
	Unloaded State = iota
	Loading
	Generating
	Generated
	Populating
	Populated
)

// BlockID addresses a single block within a column's 3D grid.
type BlockID struct {
	X, Y, Z int32
}

// ColumnCoord identifies a column. Alias of worldlock.ColumnCoord so the
// world store and the world lock address columns identically.
type ColumnCoord = worldlock.ColumnCoord

// Block is an opaque per-position value; the core treats it as an
// identifier plus metadata byte, leaving the concrete block catalog to
// the deployment.
type Block struct {
	TypeID   uint16
	Metadata byte
}

// Column holds one column's block grid plus its lifecycle state. All
// state transitions go through SetState, which uses a CAS-retry loop so
// at most one goroutine ever wins the race to advance a column from a
// given (state, dirty) pair - the same invariant the original column
// processing loop enforces with its `while (!column.SetState(...))` retry.
type Column struct {
	Coord ColumnCoord

	blocksMu sync.RWMutex
	blocks   map[BlockID]Block

	state int32 // atomic, holds a State
	dirty int32 // atomic, 0/1

	interest *util.ScopeGuard

	waitersMu sync.Mutex
	waiters   map[State][]chan struct{}

	onPopulated []func(*Column)
}

// NewColumn creates an Unloaded column with no blocks and no interest.
func NewColumn(coord ColumnCoord, onUnload func()) *Column {
	c := &Column{
		Coord:   coord,
		blocks:  make(map[BlockID]Block),
		waiters: make(map[State][]chan struct{}),
	}
	c.interest = util.NewScopeGuard(nil, onUnload)
	return c
}

// State returns the column's current lifecycle stage.
func (c *Column) State() State {
	return State(atomic.LoadInt32(&c.state))
}

// Dirty reports whether the column has unsaved changes.
func (c *Column) Dirty() bool {
	return atomic.LoadInt32(&c.dirty) != 0
}

// SetState attempts to advance the column from want to next, setting its
// dirty flag to dirty on success. It returns false (changing nothing) if
// the column's current state no longer matches want - the CAS-retry
// primitive the column-processing loop in store.go spins on, so at most
// one goroutine ever wins a given transition.
func (c *Column) SetState(want, next State, dirty bool) bool {
	if !atomic.CompareAndSwapInt32(&c.state, int32(want), int32(next)) {
		return false
	}
	nextDirty := int32(0)
	if dirty {
		nextDirty = 1
	}
	atomic.StoreInt32(&c.dirty, nextDirty)
	c.wake(next)
	return true
}

// GetBlock reads a single block. Concurrency-safe with SetBlock.
func (c *Column) GetBlock(id BlockID) Block {
	c.blocksMu.RLock()
	defer c.blocksMu.RUnlock()
	return c.blocks[id]
}

// SetBlock writes a single block and marks the column dirty.
func (c *Column) SetBlock(id BlockID, b Block) {
	c.blocksMu.Lock()
	c.blocks[id] = b
	c.blocksMu.Unlock()
	atomic.StoreInt32(&c.dirty, 1)
}

// WaitUntil blocks until the column's state is at least target, returning
// immediately if it already is. Reaching target is someone else's job:
// Store.Process is what actually drives a column forward, WaitUntil only
// observes the transition and unblocks once it happens.
func (c *Column) WaitUntil(target State) {
	if c.State() >= target {
		return
	}

	ch := make(chan struct{})
	c.waitersMu.Lock()
	c.waiters[target] = append(c.waiters[target], ch)
	c.waitersMu.Unlock()

	if c.State() >= target {
		return
	}
	<-ch
}

// wake closes every waiter channel registered for a state now satisfied
// by reached, broadcasting the transition the way the original engine's
// condition-variable notify does.
func (c *Column) wake(reached State) {
	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()
	for target, chans := range c.waiters {
		if reached >= target {
			for _, ch := range chans {
				close(ch)
			}
			delete(c.waiters, target)
		}
	}
}

// Send invokes every callback registered via OnPopulated. It fires both
// when a column is freshly populated and when a load hits a column that
// was already Populated (store.go's process loop calls Send() on both
// paths, matching original_source/src/world/process.cpp's `populated:`
// label being reachable from either branch).
func (c *Column) Send() {
	c.waitersMu.Lock()
	var callbacks []func(*Column)
	callbacks = append(callbacks, c.onPopulated...)
	c.waitersMu.Unlock()
	for _, cb := range callbacks {
		cb(c)
	}
}

// OnPopulated registers a callback invoked by Send.
func (c *Column) OnPopulated(cb func(*Column)) {
	c.waitersMu.Lock()
	c.onPopulated = append(c.onPopulated, cb)
	c.waitersMu.Unlock()
}

// AcquireInterest adds one reference to the column's interest guard,
// keeping it loaded.
func (c *Column) AcquireInterest() {
	c.interest.Acquire()
}

// ReleaseInterest drops one reference; once it reaches zero the column's
// onUnload callback fires.
func (c *Column) ReleaseInterest() {
	c.interest.Release()
}
