package world

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/voxelcore/server/internal/coderr"
	"github.com/voxelcore/server/internal/module"
	"github.com/voxelcore/server/internal/worldlock"
)

// AccessStrategy names how far a requested column must have progressed
// before WorldHandle hands it back, translated from world_handle.cpp's
// BlockAccessStrategy enum.
type AccessStrategy int

const (
	// Load returns the column as soon as it exists, whatever state it is
	// in - the caller only wants a handle, not guaranteed block data.
	Load AccessStrategy = iota
	// LoadGenerated waits for the column to be loaded or generated, but
	// not necessarily populated.
	LoadGenerated
	// Generate forces generation if the column is still Unloaded/Loading,
	// waiting until it reaches at least Generated.
	Generate
	// Populate forces the column through to Populated.
	Populate
	// GeneratedOnly requires at least Generated without forcing anything;
	// GetColumn returns (nil, nil) at once if the column is not there yet.
	GeneratedOnly
	// PopulatedAccess requires Populated without forcing anything;
	// GetColumn returns (nil, nil) at once if the column is not there yet.
	PopulatedAccess
)

func (a AccessStrategy) targetState() State {
	switch a {
	case Load:
		return Unloaded
	case LoadGenerated, Generate, GeneratedOnly:
		return Generated
	case Populate, PopulatedAccess:
		return Populated
	default:
		return Unloaded
	}
}

// WriteStrategy controls how SetBlock-style mutations are grouped,
// translated from world_handle.cpp's BlockWriteStrategy.
type WriteStrategy int

const (
	// PerBlock applies each write as soon as it is issued.
	PerBlock WriteStrategy = iota
	// Transactional is accepted and stored by NewWorldHandle, but Set
	// treats it exactly like PerBlock: each Set takes and releases the
	// column's world lock on its own, and writes are neither batched nor
	// deferred (there is no Flush).
	Transactional
)

// WorldHandle is the per-caller entry point into the world store: it
// resolves a column coordinate to a *Column at the requested
// AccessStrategy, forcing it through the Store's processing pipeline as
// needed, and exposes Get/Set for block access. Grounded on
// original_source/src/world/world_handle.cpp's get_column/get_column_impl
// and Set/Get. A WorldHandle belongs to one caller (one connection, one
// background task) and is not meant to be shared across goroutines - like
// the original engine's handle, it tracks at most one outstanding lock per
// coordinate at a time.
type WorldHandle struct {
	store *Store
	lock  *worldlock.Lock
	write WriteStrategy

	populateDepth int32 // atomic

	mu      sync.Mutex
	handles map[ColumnCoord]*worldlock.Handle
}

// NewWorldHandle creates a handle bound to store and lock, with the given
// default write strategy.
func NewWorldHandle(store *Store, lock *worldlock.Lock, write WriteStrategy) *WorldHandle {
	return &WorldHandle{
		store:   store,
		lock:    lock,
		write:   write,
		handles: make(map[ColumnCoord]*worldlock.Handle),
	}
}

// BeginPopulate marks the handle as being inside a populate callback.
// While the depth counter is non-zero, GetColumn demotes a Populate
// request down to Generated: a populator reaching into a neighboring
// column that is itself still populating would otherwise deadlock
// waiting on a state its own caller is blocked advancing.
// Mirrors world_handle.cpp's populate-depth guard in get_column_impl.
func (h *WorldHandle) BeginPopulate() {
	atomic.AddInt32(&h.populateDepth, 1)
}

// EndPopulate reverses BeginPopulate.
func (h *WorldHandle) EndPopulate() {
	atomic.AddInt32(&h.populateDepth, -1)
}

// GetColumn resolves coord to a column that has reached strategy's
// target state, acquiring the world lock for the column's coordinate
// (write lock if forWrite, read lock otherwise) and driving the store's
// processing pipeline until the target is reached - unless strategy is
// observer-only (GeneratedOnly/PopulatedAccess), in which case it never
// advances the column and returns (nil, nil) if the target isn't already
// met.
func (h *WorldHandle) GetColumn(ctx context.Context, coord ColumnCoord, strategy AccessStrategy, forWrite bool) (*Column, error) {
	effective := strategy
	if atomic.LoadInt32(&h.populateDepth) > 0 && strategy == Populate {
		effective = GeneratedOnly
	}

	col := h.store.GetOrCreate(coord)

	req := worldlock.NewRequest()
	if forWrite {
		req.WithWrite(coord)
	} else {
		req.WithRead(coord)
	}

	lh, err := h.lock.Acquire(ctx, req)
	if err != nil {
		col.ReleaseInterest()
		return nil, coderr.Wrap(coderr.Contention, "acquiring world lock", err)
	}
	h.mu.Lock()
	h.handles[coord] = lh
	h.mu.Unlock()

	target := effective.targetState()

	if effective == GeneratedOnly || effective == PopulatedAccess {
		// Observer strategies never force advancement (spec §4.7): a
		// column not already at target is reported as absent rather than
		// driven forward, mirroring get_column's create=false branch for
		// BlockAccessStrategy::Generated/Populated.
		if col.State() < target {
			h.ReleaseColumn(coord, col)
			return nil, nil
		}
		return col, nil
	}

	for col.State() < target {
		future := h.store.Process(ctx, col)
		if _, err := future.Wait(ctx); err != nil {
			h.releaseLock(coord)
			col.ReleaseInterest()
			return nil, err
		}
	}

	return col, nil
}

// ReleaseColumn releases the world lock held for coord and drops the
// caller's interest reference, allowing the column to unload once no one
// else holds interest in it.
func (h *WorldHandle) ReleaseColumn(coord ColumnCoord, col *Column) {
	h.releaseLock(coord)
	col.ReleaseInterest()
}

func (h *WorldHandle) releaseLock(coord ColumnCoord) {
	h.mu.Lock()
	lh, ok := h.handles[coord]
	if ok {
		delete(h.handles, coord)
	}
	h.mu.Unlock()
	if ok {
		h.lock.Release(lh)
	}
}

// Get reads a single block, forcing the owning column through strategy
// first. It fails with coderr.NotFound if strategy is observer-only
// (GeneratedOnly/PopulatedAccess) and the column has not already reached
// that state.
func (h *WorldHandle) Get(ctx context.Context, id BlockID, coord ColumnCoord, strategy AccessStrategy) (Block, error) {
	col, err := h.GetColumn(ctx, coord, strategy, false)
	if err != nil {
		return Block{}, err
	}
	if col == nil {
		return Block{}, coderr.New(coderr.NotFound, "column not yet at requested access state")
	}
	defer h.ReleaseColumn(coord, col)
	return col.GetBlock(id), nil
}

// Set writes a single block, forcing the owning column to Populated
// first and taking the world lock for write. This is the five-step
// block-set flow of spec §4.7, grounded on
// original_source/src/world/world_handle.cpp:165's set_impl: build a
// BlockSetEvent, honor force||can_set (returning false without mutating
// on veto), write the block, then fire on_set listeners. The returned
// bool reports whether the write actually happened.
func (h *WorldHandle) Set(ctx context.Context, id BlockID, coord ColumnCoord, b Block, force bool) (bool, error) {
	col, err := h.GetColumn(ctx, coord, Populate, true)
	if err != nil {
		return false, err
	}
	if col == nil {
		return false, coderr.New(coderr.NotFound, "column not yet at requested access state")
	}
	defer h.ReleaseColumn(coord, col)

	event := &BlockSetEvent{
		Handle: h,
		ID:     id,
		Old:    col.GetBlock(id),
		New:    b,
	}

	if !force && !module.FireAnd(h.store.canSet, event) {
		return false, nil
	}

	col.SetBlock(id, b)
	module.FireNone(h.store.onSet, event)
	return true, nil
}
