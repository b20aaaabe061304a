package world

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxelcore/server/internal/coderr"
	"github.com/voxelcore/server/internal/module"
	"github.com/voxelcore/server/internal/persistence"
	"github.com/voxelcore/server/internal/scheduler"
	"github.com/voxelcore/server/internal/util"
)

// Generator produces a fresh column's block grid when no persisted data
// exists for it.
type Generator interface {
	Generate(ctx context.Context, coord ColumnCoord, col *Column) error
}

// Populator runs second-pass decoration (structures, entities, anything
// that needs neighboring columns already Generated) over a column.
type Populator interface {
	Populate(ctx context.Context, coord ColumnCoord, col *Column) error
}

// Loader attempts to load a previously-persisted column, reporting the
// state it reached: Unloaded means a clean miss, any other State reports
// how far the persisted data goes, so a column saved fully Populated can
// short-circuit straight to Send() instead of being re-populated
// (original_source/src/world/process.cpp's `goto populated`).
type Loader interface {
	Load(ctx context.Context, coord ColumnCoord, col *Column) (reached State, err error)
}

const binaryNamespace = "columns"

// PersistenceLoader adapts a persistence.Adapter's binary blob namespace
// into a Loader, decompressing with internal/util's zlib helpers.
type PersistenceLoader struct {
	Adapter persistence.Adapter
	MaxSize int
	Decode  func(coord ColumnCoord, raw []byte, col *Column) error
}

// Load decodes a persisted column if one exists. It always reports
// Generated on a hit: the binary namespace this adapter reads from holds
// only block data, not lifecycle state, so it cannot yet distinguish a
// column saved mid-generation from one saved fully Populated. A
// deployment with richer storage can implement Loader directly and
// report Populated to skip re-population on every hit.
func (l *PersistenceLoader) Load(ctx context.Context, coord ColumnCoord, col *Column) (State, error) {
	key := fmt.Sprintf("%d:%d", coord.X, coord.Z)
	compressed, found, err := l.Adapter.GetBinary(ctx, binaryNamespace, key)
	if err != nil || !found {
		return Unloaded, err
	}
	raw, err := util.DecompressColumn(compressed, l.MaxSize)
	if err != nil {
		return Unloaded, err
	}
	if err := l.Decode(coord, raw, col); err != nil {
		return Unloaded, err
	}
	return Generated, nil
}

// BlockSetEvent describes one block mutation in flight: the handle
// performing it, the block id, and its value before and after. A
// Store's CanSet listeners observe it before the write (a veto),
// OnSet listeners after (a notification), mirroring
// original_source/src/world/world_handle.cpp:165's set_impl building a
// BlockSetEvent and consulting world->can_set/world->on_set.
type BlockSetEvent struct {
	Handle *WorldHandle
	ID     BlockID
	Old    Block
	New    Block
}

// Store owns the set of loaded columns and drives each one through its
// lifecycle via Process, the Go translation of
// original_source/src/world/process.cpp's do-while state-machine loop.
type Store struct {
	pool      *scheduler.Pool
	loader    Loader
	generator Generator
	populator Populator

	canSet *module.Event[func(*BlockSetEvent) bool]
	onSet  *module.Event[func(*BlockSetEvent)]

	mu      sync.Mutex
	columns map[ColumnCoord]*Column
}

// NewStore creates an empty store. pool drives the per-column processing
// tasks so "at most one state-advancing task per column" naturally falls
// out of SetState's CAS semantics: a second task racing to process the
// same column simply loses every CAS and returns without doing work.
func NewStore(pool *scheduler.Pool, loader Loader, generator Generator, populator Populator) *Store {
	return &Store{
		pool:      pool,
		loader:    loader,
		generator: generator,
		populator: populator,
		canSet:    module.NewEvent[func(*BlockSetEvent) bool](false),
		onSet:     module.NewEvent[func(*BlockSetEvent)](false),
		columns:   make(map[ColumnCoord]*Column),
	}
}

// OnCanSet registers a veto consulted by WorldHandle.Set before a
// non-forced write; the write is rejected once any subscriber returns
// false (module.FireAnd's short-circuit AND-fold).
func (s *Store) OnCanSet(fn func(*BlockSetEvent) bool) {
	s.canSet.Subscribe(fn)
}

// OnSet registers a listener invoked once a block write actually
// commits.
func (s *Store) OnSet(fn func(*BlockSetEvent)) {
	s.onSet.Subscribe(fn)
}

// GetOrCreate returns the column at coord, creating an Unloaded one (with
// one interest reference already acquired on the caller's behalf) if it
// does not exist yet.
func (s *Store) GetOrCreate(coord ColumnCoord) *Column {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.columns[coord]; ok {
		col.AcquireInterest()
		return col
	}

	// NewColumn's ScopeGuard starts at a reference count of one, which
	// this first caller implicitly owns - no separate AcquireInterest
	// call needed here, unlike the already-exists branch above.
	var col *Column
	col = NewColumn(coord, func() {
		// A dirty column holds writes nothing has persisted, so it stays
		// in the store for the next GetOrCreate instead of being dropped.
		if col.Dirty() {
			return
		}
		s.mu.Lock()
		delete(s.columns, coord)
		s.mu.Unlock()
	})
	s.columns[coord] = col
	return col
}

// Process submits col for processing on the scheduler pool and returns a
// Future resolving once it has advanced through Loading -> ... ->
// Populated (or hit an error). It is idempotent and safe to call
// concurrently from multiple WorldHandle.get_column-equivalent call
// sites: every worker re-checks the column's actual current state via
// SetState's CAS, so a losing task simply stops without side effects.
func (s *Store) Process(ctx context.Context, col *Column) *scheduler.Future {
	return s.pool.Enqueue(func(taskCtx context.Context) (any, error) {
		return nil, s.processColumn(taskCtx, col)
	})
}

func (s *Store) processColumn(ctx context.Context, col *Column) error {
	for {
		curr := col.State()

		switch curr {
		case Unloaded:
			if !col.SetState(Unloaded, Loading, false) {
				continue
			}

		case Loading:
			reached, err := s.loader.Load(ctx, col.Coord, col)
			if err != nil {
				return coderr.Wrap(coderr.Fatal, "loading column", err)
			}
			if reached > Unloaded {
				// A load hit jumps straight to the state the loader
				// reports. If that's already Populated, the next loop
				// iteration falls through to fire Send() exactly as a
				// fresh populate would (process.cpp's `goto populated`).
				if !col.SetState(Loading, reached, false) {
					continue
				}
			} else {
				if !col.SetState(Loading, Generating, false) {
					continue
				}
			}

		case Generating:
			if err := s.generator.Generate(ctx, col.Coord, col); err != nil {
				return coderr.Wrap(coderr.Fatal, "generating column", err)
			}
			if !col.SetState(Generating, Generated, true) {
				continue
			}

		case Generated:
			if !col.SetState(Generated, Populating, false) {
				continue
			}

		case Populating:
			if err := s.populator.Populate(ctx, col.Coord, col); err != nil {
				return coderr.Wrap(coderr.Fatal, "populating column", err)
			}
			if !col.SetState(Populating, Populated, true) {
				continue
			}
			col.Send()
			return nil

		case Populated:
			col.Send()
			return nil
		}
	}
}
