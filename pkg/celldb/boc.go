package celldb

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/cellardb/cellar/pkg/cell"
	"github.com/cellardb/cellar/pkg/kv"
	"github.com/cellardb/cellar/pkg/log"
	"github.com/cellardb/cellar/pkg/metrics"
	"github.com/cellardb/cellar/pkg/types"
)

// BocDb is the dynamic bag-of-cells store: it saves and loads cell DAGs
// over the cell database, shares in-memory cells through the weak cache and
// resolves references lazily.
type BocDb struct {
	db    *CellDb
	cells *cellCache
	gcGen atomic.Uint32

	loading singleflight.Group
	logger  log.Logger
}

// NewBocDb creates a dynamic BOC store over the given key-value store
func NewBocDb(store kv.Store) *BocDb {
	return &BocDb{
		db:     NewCellDb(store),
		cells:  newCellCache(),
		logger: log.Component("celldb"),
	}
}

// CellDb returns the underlying cell database
func (b *BocDb) CellDb() *CellDb {
	return b.db
}

// SaveAsDynamicBoc traverses the DAG from root and writes every cell not
// already present in the cell database through a diff writer: a batch that
// commits atomically after the traversal. It returns the root in storage
// form and the number of cells actually written; saving the same DAG twice
// writes the second time zero cells.
func (b *BocDb) SaveAsDynamicBoc(root cell.Cell) (cell.Cell, int, error) {
	gcGen := b.generation()

	var added []*StorageCell
	ref, err := b.addTree(root, gcGen, &added)
	if err != nil {
		return nil, 0, err
	}

	rootCell := ref.cell
	if rootCell == nil {
		// Root already on disk: wrap it with unloaded references.
		rootCell, err = newStorageCellFromCell(root, b, gcGen)
		if err != nil {
			return nil, 0, err
		}
	}

	batch, err := b.db.Begin()
	if err != nil {
		return nil, 0, err
	}
	for _, sc := range added {
		if err := PutCell(batch, sc.ID(), sc); err != nil {
			return nil, 0, err
		}
	}
	written := batch.Len()
	if err := batch.Commit(); err != nil {
		return nil, 0, fmt.Errorf("committing cell batch: %w", err)
	}

	metrics.CellsWritten.Add(float64(written))
	b.logger.Cell(root.ReprHash()).Debug().
		Int("written", written).
		Msg("saved dynamic boc")

	return rootCell, written, nil
}

// addTree walks the DAG bottom-up, returning a loaded reference for cells
// that must be (or already are) materialized and an unloaded reference for
// subtrees already present in the persistent store.
func (b *BocDb) addTree(c cell.Cell, gcGen uint32, added *[]*StorageCell) (reference, error) {
	id := c.ReprHash()

	if sc := b.cells.get(id); sc != nil {
		sc.markGcGen(b.generation())
		return reference{hash: id, cell: sc}, nil
	}

	ok, err := b.db.Has(id)
	if err != nil {
		return reference{}, err
	}
	if ok {
		return reference{hash: id}, nil
	}

	refs := make([]reference, c.RefsCount())
	for i := range refs {
		child, err := c.Reference(i)
		if err != nil {
			return reference{}, err
		}
		refs[i], err = b.addTree(child, gcGen, added)
		if err != nil {
			return reference{}, err
		}
	}

	data, err := cell.DataOf(c)
	if err != nil {
		return reference{}, err
	}
	sc := newStorageCell(data, refs, b, gcGen)
	b.cells.install(id, sc)
	*added = append(*added, sc)

	return reference{hash: id, cell: sc}, nil
}

// LoadDynamicBoc returns the root cell for the id with references resolved
// lazily on access.
func (b *BocDb) LoadDynamicBoc(id types.CellId) (cell.Cell, error) {
	sc, err := b.LoadCell(id)
	if err != nil {
		return nil, err
	}

	sc.gcGen.CompareAndSwap(0, b.generation())
	return sc, nil
}

// LoadCell returns the shared in-memory cell for the id: a cache hit via an
// upgradeable weak entry, or a fresh read from the cell database installed
// into the cache. Concurrent loads of the same id materialize once.
func (b *BocDb) LoadCell(id types.CellId) (*StorageCell, error) {
	if sc := b.cells.get(id); sc != nil {
		metrics.CellCacheHits.Inc()
		return sc, nil
	}

	v, err, _ := b.loading.Do(string(id.Key()), func() (any, error) {
		if sc := b.cells.get(id); sc != nil {
			metrics.CellCacheHits.Inc()
			return sc, nil
		}

		sc, err := b.db.GetCell(id, b)
		if err != nil {
			return nil, err
		}
		b.cells.install(id, sc)
		metrics.CellsLoaded.Inc()
		return sc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*StorageCell), nil
}

// CachedCells returns the current cache entry count, dead entries included
func (b *BocDb) CachedCells() int {
	return b.cells.len()
}

// generation returns the current GC generation
func (b *BocDb) generation() uint32 {
	return b.gcGen.Load()
}

// newGCGeneration allocates the next GC generation
func (b *BocDb) newGCGeneration() uint32 {
	gen := b.gcGen.Add(1)
	if gen == 0 {
		panic("gc generation overflow")
	}
	return gen
}
