package celldb

import (
	"fmt"
	"runtime"
	"time"

	"github.com/cellardb/cellar/pkg/kv"
	"github.com/cellardb/cellar/pkg/log"
	"github.com/cellardb/cellar/pkg/metrics"
	"github.com/cellardb/cellar/pkg/types"
)

// StateGCResolver decides whether a stored shard state may be collected.
// The default implementation refuses while the producing block's
// gen_utime + ttl has not passed.
type StateGCResolver interface {
	AllowStateGC(blockID types.BlockIdExt, gcUtime uint32) (bool, error)
}

// StateGCResolverFunc adapts a function to the StateGCResolver interface
type StateGCResolverFunc func(blockID types.BlockIdExt, gcUtime uint32) (bool, error)

func (f StateGCResolverFunc) AllowStateGC(blockID types.BlockIdExt, gcUtime uint32) (bool, error) {
	return f(blockID, gcUtime)
}

// DefaultStateTTL is how long a shard state outlives its block's gen_utime
const DefaultStateTTL = 24 * 3600

// GC removes cell subtrees whose shard states are old enough, using
// mark-and-sweep over the shard-state index: live roots are stamped with a
// fresh generation, then dead subtrees are deleted through one batch so
// readers never observe a partially swept DAG.
type GC struct {
	states   *StateDb
	resolver StateGCResolver
	logger   log.Logger
}

// NewGC creates a collector over the given shard-state store
func NewGC(states *StateDb, resolver StateGCResolver) *GC {
	return &GC{
		states:   states,
		resolver: resolver,
		logger:   log.Component("gc"),
	}
}

type sweepTarget struct {
	blockKey []byte
	cellID   types.CellId
}

// Collect runs one garbage collection pass and returns the number of cell
// records deleted.
func (g *GC) Collect() (int, error) {
	start := time.Now()
	gcGen := g.states.boc.newGCGeneration()
	gcUtime := uint32(time.Now().Unix())

	marked, toSweep, err := g.mark(gcGen, gcUtime)
	if err != nil {
		return 0, err
	}

	deleted, err := g.sweep(toSweep, gcGen)

	// The marked roots must outlive the sweep commit: dropping them earlier
	// would let their subtrees leave the cache mid-sweep and lose the
	// generation stamps protecting shared cells.
	runtime.KeepAlive(marked)

	if err != nil {
		return 0, err
	}

	metrics.GCRuns.Inc()
	metrics.CellsSwept.Add(float64(deleted))
	metrics.GCDuration.Observe(time.Since(start).Seconds())

	g.logger.Debug().
		Uint32("generation", gcGen).
		Int("deleted", deleted).
		Int("states_swept", len(toSweep)).
		Dur("elapsed", time.Since(start)).
		Msg("collection finished")

	return deleted, nil
}

// mark classifies every shard-state entry as live or dead, then stamps each
// live root's reachable subtree with the new generation. The mark phase is
// skipped entirely when nothing is dead.
func (g *GC) mark(gcGen uint32, gcUtime uint32) ([]*StorageCell, []sweepTarget, error) {
	type indexed struct {
		blockKey []byte
		entry    StateEntry
	}

	// Collect first: classification reads other tables and must not run
	// inside the index store's iteration transaction.
	var states []indexed
	err := g.states.index.ForEach(func(key, value []byte) (bool, error) {
		entry, err := DeserializeStateEntry(value)
		if err != nil {
			return false, err
		}
		blockKey := make([]byte, len(key))
		copy(blockKey, key)
		states = append(states, indexed{blockKey: blockKey, entry: entry})
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}

	var toMark []types.CellId
	var toSweep []sweepTarget
	for _, state := range states {
		allow := false
		if !g.states.boc.cells.alive(state.entry.CellID) {
			allow, err = g.resolver.AllowStateGC(state.entry.BlockID, gcUtime)
			if err != nil {
				return nil, nil, err
			}
		}

		if allow {
			toSweep = append(toSweep, sweepTarget{blockKey: state.blockKey, cellID: state.entry.CellID})
		} else {
			toMark = append(toMark, state.entry.CellID)
		}
	}

	var marked []*StorageCell
	if len(toSweep) > 0 {
		for _, cellID := range toMark {
			root, err := g.states.boc.LoadCell(cellID)
			if err != nil {
				return nil, nil, fmt.Errorf("loading live root %s: %w", cellID, err)
			}
			if err := g.markSubtree(root, gcGen); err != nil {
				return nil, nil, err
			}
			marked = append(marked, root)
		}
	}

	return marked, toSweep, nil
}

func (g *GC) markSubtree(root *StorageCell, gcGen uint32) error {
	if root.gcGen.Load() >= gcGen {
		return nil
	}
	root.gcGen.Store(gcGen)

	for i := 0; i < root.RefsCount(); i++ {
		child, err := root.reference(i)
		if err != nil {
			return err
		}
		if err := g.markSubtree(child, gcGen); err != nil {
			return err
		}
	}
	return nil
}

// sweep deletes every cell of each dead subtree whose generation is behind
// the current one, batching the deletes into a single transaction. The
// shard-state index entry goes through the index store, not the batch.
func (g *GC) sweep(toSweep []sweepTarget, gcGen uint32) (int, error) {
	if len(toSweep) == 0 {
		return 0, nil
	}

	batch, err := g.states.boc.db.Begin()
	if err != nil {
		return 0, err
	}

	visited := make(map[types.CellId]struct{})
	for _, target := range toSweep {
		root, err := g.states.boc.LoadCell(target.cellID)
		if err != nil {
			return 0, fmt.Errorf("loading dead root %s: %w", target.cellID, err)
		}
		if err := g.sweepCells(batch, root, gcGen, visited); err != nil {
			return 0, err
		}
		if err := g.states.index.Delete(target.blockKey); err != nil {
			return 0, err
		}
	}

	deleted := batch.Len()
	if err := batch.Commit(); err != nil {
		return 0, fmt.Errorf("committing sweep batch: %w", err)
	}

	return deleted, nil
}

func (g *GC) sweepCells(batch kv.Batch, root *StorageCell, gcGen uint32, visited map[types.CellId]struct{}) error {
	if root.gcGen.Load() >= gcGen {
		return nil
	}
	if _, ok := visited[root.ID()]; ok {
		return nil
	}
	visited[root.ID()] = struct{}{}

	for i := 0; i < root.RefsCount(); i++ {
		child, err := root.reference(i)
		if err != nil {
			return err
		}
		if err := g.sweepCells(batch, child, gcGen, visited); err != nil {
			return err
		}
	}

	if root.gcGen.Load() < gcGen {
		return batch.Delete(root.ID().Key())
	}
	return nil
}
