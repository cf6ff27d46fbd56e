package celldb

import (
	"runtime"
	"sync"
	"weak"

	"github.com/cellardb/cellar/pkg/types"
)

// cellCache is the process-wide map from cell hash to a weakly-held
// in-memory cell. The cache never holds strong references: liveness is
// entirely reader-driven. Every live StorageCell has exactly one entry;
// entries whose weak pointer is dead are replaced on the next miss and
// removed by the cell's cleanup when it is collected.
type cellCache struct {
	mu sync.Mutex
	m  map[types.CellId]weak.Pointer[StorageCell]
}

func newCellCache() *cellCache {
	return &cellCache{m: make(map[types.CellId]weak.Pointer[StorageCell])}
}

// get upgrades the weak entry for id. Returns nil on a miss or a dead entry.
func (c *cellCache) get(id types.CellId) *StorageCell {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.m[id]; ok {
		if sc := p.Value(); sc != nil {
			return sc
		}
		// Dead entry: the next install overwrites it, the cleanup removes it.
	}
	return nil
}

// alive reports whether a live in-memory cell exists for id
func (c *cellCache) alive(id types.CellId) bool {
	return c.get(id) != nil
}

// install stores a weak entry for the cell, overwriting any dead entry, and
// arranges for the entry to be removed once the cell is collected.
func (c *cellCache) install(id types.CellId, sc *StorageCell) {
	c.mu.Lock()
	c.m[id] = weak.Make(sc)
	c.mu.Unlock()

	runtime.AddCleanup(sc, func(id types.CellId) { c.evict(id) }, id)
}

// evict removes the entry for id if its weak pointer can no longer be
// upgraded. A live entry is left alone: a fresh cell may have replaced the
// collected one.
func (c *cellCache) evict(id types.CellId) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.m[id]; ok && p.Value() == nil {
		delete(c.m, id)
	}
}

// len returns the number of entries, dead ones included
func (c *cellCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
