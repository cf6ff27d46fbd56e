package celldb

import (
	"bytes"
	"fmt"

	"github.com/cellardb/cellar/pkg/kv"
	"github.com/cellardb/cellar/pkg/types"
)

// CellDb persists one cell record per content hash. All writes go through
// batches so a multi-cell save commits atomically; streaming puts would
// leave dangling references after a partial save.
type CellDb struct {
	db kv.Store
}

// NewCellDb wraps a key-value store as a cell database
func NewCellDb(db kv.Store) *CellDb {
	return &CellDb{db: db}
}

// Store returns the underlying key-value store
func (c *CellDb) Store() kv.Store {
	return c.db
}

// Has reports whether a cell record exists for the id. This is the
// membership test the diff writer uses for duplicate-subtree suppression:
// it consults the persistent store, never only the cache.
func (c *CellDb) Has(id types.CellId) (bool, error) {
	return c.db.Has(id.Key())
}

// GetCell reads and deserializes the cell record for the id
func (c *CellDb) GetCell(id types.CellId, boc *BocDb) (*StorageCell, error) {
	data, err := c.db.Get(id.Key())
	if err != nil {
		return nil, fmt.Errorf("cell %s: %w", id, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("cell %s: empty record", id)
	}
	return deserializeStorageCell(bytes.NewReader(data), boc)
}

// Begin opens a new write batch against the cell database
func (c *CellDb) Begin() (kv.Batch, error) {
	return c.db.Begin()
}

// PutCell adds the serialized cell record to the batch
func PutCell(batch kv.Batch, id types.CellId, sc *StorageCell) error {
	var buf bytes.Buffer
	if err := sc.Serialize(&buf); err != nil {
		return err
	}
	if buf.Len() == 0 {
		return fmt.Errorf("cell %s: serialized to empty record", id)
	}
	return batch.Put(id.Key(), buf.Bytes())
}
