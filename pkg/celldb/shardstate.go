package celldb

import (
	"bytes"
	"fmt"
	"io"

	"github.com/cellardb/cellar/pkg/cell"
	"github.com/cellardb/cellar/pkg/kv"
	"github.com/cellardb/cellar/pkg/log"
	"github.com/cellardb/cellar/pkg/metrics"
	"github.com/cellardb/cellar/pkg/types"
)

// StateEntry is one shard-state index record: the state's root cell id and
// the block that produced the state.
type StateEntry struct {
	CellID  types.CellId
	BlockID types.BlockIdExt
}

// Serialize returns the fixed little-endian blob form of the entry
func (e StateEntry) Serialize() []byte {
	var buf bytes.Buffer
	buf.Write(e.CellID[:])
	// Serialize into a buffer never fails
	_ = e.BlockID.Serialize(&buf)
	return buf.Bytes()
}

// DeserializeStateEntry parses the blob form written by Serialize
func DeserializeStateEntry(data []byte) (StateEntry, error) {
	r := bytes.NewReader(data)

	var e StateEntry
	if _, err := io.ReadFull(r, e.CellID[:]); err != nil {
		return StateEntry{}, fmt.Errorf("state entry: %w", err)
	}
	blockID, err := types.DeserializeBlockIdExt(r)
	if err != nil {
		return StateEntry{}, fmt.Errorf("state entry: %w", err)
	}
	e.BlockID = blockID
	return e, nil
}

// StateDb stores shard states: each state's cell DAG goes into the dynamic
// BOC store and an index entry maps the block to its state root.
type StateDb struct {
	index  kv.Store
	boc    *BocDb
	logger log.Logger
}

// NewStateDb creates a shard-state store over the given index and cell
// key-value stores.
func NewStateDb(index, cells kv.Store) *StateDb {
	return &StateDb{
		index:  index,
		boc:    NewBocDb(cells),
		logger: log.Component("shardstate"),
	}
}

// BocDb returns the dynamic BOC store holding the state cells
func (s *StateDb) BocDb() *BocDb {
	return s.boc
}

// Index returns the shard-state index store
func (s *StateDb) Index() kv.Store {
	return s.index
}

// Put stores the cells of the state rooted at root which are not yet in
// storage and records the index entry for the block. The returned cell is
// the storage form of the root, so the caller may drop the original tree.
func (s *StateDb) Put(id types.BlockIdExt, root cell.Cell) (cell.Cell, error) {
	rootCell, written, err := s.boc.SaveAsDynamicBoc(root)
	if err != nil {
		return nil, err
	}

	entry := StateEntry{CellID: root.ReprHash(), BlockID: id}
	if err := s.index.Put(id.Key(), entry.Serialize()); err != nil {
		return nil, fmt.Errorf("writing state index for %s: %w", id, err)
	}

	metrics.StatesStored.Inc()
	s.logger.Block(id).Debug().
		Int("cells_written", written).
		Msg("stored shard state")

	return rootCell, nil
}

// Get loads the previously stored state root for the block
func (s *StateDb) Get(id types.BlockIdExt) (cell.Cell, error) {
	data, err := s.index.Get(id.Key())
	if err != nil {
		return nil, fmt.Errorf("state for %s: %w", id, err)
	}

	entry, err := DeserializeStateEntry(data)
	if err != nil {
		return nil, err
	}

	return s.boc.LoadDynamicBoc(entry.CellID)
}
