package celldb

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cellardb/cellar/pkg/cell"
	"github.com/cellardb/cellar/pkg/types"
)

// reference is one child slot of a StorageCell: either unloaded (hash only)
// or loaded (shared in-memory cell). The hash stays valid in both states.
type reference struct {
	hash types.CellId
	cell *StorageCell
}

// StorageCell is the persistent in-memory form of a cell. Child references
// deserialize as unloaded and are resolved lazily on first access; the slot
// then holds the shared loaded cell for all later readers.
type StorageCell struct {
	data *cell.CellData

	mu   sync.Mutex
	refs []reference

	boc   *BocDb
	gcGen atomic.Uint32
}

func newStorageCell(data *cell.CellData, refs []reference, boc *BocDb, gcGen uint32) *StorageCell {
	sc := &StorageCell{data: data, refs: refs, boc: boc}
	sc.gcGen.Store(gcGen)
	return sc
}

// newStorageCellFromCell converts a cell into storage form with every
// reference unloaded.
func newStorageCellFromCell(c cell.Cell, boc *BocDb, gcGen uint32) (*StorageCell, error) {
	data, err := cell.DataOf(c)
	if err != nil {
		return nil, err
	}

	refs := make([]reference, c.RefsCount())
	for i := range refs {
		child, err := c.Reference(i)
		if err != nil {
			return nil, err
		}
		refs[i] = reference{hash: child.ReprHash()}
	}

	return newStorageCell(data, refs, boc, gcGen), nil
}

// ID returns the cell's content-addressed id
func (sc *StorageCell) ID() types.CellId {
	return sc.data.ReprHash()
}

// CellType returns the cell type tag
func (sc *StorageCell) CellType() cell.CellType { return sc.data.CellType() }

// LevelMask returns the cell level mask
func (sc *StorageCell) LevelMask() cell.LevelMask { return sc.data.LevelMask() }

// Data returns the payload bytes
func (sc *StorageCell) Data() []byte { return sc.data.Data() }

// BitLength returns the payload length in bits
func (sc *StorageCell) BitLength() int { return sc.data.BitLength() }

// RefsCount returns the number of child references
func (sc *StorageCell) RefsCount() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.refs)
}

// Hash returns the hash at the given level
func (sc *StorageCell) Hash(level int) types.CellId { return sc.data.Hash(level) }

// Depth returns the subtree depth at the given level
func (sc *StorageCell) Depth(level int) uint16 { return sc.data.Depth(level) }

// ReprHash returns the representation hash
func (sc *StorageCell) ReprHash() types.CellId { return sc.data.ReprHash() }

// Reference resolves child i, reading it from the cell database on the
// first access and caching the loaded cell in the slot afterwards.
func (sc *StorageCell) Reference(i int) (cell.Cell, error) {
	child, err := sc.reference(i)
	if err != nil {
		return nil, err
	}
	return child, nil
}

// RefHash returns the representation hash of child i without loading it
func (sc *StorageCell) RefHash(i int) (types.CellId, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if i < 0 || i >= len(sc.refs) {
		return types.CellId{}, cell.ErrRefIndex
	}
	return sc.refs[i].hash, nil
}

func (sc *StorageCell) reference(i int) (*StorageCell, error) {
	sc.mu.Lock()
	if i < 0 || i >= len(sc.refs) {
		sc.mu.Unlock()
		return nil, cell.ErrRefIndex
	}
	if loaded := sc.refs[i].cell; loaded != nil {
		sc.mu.Unlock()
		return loaded, nil
	}
	hash := sc.refs[i].hash
	sc.mu.Unlock()

	child, err := sc.boc.LoadCell(hash)
	if err != nil {
		return nil, fmt.Errorf("loading reference %d of %s: %w", i, sc.ID(), err)
	}

	sc.mu.Lock()
	sc.refs[i].cell = child
	sc.mu.Unlock()

	return child, nil
}

// gcGeneration returns the cell's GC generation counter
func (sc *StorageCell) gcGeneration() uint32 {
	return sc.gcGen.Load()
}

// markGcGen stamps the cell and every loaded descendant with the given
// generation, early-outing on cells already at or past it.
func (sc *StorageCell) markGcGen(gcGen uint32) {
	if sc.gcGen.Load() >= gcGen {
		return
	}
	sc.gcGen.Store(gcGen)

	sc.mu.Lock()
	loaded := make([]*StorageCell, 0, len(sc.refs))
	for i := range sc.refs {
		if sc.refs[i].cell != nil {
			loaded = append(loaded, sc.refs[i].cell)
		}
	}
	sc.mu.Unlock()

	for _, child := range loaded {
		child.markGcGen(gcGen)
	}
}

// Serialize writes the on-disk record: the self-delimited cell header and
// payload, one byte of child count, then the child hashes.
func (sc *StorageCell) Serialize(w io.Writer) error {
	sc.mu.Lock()
	refs := make([]types.CellId, len(sc.refs))
	for i := range sc.refs {
		refs[i] = sc.refs[i].hash
	}
	sc.mu.Unlock()

	if len(refs) > cell.MaxRefs {
		return fmt.Errorf("cell %s has %d references", sc.ID(), len(refs))
	}

	if err := sc.data.Serialize(w); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(len(refs))}); err != nil {
		return err
	}
	for i := range refs {
		if _, err := w.Write(refs[i][:]); err != nil {
			return err
		}
	}
	return nil
}

// deserializeStorageCell reads the on-disk record written by Serialize.
// All references come back unloaded.
func deserializeStorageCell(r io.Reader, boc *BocDb) (*StorageCell, error) {
	data, err := cell.DeserializeCellData(r)
	if err != nil {
		return nil, err
	}

	var count [1]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return nil, fmt.Errorf("reading reference count: %w", err)
	}
	if int(count[0]) > cell.MaxRefs {
		return nil, fmt.Errorf("bad reference count %d", count[0])
	}

	refs := make([]reference, count[0])
	for i := range refs {
		if _, err := io.ReadFull(r, refs[i].hash[:]); err != nil {
			return nil, fmt.Errorf("reading reference hash %d: %w", i, err)
		}
	}

	return newStorageCell(data, refs, boc, 0), nil
}
