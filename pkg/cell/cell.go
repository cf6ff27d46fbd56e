package cell

import (
	"errors"
	"math/bits"

	"github.com/cellardb/cellar/pkg/types"
)

const (
	// MaxRefs is the maximum number of child references a cell may carry
	MaxRefs = 4

	// MaxLevel is the maximum cell level
	MaxLevel = 3

	// MaxDataBytes is the maximum payload size of one cell
	MaxDataBytes = 128
)

// ErrRefIndex is returned when a reference index is out of bounds
var ErrRefIndex = errors.New("cell reference index out of bounds")

// CellType distinguishes ordinary cells from the exotic variants
type CellType uint8

const (
	CellOrdinary CellType = iota
	CellPrunedBranch
	CellLibraryRef
	CellMerkleProof
	CellMerkleUpdate
)

// LevelMask encodes which levels of a cell carry distinct hashes
type LevelMask uint8

// Level returns the level of the mask (position of the highest set bit)
func (m LevelMask) Level() int {
	return bits.Len8(uint8(m))
}

// HashCount returns the number of per-level hashes stored for the mask
func (m LevelMask) HashCount() int {
	return bits.OnesCount8(uint8(m)) + 1
}

// Cell is an immutable DAG node: payload bytes, a typed header and up to
// four references to other cells. Two cells with identical content have the
// same representation hash.
type Cell interface {
	// CellType returns the cell type tag
	CellType() CellType

	// LevelMask returns the cell level mask
	LevelMask() LevelMask

	// Data returns the payload bytes
	Data() []byte

	// BitLength returns the payload length in bits
	BitLength() int

	// RefsCount returns the number of child references
	RefsCount() int

	// Reference resolves child i, loading it from storage when necessary
	Reference(i int) (Cell, error)

	// Hash returns the hash at the given level
	Hash(level int) types.CellId

	// Depth returns the subtree depth at the given level
	Depth(level int) uint16

	// ReprHash returns the representation hash (the highest-level hash)
	ReprHash() types.CellId
}

// RefHash returns the representation hash of child i without forcing a load
// when the cell supports it.
type RefHasher interface {
	RefHash(i int) (types.CellId, error)
}

// CountCells returns the number of distinct cells in the DAG rooted at the
// given cells.
func CountCells(roots ...Cell) (int, error) {
	seen := make(map[types.CellId]struct{})
	var walk func(c Cell) error
	walk = func(c Cell) error {
		id := c.ReprHash()
		if _, ok := seen[id]; ok {
			return nil
		}
		seen[id] = struct{}{}
		for i := 0; i < c.RefsCount(); i++ {
			child, err := c.Reference(i)
			if err != nil {
				return err
			}
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range roots {
		if err := walk(root); err != nil {
			return 0, err
		}
	}
	return len(seen), nil
}
