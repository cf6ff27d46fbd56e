package cell

import (
	"fmt"

	"github.com/cellardb/cellar/pkg/types"
)

// DataCell is a fully in-memory cell with loaded references, produced by the
// builder. It is the input form for saving a DAG into the dynamic BOC store.
type DataCell struct {
	data *CellData
	refs []Cell
}

// NewCell builds an ordinary cell from payload bytes and child cells. The
// representation hash is computed here, once; it commits to the payload, the
// header and every child hash, so identical content yields an identical id.
func NewCell(data []byte, bitLen int, refs ...Cell) (*DataCell, error) {
	return NewCellOfType(CellOrdinary, 0, data, bitLen, refs...)
}

// NewCellOfType builds a cell with an explicit type and level mask
func NewCellOfType(cellType CellType, levelMask LevelMask, data []byte, bitLen int, refs ...Cell) (*DataCell, error) {
	if len(refs) > MaxRefs {
		return nil, fmt.Errorf("too many cell references: %d", len(refs))
	}

	d, err := NewCellData(cellType, levelMask, bitLen, data)
	if err != nil {
		return nil, err
	}

	children := make([]childRef, len(refs))
	for i, ref := range refs {
		level := levelMask.Level()
		children[i] = childRef{hash: ref.ReprHash(), depth: ref.Depth(level)}
	}
	for i := 0; i < levelMask.HashCount(); i++ {
		hash, depth := computeHash(d, children)
		d.setLevel(i, hash, depth)
	}

	owned := make([]Cell, len(refs))
	copy(owned, refs)
	return &DataCell{data: d, refs: owned}, nil
}

// CellData returns the owned header-plus-payload part
func (c *DataCell) CellData() *CellData { return c.data }

// CellType returns the cell type tag
func (c *DataCell) CellType() CellType { return c.data.CellType() }

// LevelMask returns the cell level mask
func (c *DataCell) LevelMask() LevelMask { return c.data.LevelMask() }

// Data returns the payload bytes
func (c *DataCell) Data() []byte { return c.data.Data() }

// BitLength returns the payload length in bits
func (c *DataCell) BitLength() int { return c.data.BitLength() }

// RefsCount returns the number of child references
func (c *DataCell) RefsCount() int { return len(c.refs) }

// Reference returns child i
func (c *DataCell) Reference(i int) (Cell, error) {
	if i < 0 || i >= len(c.refs) {
		return nil, ErrRefIndex
	}
	return c.refs[i], nil
}

// RefHash returns the representation hash of child i
func (c *DataCell) RefHash(i int) (types.CellId, error) {
	if i < 0 || i >= len(c.refs) {
		return types.CellId{}, ErrRefIndex
	}
	return c.refs[i].ReprHash(), nil
}

// Hash returns the hash at the given level
func (c *DataCell) Hash(level int) types.CellId { return c.data.Hash(level) }

// Depth returns the subtree depth at the given level
func (c *DataCell) Depth(level int) uint16 { return c.data.Depth(level) }

// ReprHash returns the representation hash
func (c *DataCell) ReprHash() types.CellId { return c.data.ReprHash() }
