package cell

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cellardb/cellar/pkg/types"
)

// CellData is the owned header-plus-payload part of a cell: everything
// except the references. Per-level hashes and depths are computed when the
// cell is built and carried verbatim through (de)serialization.
type CellData struct {
	cellType  CellType
	levelMask LevelMask
	bitLen    uint16
	data      []byte
	hashes    []types.CellId
	depths    []uint16
}

// NewCellData builds a header for the given payload. Hashes and depths must
// be filled by the builder before the data is usable.
func NewCellData(cellType CellType, levelMask LevelMask, bitLen int, data []byte) (*CellData, error) {
	byteLen := (bitLen + 7) / 8
	if byteLen > MaxDataBytes {
		return nil, fmt.Errorf("cell data too long: %d bits", bitLen)
	}
	if len(data) < byteLen {
		return nil, fmt.Errorf("cell data short: %d bytes for %d bits", len(data), bitLen)
	}

	owned := make([]byte, byteLen)
	copy(owned, data[:byteLen])
	n := levelMask.HashCount()
	return &CellData{
		cellType:  cellType,
		levelMask: levelMask,
		bitLen:    uint16(bitLen),
		data:      owned,
		hashes:    make([]types.CellId, n),
		depths:    make([]uint16, n),
	}, nil
}

// CellType returns the cell type tag
func (d *CellData) CellType() CellType { return d.cellType }

// LevelMask returns the cell level mask
func (d *CellData) LevelMask() LevelMask { return d.levelMask }

// BitLength returns the payload length in bits
func (d *CellData) BitLength() int { return int(d.bitLen) }

// Data returns the payload bytes
func (d *CellData) Data() []byte { return d.data }

// Hash returns the hash at the given level, clamped to the stored range
func (d *CellData) Hash(level int) types.CellId {
	if level >= len(d.hashes) {
		level = len(d.hashes) - 1
	}
	return d.hashes[level]
}

// Depth returns the subtree depth at the given level
func (d *CellData) Depth(level int) uint16 {
	if level >= len(d.depths) {
		level = len(d.depths) - 1
	}
	return d.depths[level]
}

// ReprHash returns the representation hash (the highest-level hash)
func (d *CellData) ReprHash() types.CellId {
	return d.hashes[len(d.hashes)-1]
}

// setLevel stores the computed hash and depth for one level slot
func (d *CellData) setLevel(i int, hash types.CellId, depth uint16) {
	d.hashes[i] = hash
	d.depths[i] = depth
}

// Serialize writes the self-delimiting binary form of the header: type,
// level mask, bit length, per-level hashes and depths, then payload bytes.
func (d *CellData) Serialize(w io.Writer) error {
	hdr := []byte{byte(d.cellType), byte(d.levelMask), 0, 0, byte(len(d.hashes))}
	binary.LittleEndian.PutUint16(hdr[2:4], d.bitLen)
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	for _, h := range d.hashes {
		if _, err := w.Write(h[:]); err != nil {
			return err
		}
	}
	var buf [2]byte
	for _, depth := range d.depths {
		binary.LittleEndian.PutUint16(buf[:], depth)
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}

	_, err := w.Write(d.data)
	return err
}

// DeserializeCellData reads the self-delimiting binary form written by
// Serialize.
func DeserializeCellData(r io.Reader) (*CellData, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("reading cell header: %w", err)
	}

	d := &CellData{
		cellType:  CellType(hdr[0]),
		levelMask: LevelMask(hdr[1]),
		bitLen:    binary.LittleEndian.Uint16(hdr[2:4]),
	}

	hashCount := int(hdr[4])
	if hashCount == 0 || hashCount > MaxLevel+1 {
		return nil, fmt.Errorf("cell header: bad hash count %d", hashCount)
	}

	d.hashes = make([]types.CellId, hashCount)
	for i := range d.hashes {
		if _, err := io.ReadFull(r, d.hashes[i][:]); err != nil {
			return nil, fmt.Errorf("reading cell hash %d: %w", i, err)
		}
	}
	d.depths = make([]uint16, hashCount)
	var buf [2]byte
	for i := range d.depths {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("reading cell depth %d: %w", i, err)
		}
		d.depths[i] = binary.LittleEndian.Uint16(buf[:])
	}

	byteLen := (int(d.bitLen) + 7) / 8
	if byteLen > MaxDataBytes {
		return nil, fmt.Errorf("cell header: bad bit length %d", d.bitLen)
	}
	d.data = make([]byte, byteLen)
	if _, err := io.ReadFull(r, d.data); err != nil {
		return nil, fmt.Errorf("reading cell data: %w", err)
	}

	return d, nil
}

// DataOf returns the owned header of a cell, rebuilding it when the
// implementation does not expose one directly.
func DataOf(c Cell) (*CellData, error) {
	if p, ok := c.(interface{ CellData() *CellData }); ok {
		return p.CellData(), nil
	}

	d, err := NewCellData(c.CellType(), c.LevelMask(), c.BitLength(), c.Data())
	if err != nil {
		return nil, err
	}
	for i := 0; i < d.levelMask.HashCount(); i++ {
		d.setLevel(i, c.Hash(i), c.Depth(i))
	}
	return d, nil
}

// childRef captures what the representation hash needs from a child
type childRef struct {
	hash  types.CellId
	depth uint16
}

// computeHash derives the representation hash for one level: a SHA-256 over
// the descriptor bytes, payload and each child's depth and hash.
func computeHash(d *CellData, children []childRef) (types.CellId, uint16) {
	h := sha256.New()

	desc := []byte{byte(d.cellType), byte(d.levelMask), 0, 0, byte(len(children))}
	binary.LittleEndian.PutUint16(desc[2:4], d.bitLen)
	h.Write(desc)
	h.Write(d.data)

	var depth uint16
	var buf [2]byte
	for _, c := range children {
		if c.depth >= depth {
			depth = c.depth + 1
		}
		binary.LittleEndian.PutUint16(buf[:], c.depth)
		h.Write(buf[:])
		h.Write(c.hash[:])
	}

	return types.CellIdFromBytes(h.Sum(nil)), depth
}
