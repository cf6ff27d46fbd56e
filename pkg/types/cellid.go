package types

import "encoding/hex"

// CellId is the 32-byte representation hash of a cell. It is used both as
// the cell database key and as the cell cache key.
type CellId [32]byte

// CellIdFromBytes builds a CellId from a 32-byte slice
func CellIdFromBytes(b []byte) CellId {
	var id CellId
	copy(id[:], b)
	return id
}

// Key returns the database key form of the id
func (id CellId) Key() []byte {
	return id[:]
}

func (id CellId) String() string {
	return hex.EncodeToString(id[:])
}
