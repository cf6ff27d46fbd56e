package types

import (
	"encoding/binary"
	"fmt"
)

// LtDesc describes the contiguous index range stored for one shard: the
// first and last entry indices plus the key values of the newest entry.
// Seq numbers are monotonic within the range.
type LtDesc struct {
	FirstIndex   uint32
	LastIndex    uint32
	LastSeqNo    uint32
	LastLt       uint64
	LastUnixTime uint32
}

const ltDescSize = 4 + 4 + 4 + 8 + 4

// Serialize returns the fixed little-endian blob form of the descriptor
func (d LtDesc) Serialize() []byte {
	buf := make([]byte, ltDescSize)
	binary.LittleEndian.PutUint32(buf[0:], d.FirstIndex)
	binary.LittleEndian.PutUint32(buf[4:], d.LastIndex)
	binary.LittleEndian.PutUint32(buf[8:], d.LastSeqNo)
	binary.LittleEndian.PutUint64(buf[12:], d.LastLt)
	binary.LittleEndian.PutUint32(buf[20:], d.LastUnixTime)
	return buf
}

// DeserializeLtDesc parses the fixed little-endian blob form
func DeserializeLtDesc(data []byte) (LtDesc, error) {
	if len(data) != ltDescSize {
		return LtDesc{}, fmt.Errorf("lt desc: wrong data length %d", len(data))
	}
	return LtDesc{
		FirstIndex:   binary.LittleEndian.Uint32(data[0:]),
		LastIndex:    binary.LittleEndian.Uint32(data[4:]),
		LastSeqNo:    binary.LittleEndian.Uint32(data[8:]),
		LastLt:       binary.LittleEndian.Uint64(data[12:]),
		LastUnixTime: binary.LittleEndian.Uint32(data[20:]),
	}, nil
}

// LtEntry is one block index record: the full block id plus the block's
// logical time and generation unix time.
type LtEntry struct {
	BlockID  BlockIdExt
	Lt       uint64
	UnixTime uint32
}

const ltEntrySize = blockIdExtSize + 8 + 4

// Serialize returns the fixed little-endian blob form of the entry
func (e LtEntry) Serialize() []byte {
	buf := make([]byte, ltEntrySize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(e.BlockID.Shard.Workchain))
	binary.LittleEndian.PutUint64(buf[4:], e.BlockID.Shard.Prefix)
	binary.LittleEndian.PutUint32(buf[12:], e.BlockID.SeqNo)
	copy(buf[16:], e.BlockID.RootHash[:])
	copy(buf[48:], e.BlockID.FileHash[:])
	binary.LittleEndian.PutUint64(buf[80:], e.Lt)
	binary.LittleEndian.PutUint32(buf[88:], e.UnixTime)
	return buf
}

// DeserializeLtEntry parses the fixed little-endian blob form
func DeserializeLtEntry(data []byte) (LtEntry, error) {
	if len(data) != ltEntrySize {
		return LtEntry{}, fmt.Errorf("lt entry: wrong data length %d", len(data))
	}

	var e LtEntry
	e.BlockID.Shard.Workchain = int32(binary.LittleEndian.Uint32(data[0:]))
	e.BlockID.Shard.Prefix = binary.LittleEndian.Uint64(data[4:])
	e.BlockID.SeqNo = binary.LittleEndian.Uint32(data[12:])
	copy(e.BlockID.RootHash[:], data[16:48])
	copy(e.BlockID.FileHash[:], data[48:80])
	e.Lt = binary.LittleEndian.Uint64(data[80:])
	e.UnixTime = binary.LittleEndian.Uint32(data[88:])
	return e, nil
}

// LtEntryKey returns the database key of the index entry at the given
// position within a shard range.
func LtEntryKey(shard ShardIdent, index uint32) []byte {
	key := make([]byte, 16)
	copy(key, shard.Key())
	binary.LittleEndian.PutUint32(key[12:], index)
	return key
}
