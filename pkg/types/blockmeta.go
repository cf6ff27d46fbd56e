package types

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// Block meta state flags. Flags are sticky: once set they are never cleared.
const (
	FlagData            uint32 = 1 << 0
	FlagProof           uint32 = 1 << 1
	FlagProofLink       uint32 = 1 << 2
	FlagExtDb           uint32 = 1 << 3
	FlagState           uint32 = 1 << 4
	FlagPersistentState uint32 = 1 << 5
	FlagNext1           uint32 = 1 << 6
	FlagNext2           uint32 = 1 << 7
	FlagPrev1           uint32 = 1 << 8
	FlagPrev2           uint32 = 1 << 9
	FlagApplied         uint32 = 1 << 10
	FlagKeyBlock        uint32 = 1 << 11
	FlagMovingToArchive uint32 = 1 << 12
	FlagMovedToArchive  uint32 = 1 << 13
	FlagIndexed         uint32 = 1 << 14
)

// BlockMetaSize is the fixed serialized size of a block meta record
const BlockMetaSize = 4 + 4 + 8 + 4 + 1 + 1

// BlockMeta is the compact mutable record of per-block state bits and
// timestamps. All fields are individually atomic so unrelated writers never
// contend on a lock; flag sets use atomic bit-OR.
type BlockMeta struct {
	flags        atomic.Uint32
	genUtime     atomic.Uint32
	genLt        atomic.Uint64
	mcRefSeqNo   atomic.Uint32
	fetched      atomic.Bool
	handleStored atomic.Bool
}

// NewBlockMeta creates a meta record with the given initial values
func NewBlockMeta(flags, genUtime uint32) *BlockMeta {
	m := &BlockMeta{}
	m.flags.Store(flags)
	m.genUtime.Store(genUtime)
	return m
}

// SetFlags sets the given bits. Returns true if every bit was already set.
func (m *BlockMeta) SetFlags(flags uint32) bool {
	return m.flags.Or(flags)&flags == flags
}

// FlagsAll reports whether every given bit is set
func (m *BlockMeta) FlagsAll(flags uint32) bool {
	return m.flags.Load()&flags == flags
}

// Flags returns the current flag word
func (m *BlockMeta) Flags() uint32 {
	return m.flags.Load()
}

// GenUtime returns the block generation unix time
func (m *BlockMeta) GenUtime() uint32 {
	return m.genUtime.Load()
}

// SetGenUtime stores the block generation unix time
func (m *BlockMeta) SetGenUtime(t uint32) {
	m.genUtime.Store(t)
}

// GenLt returns the block generation logical time
func (m *BlockMeta) GenLt() uint64 {
	return m.genLt.Load()
}

// SetGenLt stores the block generation logical time
func (m *BlockMeta) SetGenLt(lt uint64) {
	m.genLt.Store(lt)
}

// McRefSeqNo returns the masterchain reference sequence number
func (m *BlockMeta) McRefSeqNo() uint32 {
	return m.mcRefSeqNo.Load()
}

// SetMcRefSeqNo stores the masterchain reference sequence number and returns
// the previous value
func (m *BlockMeta) SetMcRefSeqNo(seqNo uint32) uint32 {
	return m.mcRefSeqNo.Swap(seqNo)
}

// Fetched reports whether the block info has been fetched
func (m *BlockMeta) Fetched() bool {
	return m.fetched.Load()
}

// SetFetched marks the block info as fetched
func (m *BlockMeta) SetFetched() {
	m.fetched.Store(true)
}

// HandleStored reports whether the handle has been persisted
func (m *BlockMeta) HandleStored() bool {
	return m.handleStored.Load()
}

// SetHandleStored marks the handle as persisted
func (m *BlockMeta) SetHandleStored() {
	m.handleStored.Store(true)
}

// Serialize returns the fixed little-endian blob form of the record
func (m *BlockMeta) Serialize() []byte {
	buf := make([]byte, BlockMetaSize)
	binary.LittleEndian.PutUint32(buf[0:], m.flags.Load())
	binary.LittleEndian.PutUint32(buf[4:], m.genUtime.Load())
	binary.LittleEndian.PutUint64(buf[8:], m.genLt.Load())
	binary.LittleEndian.PutUint32(buf[16:], m.mcRefSeqNo.Load())
	if m.fetched.Load() {
		buf[20] = 1
	}
	if m.handleStored.Load() {
		buf[21] = 1
	}
	return buf
}

// DeserializeBlockMeta parses the fixed little-endian blob form
func DeserializeBlockMeta(data []byte) (*BlockMeta, error) {
	if len(data) != BlockMetaSize {
		return nil, fmt.Errorf("block meta: wrong data length %d", len(data))
	}

	m := &BlockMeta{}
	m.flags.Store(binary.LittleEndian.Uint32(data[0:]))
	m.genUtime.Store(binary.LittleEndian.Uint32(data[4:]))
	m.genLt.Store(binary.LittleEndian.Uint64(data[8:]))
	m.mcRefSeqNo.Store(binary.LittleEndian.Uint32(data[16:]))
	m.fetched.Store(data[20] != 0)
	m.handleStored.Store(data[21] != 0)

	return m, nil
}
