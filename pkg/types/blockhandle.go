package types

import (
	"sync"
	"sync/atomic"
)

// BlockHandle couples a block id with its meta record and the transient
// per-block synchronization state: the archive promotion guard and the
// temp lock that serializes loose-file readers against promotion.
type BlockHandle struct {
	id   BlockIdExt
	meta *BlockMeta

	movingStarted atomic.Bool
	tempLock      sync.RWMutex
}

// NewBlockHandle creates a handle with an empty meta record
func NewBlockHandle(id BlockIdExt) *BlockHandle {
	return NewBlockHandleWithMeta(id, NewBlockMeta(0, 0))
}

// NewBlockHandleWithMeta creates a handle around an existing meta record
func NewBlockHandleWithMeta(id BlockIdExt, meta *BlockMeta) *BlockHandle {
	return &BlockHandle{id: id, meta: meta}
}

// ID returns the block id
func (h *BlockHandle) ID() BlockIdExt {
	return h.id
}

// Meta returns the block meta record
func (h *BlockHandle) Meta() *BlockMeta {
	return h.meta
}

// TempLock returns the per-block lock taken in read mode by loose-file
// readers and archive copiers, and in write mode by loose-file deletion.
func (h *BlockHandle) TempLock() *sync.RWMutex {
	return &h.tempLock
}

// StartMovingToArchive performs the test-and-set that dedupes concurrent
// movers. It returns the PREVIOUS value: true means another mover is already
// in flight and the caller must not proceed.
func (h *BlockHandle) StartMovingToArchive() bool {
	return h.movingStarted.Swap(true)
}

// McSeqNo returns the masterchain sequence number that places the block into
// an archive window: its own seq_no for masterchain blocks, the masterchain
// reference otherwise.
func (h *BlockHandle) McSeqNo() uint32 {
	if h.id.Shard.IsMasterchain() {
		return h.id.SeqNo
	}
	return h.meta.McRefSeqNo()
}

// DataStored reports whether the block data blob is stored
func (h *BlockHandle) DataStored() bool {
	return h.meta.FlagsAll(FlagData)
}

// SetDataStored marks the block data blob as stored
func (h *BlockHandle) SetDataStored() bool {
	return h.meta.SetFlags(FlagData)
}

// ProofStored reports whether the block proof is stored
func (h *BlockHandle) ProofStored() bool {
	return h.meta.FlagsAll(FlagProof)
}

// SetProofStored marks the block proof as stored
func (h *BlockHandle) SetProofStored() bool {
	return h.meta.SetFlags(FlagProof)
}

// ProofLinkStored reports whether the block proof link is stored
func (h *BlockHandle) ProofLinkStored() bool {
	return h.meta.FlagsAll(FlagProofLink)
}

// SetProofLinkStored marks the block proof link as stored
func (h *BlockHandle) SetProofLinkStored() bool {
	return h.meta.SetFlags(FlagProofLink)
}

// Applied reports whether the block has been applied
func (h *BlockHandle) Applied() bool {
	return h.meta.FlagsAll(FlagApplied)
}

// SetApplied marks the block as applied
func (h *BlockHandle) SetApplied() bool {
	return h.meta.SetFlags(FlagApplied)
}

// IsKeyBlock reports whether the block is a key block
func (h *BlockHandle) IsKeyBlock() bool {
	return h.meta.FlagsAll(FlagKeyBlock)
}

// SetKeyBlock marks the block as a key block
func (h *BlockHandle) SetKeyBlock() bool {
	return h.meta.SetFlags(FlagKeyBlock)
}

// MovedToArchive reports whether the block entries live in archive packages
func (h *BlockHandle) MovedToArchive() bool {
	return h.meta.FlagsAll(FlagMovedToArchive)
}

// SetMovedToArchive marks the block entries as living in archive packages
func (h *BlockHandle) SetMovedToArchive() bool {
	return h.meta.SetFlags(FlagMovedToArchive)
}

// Indexed reports whether the block is present in the block index
func (h *BlockHandle) Indexed() bool {
	return h.meta.FlagsAll(FlagIndexed)
}

// SetIndexed marks the block as present in the block index
func (h *BlockHandle) SetIndexed() bool {
	return h.meta.SetFlags(FlagIndexed)
}

func (h *BlockHandle) String() string {
	return h.id.String()
}
