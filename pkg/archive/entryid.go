package archive

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/cellardb/cellar/pkg/types"
)

// EntryKind names the block artifact kinds stored in archives
type EntryKind uint8

const (
	EntryBlock EntryKind = iota
	EntryProof
	EntryProofLink
)

func (k EntryKind) String() string {
	switch k {
	case EntryBlock:
		return "block"
	case EntryProof:
		return "proof"
	case EntryProofLink:
		return "prooflink"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// EntryId is the logical identifier of one archived artifact: its kind plus
// the owning block.
type EntryId struct {
	Kind    EntryKind
	BlockID types.BlockIdExt
}

// Filename returns the full entry name used inside package files
func (id EntryId) Filename() string {
	return fmt.Sprintf("%s_(%d,%016x,%d):%s:%s",
		id.Kind,
		id.BlockID.Shard.Workchain,
		id.BlockID.Shard.Prefix,
		id.BlockID.SeqNo,
		hex.EncodeToString(id.BlockID.RootHash[:]),
		hex.EncodeToString(id.BlockID.FileHash[:]),
	)
}

// FilenameShort returns the deterministic loose-file name used in the
// unapplied staging directory: the kind plus a block hash prefix.
func (id EntryId) FilenameShort() string {
	return fmt.Sprintf("%s_%s", id.Kind, hex.EncodeToString(id.BlockID.RootHash[:16]))
}

// OffsetKey returns the stable 8-byte hash of the entry id used as the
// offset index key.
func (id EntryId) OffsetKey() []byte {
	key := make([]byte, 8)
	binary.LittleEndian.PutUint64(key, xxhash.Sum64String(id.Filename()))
	return key
}

func (id EntryId) String() string {
	return id.Filename()
}
