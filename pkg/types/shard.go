package types

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

const (
	// MasterchainID is the workchain id of the masterchain
	MasterchainID int32 = -1

	// BasechainID is the workchain id of the base workchain
	BasechainID int32 = 0

	// MaxSplitDepth is the deepest shard split supported by the block index
	MaxSplitDepth = 60
)

// FullShardPrefix is the prefix of an unsplit workchain shard (tag bit only)
const FullShardPrefix uint64 = 1 << 63

// ShardIdent identifies one shard of a workchain. The prefix carries the
// standard termination-tag encoding: the lowest set bit marks the prefix
// length, so a full (unsplit) shard is 0x8000000000000000.
type ShardIdent struct {
	Workchain int32
	Prefix    uint64
}

// MasterchainShard returns the shard ident of the masterchain
func MasterchainShard() ShardIdent {
	return ShardIdent{Workchain: MasterchainID, Prefix: FullShardPrefix}
}

// ShardWithPrefixLen builds the shard of the given prefix length containing
// the given account prefix.
func ShardWithPrefixLen(length uint8, workchain int32, accountPrefix uint64) (ShardIdent, error) {
	if length > MaxSplitDepth {
		return ShardIdent{}, fmt.Errorf("shard prefix length %d exceeds max split depth %d", length, MaxSplitDepth)
	}

	tag := uint64(1) << (63 - length)
	mask := ^(tag<<1 - 1)
	return ShardIdent{
		Workchain: workchain,
		Prefix:    (accountPrefix & mask) | tag,
	}, nil
}

// IsMasterchain reports whether the shard belongs to the masterchain
func (s ShardIdent) IsMasterchain() bool {
	return s.Workchain == MasterchainID
}

// PrefixLen returns the number of meaningful prefix bits (tag excluded)
func (s ShardIdent) PrefixLen() int {
	if s.Prefix == 0 {
		return 0
	}
	return 63 - bits.TrailingZeros64(s.Prefix)
}

// Contains reports whether the given account prefix falls into this shard
func (s ShardIdent) Contains(accountPrefix uint64) bool {
	tag := s.Prefix & (^s.Prefix + 1) // lowest set bit
	mask := ^(tag<<1 - 1)
	return accountPrefix&mask == s.Prefix&mask
}

// Key returns the database key form: workchain and tagged prefix, little-endian
func (s ShardIdent) Key() []byte {
	key := make([]byte, 12)
	binary.LittleEndian.PutUint32(key[0:], uint32(s.Workchain))
	binary.LittleEndian.PutUint64(key[4:], s.Prefix)
	return key
}

func (s ShardIdent) String() string {
	return fmt.Sprintf("%d:%016x", s.Workchain, s.Prefix)
}

// AccountPrefix addresses a full account prefix inside one workchain; block
// index queries fold it across shard prefix lengths.
type AccountPrefix struct {
	Workchain int32
	Prefix    uint64
}

// ShardAccountPrefix returns the account prefix addressing the whole shard
func ShardAccountPrefix(s ShardIdent) AccountPrefix {
	return AccountPrefix{Workchain: s.Workchain, Prefix: s.Prefix}
}
