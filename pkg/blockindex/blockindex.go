package blockindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cellardb/cellar/pkg/kv"
	"github.com/cellardb/cellar/pkg/log"
	"github.com/cellardb/cellar/pkg/metrics"
	"github.com/cellardb/cellar/pkg/types"
)

var (
	// ErrBlockNotFound is returned when no block matches the query
	ErrBlockNotFound = errors.New("block not found")

	// ErrNonMonotonic is returned when an append would decrease a shard's
	// seq_no
	ErrNonMonotonic = errors.New("block index append with decreasing seq_no")
)

// statusKey is the shard-count status row
var statusKey = []byte("lt_db_status")

// IndexDb maintains, per shard, a contiguous array of (seq_no, lt,
// unix_time, block_id) entries and a descriptor of the newest values,
// enabling binary search by sequence number, logical time or unix time.
type IndexDb struct {
	mu sync.RWMutex // descriptor write lock; serializes per-shard appends

	descs   kv.Store // shard key -> LtDesc
	entries kv.Store // (shard, index) -> LtEntry
	shards  kv.Store // u32 shard position -> shard key
	status  kv.Store // total shard count

	logger log.Logger
}

// NewIndexDb creates a block index over the given stores
func NewIndexDb(descs, entries, shards, status kv.Store) *IndexDb {
	return &IndexDb{
		descs:   descs,
		entries: entries,
		shards:  shards,
		status:  status,
		logger:  log.Component("blockindex"),
	}
}

func (db *IndexDb) tryGetDesc(shardKey []byte) (types.LtDesc, bool, error) {
	data, err := db.descs.Get(shardKey)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return types.LtDesc{}, false, nil
	}
	if err != nil {
		return types.LtDesc{}, false, err
	}
	desc, err := types.DeserializeLtDesc(data)
	if err != nil {
		return types.LtDesc{}, false, err
	}
	return desc, true, nil
}

func (db *IndexDb) totalShards() (uint32, error) {
	data, err := db.status.Get(statusKey)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("bad shard count row")
	}
	return binary.LittleEndian.Uint32(data), nil
}

// Add appends a block to its shard's index. Appends require monotonically
// non-decreasing seq_no: an equal seq_no is a no-op, a lower one is an
// error. The first block of a new shard registers the shard.
func (db *IndexDb) Add(blockID types.BlockIdExt, meta *types.BlockMeta) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	shardKey := blockID.Shard.Key()
	desc, found, err := db.tryGetDesc(shardKey)
	if err != nil {
		return err
	}

	var shardPos uint32
	addShard := false
	if found {
		if blockID.SeqNo == desc.LastSeqNo {
			return nil
		}
		if blockID.SeqNo < desc.LastSeqNo {
			return fmt.Errorf("%w: shard %s has seq_no %d, appending %d",
				ErrNonMonotonic, blockID.Shard, desc.LastSeqNo, blockID.SeqNo)
		}
	} else {
		shardPos, err = db.totalShards()
		if err != nil {
			return err
		}
		desc = types.LtDesc{FirstIndex: 1}
		addShard = true
	}

	index := desc.LastIndex + 1
	entry := types.LtEntry{
		BlockID:  blockID,
		Lt:       meta.GenLt(),
		UnixTime: meta.GenUtime(),
	}
	if err := db.entries.Put(types.LtEntryKey(blockID.Shard, index), entry.Serialize()); err != nil {
		return err
	}

	desc = types.LtDesc{
		FirstIndex:   desc.FirstIndex,
		LastIndex:    index,
		LastSeqNo:    blockID.SeqNo,
		LastLt:       meta.GenLt(),
		LastUnixTime: meta.GenUtime(),
	}
	if err := db.descs.Put(shardKey, desc.Serialize()); err != nil {
		return err
	}

	if addShard {
		var posKey [4]byte
		binary.LittleEndian.PutUint32(posKey[:], shardPos)
		if err := db.shards.Put(posKey[:], shardKey); err != nil {
			return err
		}
		var count [4]byte
		binary.LittleEndian.PutUint32(count[:], shardPos+1)
		if err := db.status.Put(statusKey, count[:]); err != nil {
			return err
		}
	}

	metrics.IndexAppends.Inc()
	db.logger.Block(blockID).Shard(blockID.Shard).Debug().
		Uint32("index", index).
		Msg("indexed block")

	return nil
}

// GetBlockBySeqNo returns the block with exactly the given seq_no
func (db *IndexDb) GetBlockBySeqNo(acc types.AccountPrefix, seqNo uint32) (types.BlockIdExt, error) {
	return db.getBlock(acc,
		func(desc types.LtDesc) int { return compareU32(seqNo, desc.LastSeqNo) },
		func(entry types.LtEntry) int { return compareU32(seqNo, entry.BlockID.SeqNo) },
		true,
	)
}

// GetBlockByLt returns the smallest block whose logical time is >= lt
func (db *IndexDb) GetBlockByLt(acc types.AccountPrefix, lt uint64) (types.BlockIdExt, error) {
	return db.getBlock(acc,
		func(desc types.LtDesc) int { return compareU64(lt, desc.LastLt) },
		func(entry types.LtEntry) int { return compareU64(lt, entry.Lt) },
		false,
	)
}

// GetBlockByUt returns the smallest block whose unix time is >= unixTime
func (db *IndexDb) GetBlockByUt(acc types.AccountPrefix, unixTime uint32) (types.BlockIdExt, error) {
	return db.getBlock(acc,
		func(desc types.LtDesc) int { return compareU32(unixTime, desc.LastUnixTime) },
		func(entry types.LtEntry) int { return compareU32(unixTime, entry.UnixTime) },
		false,
	)
}

func compareU32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareU64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// getBlock binary-searches each shard prefix depth containing the account
// prefix and folds the per-depth candidates: the query is compared against
// the shard descriptor first, then bisected inside the entry range. The
// fold keeps the smallest right-neighbor across depths.
func (db *IndexDb) getBlock(
	acc types.AccountPrefix,
	compareDesc func(types.LtDesc) int,
	compareEntry func(types.LtEntry) int,
	exact bool,
) (types.BlockIdExt, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	found := false
	var best *types.BlockIdExt
	maxLeftSeqNo := uint32(0)

	for length := 0; length <= types.MaxSplitDepth; length++ {
		shard, err := types.ShardWithPrefixLen(uint8(length), acc.Workchain, acc.Prefix)
		if err != nil {
			return types.BlockIdExt{}, err
		}

		desc, ok, err := db.tryGetDesc(shard.Key())
		if err != nil {
			return types.BlockIdExt{}, err
		}
		if !ok {
			if found {
				break
			}
			continue
		}
		found = true

		// Query past this shard's newest entry: a deeper prefix may hold a
		// later child shard.
		if compareDesc(desc) > 0 {
			continue
		}

		lb := desc.FirstIndex
		rb := desc.LastIndex + 1
		var leftID, rightID *types.BlockIdExt
		lastIndex := rb + 1

		for rb > lb {
			index := lb + (rb-lb)/2
			// Prevents infinite loops in case of gaps
			if lastIndex == index {
				break
			}
			lastIndex = index

			data, err := db.entries.Get(types.LtEntryKey(shard, index))
			if err != nil {
				return types.BlockIdExt{}, err
			}
			entry, err := types.DeserializeLtEntry(data)
			if err != nil {
				return types.BlockIdExt{}, err
			}

			result := entry.BlockID
			switch cmp := compareEntry(entry); {
			case cmp < 0:
				rightID = &result
				rb = index
			case cmp > 0:
				leftID = &result
				lb = index
			default:
				return result, nil
			}
		}

		if rightID != nil {
			if best == nil || best.SeqNo > rightID.SeqNo {
				best = rightID
			}
		}
		if leftID != nil && maxLeftSeqNo < leftID.SeqNo {
			maxLeftSeqNo = leftID.SeqNo
		}

		if best != nil && best.SeqNo == maxLeftSeqNo+1 {
			if !exact {
				return *best, nil
			}
			return types.BlockIdExt{}, ErrBlockNotFound
		}
	}

	if !exact && best != nil {
		return *best, nil
	}
	return types.BlockIdExt{}, ErrBlockNotFound
}
