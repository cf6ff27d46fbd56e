package celldb

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellardb/cellar/pkg/cell"
	"github.com/cellardb/cellar/pkg/kv"
	"github.com/cellardb/cellar/pkg/types"
)

func testBlockID(seqNo uint32) types.BlockIdExt {
	id := types.BlockIdExt{Shard: types.MasterchainShard(), SeqNo: seqNo}
	id.RootHash[0] = byte(seqNo)
	id.FileHash[0] = byte(seqNo)
	return id
}

// allowSeqNos collects states of the listed blocks only
func allowSeqNos(seqNos ...uint32) StateGCResolver {
	allowed := make(map[uint32]bool, len(seqNos))
	for _, n := range seqNos {
		allowed[n] = true
	}
	return StateGCResolverFunc(func(blockID types.BlockIdExt, gcUtime uint32) (bool, error) {
		return allowed[blockID.SeqNo], nil
	})
}

// dropCache releases any collectable weak cache entries so liveness checks
// see only what the test still holds.
func dropCache() {
	runtime.GC()
	runtime.GC()
}

func TestGCCollectsExpiredState(t *testing.T) {
	states := NewStateDb(kv.NewMemoryStore(), kv.NewMemoryStore())

	// Old state: R_old -> A -> L; new state: R_new -> (B, L) with B -> L,
	// sharing L
	leaf, err := cell.NewCell([]byte{0x0f}, 8)
	require.NoError(t, err)
	a, err := cell.NewCell([]byte{0x0a}, 8, leaf)
	require.NoError(t, err)
	b, err := cell.NewCell([]byte{0x0b}, 8, leaf)
	require.NoError(t, err)
	oldRoot, err := cell.NewCell([]byte{0x01}, 8, a)
	require.NoError(t, err)
	newRoot, err := cell.NewCell([]byte{0x02}, 8, b, leaf)
	require.NoError(t, err)

	oldID := testBlockID(1)
	newID := testBlockID(2)

	_, err = states.Put(oldID, oldRoot)
	require.NoError(t, err)
	_, err = states.Put(newID, newRoot)
	require.NoError(t, err)

	newRootHash := newRoot.ReprHash()
	dropCache()

	gc := NewGC(states, allowSeqNos(1))
	deleted, err := gc.Collect()
	require.NoError(t, err)

	// R_old and A go; the shared leaf survives through the marked new state
	assert.Equal(t, 2, deleted)

	// The new state is intact
	loaded, err := states.Get(newID)
	require.NoError(t, err)
	total, err := cell.CountCells(loaded)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, newRootHash, loaded.ReprHash())

	// The old state's index entry is gone
	_, err = states.Get(oldID)
	assert.ErrorIs(t, err, kv.ErrKeyNotFound)
}

func TestGCKeepsEverythingWhenNothingExpires(t *testing.T) {
	states := NewStateDb(kv.NewMemoryStore(), kv.NewMemoryStore())

	root := diamond(t)
	_, err := states.Put(testBlockID(1), root)
	require.NoError(t, err)
	dropCache()

	gc := NewGC(states, allowSeqNos())
	deleted, err := gc.Collect()
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	n, err := states.BocDb().CellDb().Store().Len()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestGCKeepsStateWithLiveRoot(t *testing.T) {
	states := NewStateDb(kv.NewMemoryStore(), kv.NewMemoryStore())

	root := diamond(t)
	id := testBlockID(1)

	stored, err := states.Put(id, root)
	require.NoError(t, err)
	dropCache()

	// The resolver would allow collection, but the root is still held
	gc := NewGC(states, allowSeqNos(1))
	deleted, err := gc.Collect()
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	runtime.KeepAlive(stored)
}

func TestGCSharedSubtreeAcrossDeadStates(t *testing.T) {
	states := NewStateDb(kv.NewMemoryStore(), kv.NewMemoryStore())

	// Two dead states sharing a leaf: everything must go
	leaf, err := cell.NewCell([]byte{0x0f}, 8)
	require.NoError(t, err)
	r1, err := cell.NewCell([]byte{0x01}, 8, leaf)
	require.NoError(t, err)
	r2, err := cell.NewCell([]byte{0x02}, 8, leaf)
	require.NoError(t, err)

	_, err = states.Put(testBlockID(1), r1)
	require.NoError(t, err)
	_, err = states.Put(testBlockID(2), r2)
	require.NoError(t, err)
	dropCache()

	gc := NewGC(states, allowSeqNos(1, 2))
	deleted, err := gc.Collect()
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	n, err := states.BocDb().CellDb().Store().Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGCGenerationsIncrease(t *testing.T) {
	states := NewStateDb(kv.NewMemoryStore(), kv.NewMemoryStore())

	g1 := states.BocDb().newGCGeneration()
	g2 := states.BocDb().newGCGeneration()
	assert.Greater(t, g2, g1)
}
