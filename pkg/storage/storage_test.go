package storage

import (
	"context"
	"io"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellardb/cellar/pkg/cell"
	"github.com/cellardb/cellar/pkg/events"
	"github.com/cellardb/cellar/pkg/log"
	"github.com/cellardb/cellar/pkg/types"
)

// dropStrongCellRefs lets the weak cell cache entries die so GC liveness
// checks see only what the test still holds.
func dropStrongCellRefs() {
	runtime.GC()
	runtime.GC()
}

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
	m.Run()
}

func testConfig(t *testing.T) Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.RootDir = t.TempDir()
	return cfg
}

func testBlockID(seqNo uint32) types.BlockIdExt {
	id := types.BlockIdExt{Shard: types.MasterchainShard(), SeqNo: seqNo}
	id.RootHash[0] = byte(seqNo)
	id.RootHash[1] = byte(seqNo >> 8)
	return id
}

func testStateRoot(t *testing.T, tag byte) cell.Cell {
	t.Helper()

	leaf, err := cell.NewCell([]byte{0x0f}, 8)
	require.NoError(t, err)
	root, err := cell.NewCell([]byte{tag}, 8, leaf)
	require.NoError(t, err)
	return root
}

func TestStorageOpenClose(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, s.InstanceID())
	require.NoError(t, s.Close())

	// The instance id survives reopening
	reopened, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, s.InstanceID(), reopened.InstanceID())
}

func TestStorageBlockLifecycle(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	blockID := testBlockID(1)
	handle, err := s.Handles().Load(blockID)
	require.NoError(t, err)
	handle.Meta().SetGenUtime(1000)
	handle.Meta().SetGenLt(100)
	handle.Meta().SetFetched()

	blockData := []byte("block payload")
	proofData := []byte("proof payload")

	require.NoError(t, s.StoreBlockData(ctx, handle, blockData))
	require.NoError(t, s.StoreBlockProof(ctx, handle, proofData, false))
	assert.True(t, handle.DataStored())
	assert.True(t, handle.ProofStored())

	got, err := s.GetBlockData(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, blockData, got)

	// Promote into the archive
	moved, err := s.ArchiveBlock(ctx, handle)
	require.NoError(t, err)
	require.True(t, moved)
	assert.True(t, handle.MovedToArchive())

	got, err = s.GetBlockData(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, blockData, got)
	got, err = s.GetBlockProof(ctx, handle, false)
	require.NoError(t, err)
	assert.Equal(t, proofData, got)

	// Index the block
	require.NoError(t, s.IndexBlock(handle))
	assert.True(t, handle.Indexed())

	found, err := s.BlockIndex().GetBlockBySeqNo(types.ShardAccountPrefix(blockID.Shard), 1)
	require.NoError(t, err)
	assert.Equal(t, blockID.SeqNo, found.SeqNo)
}

func TestStorageReopenServesArchivedBlocks(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	blockID := testBlockID(2)
	blockData := []byte("archived bytes")

	s, err := Open(ctx, cfg)
	require.NoError(t, err)

	handle, err := s.Handles().Load(blockID)
	require.NoError(t, err)
	require.NoError(t, s.StoreBlockData(ctx, handle, blockData))
	require.NoError(t, s.StoreBlockProof(ctx, handle, []byte("p"), true))

	moved, err := s.ArchiveBlock(ctx, handle)
	require.NoError(t, err)
	require.True(t, moved)
	require.NoError(t, s.Close())

	// A fresh process finds the block in the reopened archive window
	reopened, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer reopened.Close()

	reloaded, err := reopened.Handles().Load(blockID)
	require.NoError(t, err)
	assert.True(t, reloaded.MovedToArchive())

	got, err := reopened.GetBlockData(ctx, reloaded)
	require.NoError(t, err)
	assert.Equal(t, blockData, got)
}

func TestStorageStateStoreAndCollect(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.ShardStateTTL = 1

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	// Old block: utime far in the past, collectable. New block: current.
	oldID := testBlockID(1)
	oldHandle, err := s.Handles().Load(oldID)
	require.NoError(t, err)
	oldHandle.Meta().SetGenUtime(1)
	require.NoError(t, s.Handles().Store(oldHandle))

	newID := testBlockID(2)
	newHandle, err := s.Handles().Load(newID)
	require.NoError(t, err)
	newHandle.Meta().SetGenUtime(uint32(4_000_000_000))
	require.NoError(t, s.Handles().Store(newHandle))

	_, err = s.StoreState(oldHandle, testStateRoot(t, 0x01))
	require.NoError(t, err)
	_, err = s.StoreState(newHandle, testStateRoot(t, 0x02))
	require.NoError(t, err)

	dropStrongCellRefs()

	deleted, err := s.CollectNow()
	require.NoError(t, err)
	assert.Greater(t, deleted, 0)

	// The fresh state is still loadable, the expired one is gone
	_, err = s.LoadState(newID)
	require.NoError(t, err)
	_, err = s.LoadState(oldID)
	assert.Error(t, err)
}

func TestStoragePersistentState(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	handle, err := s.Handles().Load(testBlockID(9))
	require.NoError(t, err)

	blob := []byte("full serialized state")
	require.NoError(t, s.StorePersistentState(ctx, handle, blob))
	assert.True(t, handle.Meta().FlagsAll(types.FlagPersistentState))

	got, err := s.LoadPersistentState(ctx, handle.ID())
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestStorageEventsOnArchive(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	sub := s.Events().Subscribe(8, events.EventBlockArchived)
	defer sub.Cancel()

	handle, err := s.Handles().Load(testBlockID(3))
	require.NoError(t, err)
	require.NoError(t, s.StoreBlockData(ctx, handle, []byte("d")))
	require.NoError(t, s.StoreBlockProof(ctx, handle, []byte("p"), false))

	moved, err := s.ArchiveBlock(ctx, handle)
	require.NoError(t, err)
	require.True(t, moved)

	select {
	case event := <-sub.C():
		assert.Equal(t, events.EventBlockArchived, event.Type)
		assert.Equal(t, handle.ID().String(), event.Block)
	case <-time.After(2 * time.Second):
		t.Fatal("no block.archived event received")
	}
}
