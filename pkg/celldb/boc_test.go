package celldb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellardb/cellar/pkg/cell"
	"github.com/cellardb/cellar/pkg/kv"
)

// diamond builds R -> (C1, C2), C1 -> L, C2 -> L
func diamond(t *testing.T) *cell.DataCell {
	t.Helper()

	leaf, err := cell.NewCell([]byte{0x0f}, 8)
	require.NoError(t, err)
	c1, err := cell.NewCell([]byte{0x01}, 8, leaf)
	require.NoError(t, err)
	c2, err := cell.NewCell([]byte{0x02}, 8, leaf)
	require.NoError(t, err)
	root, err := cell.NewCell([]byte{0x03}, 8, c1, c2)
	require.NoError(t, err)
	return root
}

func TestSaveAsDynamicBocDedup(t *testing.T) {
	boc := NewBocDb(kv.NewMemoryStore())
	root := diamond(t)

	// The diamond has four distinct cells; the shared leaf is written once
	_, written, err := boc.SaveAsDynamicBoc(root)
	require.NoError(t, err)
	assert.Equal(t, 4, written)

	// Saving the same DAG twice writes zero cells
	_, written, err = boc.SaveAsDynamicBoc(root)
	require.NoError(t, err)
	assert.Equal(t, 0, written)

	n, err := boc.CellDb().Store().Len()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSaveAsDynamicBocSharedSubtree(t *testing.T) {
	store := kv.NewMemoryStore()
	boc := NewBocDb(store)

	leaf, err := cell.NewCell([]byte{0x0f}, 8)
	require.NoError(t, err)
	first, err := cell.NewCell([]byte{0x01}, 8, leaf)
	require.NoError(t, err)
	second, err := cell.NewCell([]byte{0x02}, 8, leaf)
	require.NoError(t, err)

	_, written, err := boc.SaveAsDynamicBoc(first)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	// The leaf is already on disk: only the new root is written, even if
	// the leaf has fallen out of the cache
	_, written, err = boc.SaveAsDynamicBoc(second)
	require.NoError(t, err)
	assert.Equal(t, 1, written)
}

func TestLoadDynamicBocRoundtrip(t *testing.T) {
	boc := NewBocDb(kv.NewMemoryStore())
	root := diamond(t)
	rootHash := root.ReprHash()

	_, _, err := boc.SaveAsDynamicBoc(root)
	require.NoError(t, err)

	loaded, err := boc.LoadDynamicBoc(rootHash)
	require.NoError(t, err)
	assert.Equal(t, rootHash, loaded.ReprHash())
	assert.Equal(t, root.Data(), loaded.Data())
	assert.Equal(t, root.BitLength(), loaded.BitLength())
	require.Equal(t, 2, loaded.RefsCount())

	// The loaded tree resolves to the same content
	c1, err := loaded.Reference(0)
	require.NoError(t, err)
	l1, err := c1.Reference(0)
	require.NoError(t, err)
	c2, err := loaded.Reference(1)
	require.NoError(t, err)
	l2, err := c2.Reference(0)
	require.NoError(t, err)
	assert.Equal(t, l1.ReprHash(), l2.ReprHash())

	total, err := cell.CountCells(loaded)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestLazyReferenceSharedInstance(t *testing.T) {
	boc := NewBocDb(kv.NewMemoryStore())
	root := diamond(t)

	_, _, err := boc.SaveAsDynamicBoc(root)
	require.NoError(t, err)

	loaded, err := boc.LoadDynamicBoc(root.ReprHash())
	require.NoError(t, err)

	// First access faults the child in; the second returns the same shared
	// instance without another read
	first, err := loaded.Reference(0)
	require.NoError(t, err)
	second, err := loaded.Reference(0)
	require.NoError(t, err)
	assert.Same(t, first.(*StorageCell), second.(*StorageCell))

	// The shared leaf resolves to one instance through both parents
	c1 := first.(*StorageCell)
	c2cell, err := loaded.Reference(1)
	require.NoError(t, err)
	c2 := c2cell.(*StorageCell)

	l1, err := c1.Reference(0)
	require.NoError(t, err)
	l2, err := c2.Reference(0)
	require.NoError(t, err)
	assert.Same(t, l1.(*StorageCell), l2.(*StorageCell))
}

func TestLoadCellMissing(t *testing.T) {
	boc := NewBocDb(kv.NewMemoryStore())

	var id [32]byte
	id[0] = 0x42
	_, err := boc.LoadCell(id)
	assert.ErrorIs(t, err, kv.ErrKeyNotFound)
}

func TestStorageCellSerializeRoundtrip(t *testing.T) {
	boc := NewBocDb(kv.NewMemoryStore())
	root := diamond(t)

	stored, _, err := boc.SaveAsDynamicBoc(root)
	require.NoError(t, err)

	sc := stored.(*StorageCell)
	assert.Equal(t, root.ReprHash(), sc.ID())

	// Read the record straight from the cell database, bypassing the cache,
	// to force pure disk deserialization
	reloaded, err := boc.CellDb().GetCell(sc.ID(), boc)
	require.NoError(t, err)
	assert.Equal(t, sc.ID(), reloaded.ID())
	assert.Equal(t, sc.Data(), reloaded.Data())
	assert.Equal(t, sc.RefsCount(), reloaded.RefsCount())

	h0, err := reloaded.RefHash(0)
	require.NoError(t, err)
	want, err := sc.RefHash(0)
	require.NoError(t, err)
	assert.Equal(t, want, h0)
}
