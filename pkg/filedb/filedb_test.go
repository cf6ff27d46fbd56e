package filedb

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellardb/cellar/pkg/kv"
)

func TestFileDbPutGet(t *testing.T) {
	ctx := context.Background()
	db := New(filepath.Join(t.TempDir(), "files"))

	key := bytes.Repeat([]byte{0xab}, 32)
	value := []byte("persistent state blob")

	_, err := db.Get(ctx, key)
	assert.ErrorIs(t, err, kv.ErrKeyNotFound)

	require.NoError(t, db.Put(ctx, key, value))

	got, err := db.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	ok, err := db.Has(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	size, err := db.GetSize(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(value)), size)

	part, err := db.GetSlice(ctx, key, 11, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("state"), part)

	_, err = db.GetSlice(ctx, key, uint64(len(value)), 1)
	assert.Error(t, err)
}

func TestFileDbFanout(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "files")
	db := New(root)

	key := bytes.Repeat([]byte{0xcd}, 32)
	require.NoError(t, db.Put(ctx, key, []byte("x")))

	// The first path component is a 4-hex-char chunk of the key
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cdcd", entries[0].Name())
	assert.True(t, entries[0].IsDir())
}

func TestFileDbDeleteCleansEmptyDirs(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "files")
	db := New(root)

	key := bytes.Repeat([]byte{0xef}, 32)
	require.NoError(t, db.Put(ctx, key, []byte("x")))
	require.NoError(t, db.Delete(ctx, key))

	ok, err := db.Has(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	// The emptied chunk directory is removed as well
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Deleting again is not an error
	require.NoError(t, db.Delete(ctx, key))
}
