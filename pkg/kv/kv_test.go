package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends under test; both must satisfy the same contract
func testStores(t *testing.T) map[string]Store {
	t.Helper()

	boltStore, err := NewBoltStore(filepath.Join(t.TempDir(), "test.db"), "test")
	require.NoError(t, err)
	t.Cleanup(func() { boltStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   boltStore,
	}
}

func TestStorePutGetDelete(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get([]byte("missing"))
			assert.ErrorIs(t, err, ErrKeyNotFound)

			require.NoError(t, store.Put([]byte("k1"), []byte("v1")))

			got, err := store.Get([]byte("k1"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), got)

			ok, err := store.Has([]byte("k1"))
			require.NoError(t, err)
			assert.True(t, ok)

			n, err := store.Len()
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			require.NoError(t, store.Delete([]byte("k1")))
			ok, err = store.Has([]byte("k1"))
			require.NoError(t, err)
			assert.False(t, ok)

			// Deleting an absent key is not an error
			require.NoError(t, store.Delete([]byte("k1")))
		})
	}
}

func TestStoreForEach(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"a", "b", "c"} {
				require.NoError(t, store.Put([]byte(k), []byte("v"+k)))
			}

			seen := map[string]string{}
			err := store.ForEach(func(key, value []byte) (bool, error) {
				seen[string(key)] = string(value)
				return true, nil
			})
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"a": "va", "b": "vb", "c": "vc"}, seen)

			// Early stop
			count := 0
			err = store.ForEach(func(key, value []byte) (bool, error) {
				count++
				return false, nil
			})
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}

func TestStoreBatchAtomicity(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put([]byte("old"), []byte("x")))

			batch, err := store.Begin()
			require.NoError(t, err)
			require.NoError(t, batch.Put([]byte("n1"), []byte("1")))
			require.NoError(t, batch.Put([]byte("n2"), []byte("2")))
			require.NoError(t, batch.Delete([]byte("old")))
			assert.Equal(t, 3, batch.Len())

			// Nothing is visible before commit
			ok, err := store.Has([]byte("n1"))
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, batch.Commit())

			ok, err = store.Has([]byte("n1"))
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = store.Has([]byte("old"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreBatchClear(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			batch, err := store.Begin()
			require.NoError(t, err)
			require.NoError(t, batch.Put([]byte("k"), []byte("v")))
			batch.Clear()
			assert.Equal(t, 0, batch.Len())
			require.NoError(t, batch.Commit())

			ok, err := store.Has([]byte("k"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreSnapshotIsolation(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put([]byte("k"), []byte("before")))

			snap, err := store.Snapshot()
			require.NoError(t, err)

			require.NoError(t, store.Put([]byte("k"), []byte("after")))

			got, err := snap.Get([]byte("k"))
			require.NoError(t, err)
			assert.Equal(t, []byte("before"), got)
			snap.Release()

			got, err = store.Get([]byte("k"))
			require.NoError(t, err)
			assert.Equal(t, []byte("after"), got)
		})
	}
}

func TestBoltSharedFile(t *testing.T) {
	db, err := OpenBoltDB(filepath.Join(t.TempDir(), "shared.db"))
	require.NoError(t, err)
	defer db.Close()

	a, err := NewBoltBucket(db, "a")
	require.NoError(t, err)
	b, err := NewBoltBucket(db, "b")
	require.NoError(t, err)

	require.NoError(t, a.Put([]byte("k"), []byte("va")))
	require.NoError(t, b.Put([]byte("k"), []byte("vb")))

	got, err := a.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("va"), got)
	got, err = b.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("vb"), got)
}
