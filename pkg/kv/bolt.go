package kv

import (
	"fmt"
	"os"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// BoltStore implements Store on top of a BoltDB bucket. Several stores may
// share one database file, each owning its own bucket; only the store that
// opened the file closes it.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
	owned  bool
}

// OpenBoltDB opens (or creates) a BoltDB database file for sharing between
// several bucket stores. The mmap is reserved up front so write
// transactions never need to remap while a snapshot holds a read
// transaction open.
func OpenBoltDB(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		InitialMmapSize: 1 << 30,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// NewBoltStore opens a database file and binds the store to one bucket. The
// file is owned by the returned store and closed with it.
func NewBoltStore(path, bucket string) (*BoltStore, error) {
	db, err := OpenBoltDB(path)
	if err != nil {
		return nil, err
	}

	store, err := NewBoltBucket(db, bucket)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// NewBoltBucket binds a store to one bucket of a shared database
func NewBoltBucket(db *bolt.DB, bucket string) (*BoltStore, error) {
	name := []byte(bucket)
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	return &BoltStore{db: db, bucket: name}, nil
}

// DB returns the underlying BoltDB handle
func (s *BoltStore) DB() *bolt.DB {
	return s.db
}

// Get returns the value stored under key, or ErrKeyNotFound
func (s *BoltStore) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(s.bucket).Get(key)
		if data == nil {
			return ErrKeyNotFound
		}
		// Copy: BoltDB memory is only valid during the transaction
		value = make([]byte, len(data))
		copy(value, data)
		return nil
	})
	return value, err
}

// Has reports whether a value exists for key
func (s *BoltStore) Has(key []byte) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(s.bucket).Get(key) != nil
		return nil
	})
	return ok, err
}

// ForEach iterates over all pairs until fn returns false or an error
func (s *BoltStore) ForEach(fn func(key, value []byte) (bool, error)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			cont, err := fn(k, v)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// Len returns the number of stored pairs
func (s *BoltStore) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Put stores value under key
func (s *BoltStore) Put(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put(key, value)
	})
}

// Delete removes the value under key
func (s *BoltStore) Delete(key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete(key)
	})
}

// Snapshot takes a consistent read-only view backed by a read transaction
func (s *BoltStore) Snapshot() (Snapshot, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	return &boltSnapshot{tx: tx, bucket: s.bucket}, nil
}

// Begin creates a new empty batch applied in a single write transaction
func (s *BoltStore) Begin() (Batch, error) {
	return &boltBatch{store: s}, nil
}

// Close closes the database file if this store owns it
func (s *BoltStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Destroy drops the bucket contents and, for owned files, removes the file
func (s *BoltStore) Destroy() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to drop bucket %s: %w", s.bucket, err)
	}

	if s.owned {
		path := s.db.Path()
		if err := s.db.Close(); err != nil {
			return err
		}
		return os.Remove(path)
	}
	return nil
}

type boltSnapshot struct {
	tx      *bolt.Tx
	bucket  []byte
	release sync.Once
}

func (s *boltSnapshot) Get(key []byte) ([]byte, error) {
	data := s.tx.Bucket(s.bucket).Get(key)
	if data == nil {
		return nil, ErrKeyNotFound
	}
	value := make([]byte, len(data))
	copy(value, data)
	return value, nil
}

func (s *boltSnapshot) Has(key []byte) (bool, error) {
	return s.tx.Bucket(s.bucket).Get(key) != nil, nil
}

func (s *boltSnapshot) ForEach(fn func(key, value []byte) (bool, error)) error {
	c := s.tx.Bucket(s.bucket).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		cont, err := fn(k, v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (s *boltSnapshot) Len() (int, error) {
	return s.tx.Bucket(s.bucket).Stats().KeyN, nil
}

func (s *boltSnapshot) Release() {
	s.release.Do(func() {
		_ = s.tx.Rollback()
	})
}

type boltBatch struct {
	mu    sync.Mutex
	store *BoltStore
	ops   []batchOp
}

func (b *boltBatch) Put(key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	owned := make([]byte, len(value))
	copy(owned, value)
	b.ops = append(b.ops, batchOp{key: string(key), value: owned})
	return nil
}

func (b *boltBatch) Delete(key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ops = append(b.ops, batchOp{key: string(key), delete: true})
	return nil
}

func (b *boltBatch) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = nil
}

func (b *boltBatch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ops)
}

func (b *boltBatch) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.store.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.store.bucket)
		for _, op := range b.ops {
			if op.delete {
				if err := bkt.Delete([]byte(op.key)); err != nil {
					return err
				}
			} else {
				if err := bkt.Put([]byte(op.key), op.value); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	b.ops = nil
	return nil
}
