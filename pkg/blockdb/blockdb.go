package blockdb

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"weak"

	"github.com/google/uuid"

	"github.com/cellardb/cellar/pkg/kv"
	"github.com/cellardb/cellar/pkg/types"
)

// MetaDb persists one block meta blob per block key
type MetaDb struct {
	db kv.Store
}

// NewMetaDb wraps a key-value store as a block meta database
func NewMetaDb(db kv.Store) *MetaDb {
	return &MetaDb{db: db}
}

// GetMeta reads the meta record for the block
func (m *MetaDb) GetMeta(id types.BlockIdExt) (*types.BlockMeta, error) {
	data, err := m.db.Get(id.Key())
	if err != nil {
		return nil, fmt.Errorf("meta for %s: %w", id, err)
	}
	return types.DeserializeBlockMeta(data)
}

// PutMeta persists the meta record for the block
func (m *MetaDb) PutMeta(id types.BlockIdExt, meta *types.BlockMeta) error {
	return m.db.Put(id.Key(), meta.Serialize())
}

// Has reports whether a meta record exists for the block
func (m *MetaDb) Has(id types.BlockIdExt) (bool, error) {
	return m.db.Has(id.Key())
}

// HandleStorage shares block handles process-wide: at most one live handle
// exists per block, held weakly so handles disappear once every reader has
// dropped them.
type HandleStorage struct {
	db *MetaDb

	mu    sync.Mutex
	cache map[string]weak.Pointer[types.BlockHandle]
}

// NewHandleStorage creates a handle storage over the given meta database
func NewHandleStorage(db *MetaDb) *HandleStorage {
	return &HandleStorage{
		db:    db,
		cache: make(map[string]weak.Pointer[types.BlockHandle]),
	}
}

// MetaDb returns the underlying block meta database
func (s *HandleStorage) MetaDb() *MetaDb {
	return s.db
}

// Load returns the shared handle for the block, materializing it from the
// meta database (or creating an empty one) on a cache miss.
func (s *HandleStorage) Load(id types.BlockIdExt) (*types.BlockHandle, error) {
	key := string(id.Key())

	s.mu.Lock()
	if p, ok := s.cache[key]; ok {
		if h := p.Value(); h != nil {
			s.mu.Unlock()
			return h, nil
		}
	}
	s.mu.Unlock()

	handle, err := s.loadOrCreate(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	// Another loader may have won the race; the first installed handle is
	// the shared one.
	if p, ok := s.cache[key]; ok {
		if h := p.Value(); h != nil {
			s.mu.Unlock()
			return h, nil
		}
	}
	s.cache[key] = weak.Make(handle)
	s.mu.Unlock()

	runtime.AddCleanup(handle, func(key string) { s.evict(key) }, key)
	return handle, nil
}

func (s *HandleStorage) loadOrCreate(id types.BlockIdExt) (*types.BlockHandle, error) {
	meta, err := s.db.GetMeta(id)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return types.NewBlockHandle(id), nil
	}
	if err != nil {
		return nil, err
	}
	return types.NewBlockHandleWithMeta(id, meta), nil
}

func (s *HandleStorage) evict(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.cache[key]; ok && p.Value() == nil {
		delete(s.cache, key)
	}
}

// Store persists the handle's meta record and marks the handle stored
func (s *HandleStorage) Store(handle *types.BlockHandle) error {
	if err := s.db.PutMeta(handle.ID(), handle.Meta()); err != nil {
		return err
	}
	handle.Meta().SetHandleStored()
	return nil
}

// nodeStateInstanceKey names the persisted storage instance id
var nodeStateInstanceKey = []byte("instance_id")

// NodeStateDb is the small named-value table for node-local state
type NodeStateDb struct {
	db kv.Store
}

// NewNodeStateDb wraps a key-value store as the node state table
func NewNodeStateDb(db kv.Store) *NodeStateDb {
	return &NodeStateDb{db: db}
}

// Get reads a named value
func (n *NodeStateDb) Get(name string) ([]byte, error) {
	return n.db.Get([]byte(name))
}

// Put stores a named value
func (n *NodeStateDb) Put(name string, value []byte) error {
	return n.db.Put([]byte(name), value)
}

// InstanceID returns the storage instance id, generating and persisting one
// on first use.
func (n *NodeStateDb) InstanceID() (string, error) {
	data, err := n.db.Get(nodeStateInstanceKey)
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, kv.ErrKeyNotFound) {
		return "", err
	}

	id := uuid.New().String()
	if err := n.db.Put(nodeStateInstanceKey, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}
