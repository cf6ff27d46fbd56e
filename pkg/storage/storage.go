package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cellardb/cellar/pkg/archive"
	"github.com/cellardb/cellar/pkg/blockdb"
	"github.com/cellardb/cellar/pkg/blockindex"
	"github.com/cellardb/cellar/pkg/cell"
	"github.com/cellardb/cellar/pkg/celldb"
	"github.com/cellardb/cellar/pkg/events"
	"github.com/cellardb/cellar/pkg/filedb"
	"github.com/cellardb/cellar/pkg/kv"
	"github.com/cellardb/cellar/pkg/log"
	"github.com/cellardb/cellar/pkg/types"
)

// Storage is the node storage core: the shard-state cell store with its
// garbage collector, the block artifact archive, the block index and the
// block meta tables, wired over one embedded database file plus the archive
// directory tree.
type Storage struct {
	cfg Config
	db  *bolt.DB

	states     *celldb.StateDb
	handles    *blockdb.HandleStorage
	nodeState  *blockdb.NodeStateDb
	archive    *archive.Manager
	index      *blockindex.IndexDb
	persistent *filedb.FileDb
	gc         *celldb.GC
	broker     *events.Broker

	instanceID string
	logger     log.Logger
}

// Open opens (or initializes) the storage core under cfg.RootDir
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	if err := os.MkdirAll(filepath.Join(cfg.RootDir, "db"), 0700); err != nil {
		return nil, fmt.Errorf("creating db dir: %w", err)
	}

	db, err := kv.OpenBoltDB(filepath.Join(cfg.RootDir, "db", "storage.db"))
	if err != nil {
		return nil, err
	}

	bucket := func(name string) (kv.Store, error) {
		return kv.NewBoltBucket(db, name)
	}

	var stores struct {
		cells, stateIndex, blockMeta, nodeState kv.Store
		ltDescs, ltEntries, ltShards, ltStatus  kv.Store
	}
	for _, b := range []struct {
		dst  *kv.Store
		name string
	}{
		{&stores.cells, "cells"},
		{&stores.stateIndex, "shardstate_index"},
		{&stores.blockMeta, "block_meta"},
		{&stores.nodeState, "node_state"},
		{&stores.ltDescs, "lt_descs"},
		{&stores.ltEntries, "lt_entries"},
		{&stores.ltShards, "lt_shards"},
		{&stores.ltStatus, "lt_status"},
	} {
		if *b.dst, err = bucket(b.name); err != nil {
			db.Close()
			return nil, err
		}
	}

	manager, err := archive.NewManager(ctx, cfg.RootDir, &archive.ManagerOptions{
		PackageBudget: cfg.PackageBudget.Bytes(),
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	metaDb := blockdb.NewMetaDb(stores.blockMeta)
	s := &Storage{
		cfg:        cfg,
		db:         db,
		states:     celldb.NewStateDb(stores.stateIndex, stores.cells),
		handles:    blockdb.NewHandleStorage(metaDb),
		nodeState:  blockdb.NewNodeStateDb(stores.nodeState),
		archive:    manager,
		index:      blockindex.NewIndexDb(stores.ltDescs, stores.ltEntries, stores.ltShards, stores.ltStatus),
		persistent: filedb.New(filepath.Join(cfg.RootDir, "states")),
		broker:     events.NewBroker(),
		logger:     log.Component("storage"),
	}

	s.gc = celldb.NewGC(s.states, &ttlResolver{
		meta:   metaDb,
		ttl:    cfg.ShardStateTTL,
		logger: s.logger,
	})

	if s.instanceID, err = s.nodeState.InstanceID(); err != nil {
		s.Close()
		return nil, err
	}

	s.logger.Info().
		Str("root", cfg.RootDir).
		Str("instance", s.instanceID).
		Msg("storage opened")

	return s, nil
}

// Close shuts the event broker down and releases every backend
func (s *Storage) Close() error {
	s.broker.Close()

	err := s.archive.Close()
	if dbErr := s.db.Close(); err == nil {
		err = dbErr
	}
	return err
}

// InstanceID returns the persisted storage instance id
func (s *Storage) InstanceID() string {
	return s.instanceID
}

// States returns the shard-state store
func (s *Storage) States() *celldb.StateDb {
	return s.states
}

// Archive returns the block artifact archive manager
func (s *Storage) Archive() *archive.Manager {
	return s.archive
}

// BlockIndex returns the block lookup index
func (s *Storage) BlockIndex() *blockindex.IndexDb {
	return s.index
}

// Handles returns the shared block handle storage
func (s *Storage) Handles() *blockdb.HandleStorage {
	return s.handles
}

// NodeState returns the node-local named-value table
func (s *Storage) NodeState() *blockdb.NodeStateDb {
	return s.nodeState
}

// Events returns the storage event broker
func (s *Storage) Events() *events.Broker {
	return s.broker
}

// StoreState saves the shard state DAG rooted at root for the block and
// returns the storage form of the root.
func (s *Storage) StoreState(handle *types.BlockHandle, root cell.Cell) (cell.Cell, error) {
	stored, err := s.states.Put(handle.ID(), root)
	if err != nil {
		return nil, err
	}

	handle.Meta().SetFlags(types.FlagState)
	if err := s.handles.Store(handle); err != nil {
		return nil, err
	}

	s.broker.Publish(events.Event{
		Type:  events.EventStateStored,
		Block: handle.ID().String(),
	})
	return stored, nil
}

// LoadState loads the stored shard state root for the block
func (s *Storage) LoadState(id types.BlockIdExt) (cell.Cell, error) {
	return s.states.Get(id)
}

// StoreBlockData stages the block data blob and marks it stored
func (s *Storage) StoreBlockData(ctx context.Context, handle *types.BlockHandle, data []byte) error {
	entryID := archive.EntryId{Kind: archive.EntryBlock, BlockID: handle.ID()}
	if err := s.archive.AddFile(ctx, entryID, data); err != nil {
		return err
	}
	handle.SetDataStored()
	return s.handles.Store(handle)
}

// StoreBlockProof stages the block proof (or proof link) and marks it stored
func (s *Storage) StoreBlockProof(ctx context.Context, handle *types.BlockHandle, data []byte, isLink bool) error {
	kind := archive.EntryProof
	if isLink {
		kind = archive.EntryProofLink
	}
	if err := s.archive.AddFile(ctx, archive.EntryId{Kind: kind, BlockID: handle.ID()}, data); err != nil {
		return err
	}
	if isLink {
		handle.SetProofLinkStored()
	} else {
		handle.SetProofStored()
	}
	return s.handles.Store(handle)
}

// GetBlockData reads the block data blob from whichever tier holds it
func (s *Storage) GetBlockData(ctx context.Context, handle *types.BlockHandle) ([]byte, error) {
	return s.archive.GetFile(ctx, handle, archive.EntryId{Kind: archive.EntryBlock, BlockID: handle.ID()})
}

// GetBlockProof reads the block proof (or proof link) blob
func (s *Storage) GetBlockProof(ctx context.Context, handle *types.BlockHandle, isLink bool) ([]byte, error) {
	kind := archive.EntryProof
	if isLink {
		kind = archive.EntryProofLink
	}
	return s.archive.GetFile(ctx, handle, archive.EntryId{Kind: kind, BlockID: handle.ID()})
}

// ArchiveBlock promotes the block's staged artifacts into archive packages.
// It returns false when another mover already started; the moved-to-archive
// flag is set and persisted between the slice writes and the loose-file
// deletion.
func (s *Storage) ArchiveBlock(ctx context.Context, handle *types.BlockHandle) (bool, error) {
	moved, err := s.archive.MoveToArchive(ctx, handle, func() error {
		handle.SetMovedToArchive()
		return s.handles.Store(handle)
	})
	if err != nil || !moved {
		return moved, err
	}

	s.broker.Publish(events.Event{
		Type:  events.EventBlockArchived,
		Block: handle.ID().String(),
	})
	return true, nil
}

// IndexBlock appends the block to its shard's lookup index
func (s *Storage) IndexBlock(handle *types.BlockHandle) error {
	if err := s.index.Add(handle.ID(), handle.Meta()); err != nil {
		return err
	}
	handle.SetIndexed()
	if err := s.handles.Store(handle); err != nil {
		return err
	}

	s.broker.Publish(events.Event{
		Type:  events.EventBlockIndexed,
		Block: handle.ID().String(),
	})
	return nil
}

// StorePersistentState stores a full shard state blob in the file store
func (s *Storage) StorePersistentState(ctx context.Context, handle *types.BlockHandle, data []byte) error {
	if err := s.persistent.Put(ctx, handle.ID().Key(), data); err != nil {
		return err
	}
	handle.Meta().SetFlags(types.FlagPersistentState)
	return s.handles.Store(handle)
}

// LoadPersistentState reads a full shard state blob from the file store
func (s *Storage) LoadPersistentState(ctx context.Context, id types.BlockIdExt) ([]byte, error) {
	return s.persistent.Get(ctx, id.Key())
}

// CollectNow runs one garbage collection pass
func (s *Storage) CollectNow() (int, error) {
	deleted, err := s.gc.Collect()
	if err != nil {
		return 0, err
	}

	s.broker.Publish(events.Event{
		Type:   events.EventGCCompleted,
		Detail: map[string]string{"deleted": strconv.Itoa(deleted)},
	})
	return deleted, nil
}

// RunGC runs the background collection loop until the context is cancelled
func (s *Storage) RunGC(ctx context.Context) {
	interval := s.cfg.GCInterval
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.CollectNow(); err != nil {
				s.logger.Error().Err(err).Msg("garbage collection failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// ttlResolver refuses to collect a state while the producing block's
// gen_utime + ttl has not passed. Blocks without a stored meta record are
// never collected.
type ttlResolver struct {
	meta   *blockdb.MetaDb
	ttl    uint32
	logger log.Logger
}

func (r *ttlResolver) AllowStateGC(blockID types.BlockIdExt, gcUtime uint32) (bool, error) {
	meta, err := r.meta.GetMeta(blockID)
	if errors.Is(err, kv.ErrKeyNotFound) {
		r.logger.Block(blockID).Warn().Msg("state without block meta, keeping")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return meta.GenUtime()+r.ttl < gcUtime, nil
}
