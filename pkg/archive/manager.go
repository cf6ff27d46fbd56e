package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/renameio"

	"github.com/cellardb/cellar/pkg/kv"
	"github.com/cellardb/cellar/pkg/log"
	"github.com/cellardb/cellar/pkg/metrics"
	"github.com/cellardb/cellar/pkg/types"
)

// ErrNotFound is returned when an entry exists in neither the unapplied
// staging area nor any archive slice.
var ErrNotFound = errors.New("file not found in archive")

// StoreFactory opens the offset, entry-meta and status index stores for one
// archive window directory. The returned closer releases whatever backs
// them.
type StoreFactory func(dir string) (offsets, meta, status kv.Store, close func() error, err error)

// boltStoreFactory backs the three indexes with buckets of one BoltDB file
// per window directory.
func boltStoreFactory(dir string) (kv.Store, kv.Store, kv.Store, func() error, error) {
	db, err := kv.OpenBoltDB(filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, nil, nil, nil, err
	}

	offsets, err := kv.NewBoltBucket(db, "offsets")
	if err == nil {
		var meta, status kv.Store
		meta, err = kv.NewBoltBucket(db, "meta")
		if err == nil {
			status, err = kv.NewBoltBucket(db, "status")
			if err == nil {
				return offsets, meta, status, db.Close, nil
			}
		}
	}
	db.Close()
	return nil, nil, nil, nil, err
}

// ManagerOptions tune the archive manager
type ManagerOptions struct {
	// PackageBudget bounds one package file's payload before rollover
	PackageBudget uint64

	// Stores overrides the index store factory (tests)
	Stores StoreFactory
}

// Manager is the two-stage block artifact store: loose files staged in the
// unapplied directory, promoted into append-only packages organized by
// masterchain sequence number.
type Manager struct {
	root         string
	unappliedDir string
	fileMaps     *FileMaps
	budget       uint64
	newStores    StoreFactory

	mu      sync.Mutex // guards window creation and closers
	closers []func() error

	logger log.Logger
}

// NewManager creates the manager rooted at the given directory, reopening
// any archive windows already on disk.
func NewManager(ctx context.Context, root string, opts *ManagerOptions) (*Manager, error) {
	if opts == nil {
		opts = &ManagerOptions{}
	}

	m := &Manager{
		root:         root,
		unappliedDir: filepath.Join(root, "archive", "unapplied"),
		fileMaps:     NewFileMaps(),
		budget:       opts.PackageBudget,
		newStores:    opts.Stores,
		logger:       log.Component("archive"),
	}
	if m.budget == 0 {
		m.budget = DefaultPackageBudget
	}
	if m.newStores == nil {
		m.newStores = boltStoreFactory
	}

	if err := os.MkdirAll(m.unappliedDir, 0755); err != nil {
		return nil, fmt.Errorf("creating unapplied dir: %w", err)
	}

	if err := m.reopenWindows(ctx); err != nil {
		return nil, err
	}

	return m, nil
}

// reopenWindows scans the packages directory and reopens every window found
func (m *Manager) reopenWindows(ctx context.Context) error {
	dir := filepath.Join(m.root, "archive", "packages")
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		id, ok := parseWindowDir(e.Name())
		if !ok {
			continue
		}

		if _, err := m.addFileDesc(ctx, id); err != nil {
			return fmt.Errorf("reopening window %s: %w", id, err)
		}
	}
	return nil
}

func parseWindowDir(name string) (PackageId, bool) {
	var id PackageId
	var digits string
	switch {
	case strings.HasPrefix(name, "arch"):
		id.Kind = PackageRegular
		digits = name[len("arch"):]
	case strings.HasPrefix(name, "key"):
		id.Kind = PackageKeyBlock
		digits = name[len("key"):]
	default:
		return PackageId{}, false
	}

	start, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return PackageId{}, false
	}
	id.ID = uint32(start)
	return id, true
}

// Root returns the storage root directory
func (m *Manager) Root() string {
	return m.root
}

// UnappliedDir returns the loose-file staging directory
func (m *Manager) UnappliedDir() string {
	return m.unappliedDir
}

func (m *Manager) loosePath(entryID EntryId) string {
	return filepath.Join(m.unappliedDir, entryID.FilenameShort())
}

// AddFile stages the artifact as a loose file in the unapplied directory,
// create-or-truncate, written atomically.
func (m *Manager) AddFile(ctx context.Context, entryID EntryId, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.logger.Debug().Str("entry", entryID.FilenameShort()).Msg("saving unapplied file")

	path := m.loosePath(entryID)
	_, statErr := os.Stat(path)
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing unapplied file: %w", err)
	}
	if errors.Is(statErr, os.ErrNotExist) {
		metrics.UnappliedFiles.Inc()
	}
	return nil
}

func (m *Manager) readLooseFile(entryID EntryId) ([]byte, error) {
	data, err := os.ReadFile(m.loosePath(entryID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entryID.FilenameShort())
	}
	if err != nil {
		return nil, fmt.Errorf("reading unapplied file: %w", err)
	}
	return data, nil
}

// GetFile returns the artifact bytes. Under the block's read lock: a block
// already moved to archive reads from its slice, otherwise the loose
// unapplied file is served. A reader racing a promotion sees one or the
// other, never neither.
func (m *Manager) GetFile(ctx context.Context, handle *types.BlockHandle, entryID EntryId) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	handle.TempLock().RLock()
	defer handle.TempLock().RUnlock()

	if handle.MovedToArchive() {
		if fd := m.fileMaps.Files().GetClosest(handle.McSeqNo()); fd != nil && !fd.Deleted() {
			entry, err := fd.Slice().GetFile(ctx, entryID)
			if err == nil {
				return entry.Data, nil
			}
			if !errors.Is(err, kv.ErrKeyNotFound) {
				return nil, err
			}
		}
		if handle.IsKeyBlock() {
			if fd := m.fileMaps.Get(PackageKeyBlock).GetClosest(handle.McSeqNo()); fd != nil && !fd.Deleted() {
				entry, err := fd.Slice().GetFile(ctx, entryID)
				if err == nil {
					return entry.Data, nil
				}
				if !errors.Is(err, kv.ErrKeyNotFound) {
					return nil, err
				}
			}
		}
	}

	return m.readLooseFile(entryID)
}

// MoveToArchive promotes the block's staged artifacts into archive
// packages. At most one mover runs per block: when another mover already
// started, the call returns (false, nil) without doing work. On the happy
// path the caller's onSuccess runs after the slice writes and before the
// loose files are unlinked under the block's write lock.
func (m *Manager) MoveToArchive(ctx context.Context, handle *types.BlockHandle, onSuccess func() error) (bool, error) {
	if handle.StartMovingToArchive() {
		return false, nil
	}

	proofStored := handle.ProofStored()
	prooflinkStored := handle.ProofLinkStored()
	dataStored := handle.DataStored()

	if !dataStored || !(proofStored || prooflinkStored) {
		m.logger.Block(handle.ID()).Error().
			Bool("data", dataStored).
			Bool("proof", proofStored).
			Bool("prooflink", prooflinkStored).
			Msg("block is not moved to archive: data are not stored")
	}

	var moved []string
	if proofStored {
		path, err := m.moveFileToArchive(ctx, handle, EntryId{Kind: EntryProof, BlockID: handle.ID()})
		if err != nil {
			return false, err
		}
		moved = append(moved, path)
	} else if prooflinkStored {
		path, err := m.moveFileToArchive(ctx, handle, EntryId{Kind: EntryProofLink, BlockID: handle.ID()})
		if err != nil {
			return false, err
		}
		moved = append(moved, path)
	}
	if dataStored {
		path, err := m.moveFileToArchive(ctx, handle, EntryId{Kind: EntryBlock, BlockID: handle.ID()})
		if err != nil {
			return false, err
		}
		moved = append(moved, path)
	}

	if err := onSuccess(); err != nil {
		return false, err
	}

	handle.TempLock().Lock()
	defer handle.TempLock().Unlock()
	for _, path := range moved {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
		metrics.UnappliedFiles.Dec()
	}

	metrics.BlocksArchived.Inc()
	return true, nil
}

func (m *Manager) moveFileToArchive(ctx context.Context, handle *types.BlockHandle, entryID EntryId) (string, error) {
	m.logger.Debug().Str("entry", entryID.FilenameShort()).Msg("moving entry to archive")

	handle.TempLock().RLock()
	data, err := m.readLooseFile(entryID)
	handle.TempLock().RUnlock()
	if err != nil {
		return "", err
	}

	mcSeqNo := handle.McSeqNo()
	packageID := m.packageIdForce(mcSeqNo, handle.IsKeyBlock())

	fd, err := m.fileDesc(ctx, packageID, true)
	if err != nil {
		return "", err
	}
	if fd == nil {
		return "", fmt.Errorf("no archive window for %s", packageID)
	}

	if err := fd.Slice().AddFile(ctx, handle, entryID, data); err != nil {
		return "", err
	}

	return m.loosePath(entryID), nil
}

// packageIdForce picks the archive window a block promotes into. A regular
// block joins the existing window with the greatest start at or below its
// seq_no when that start is later than the computed window start.
func (m *Manager) packageIdForce(mcSeqNo uint32, isKey bool) PackageId {
	if isKey {
		return PackageIdForKeyBlock(mcSeqNo)
	}

	id := PackageIdForMc(mcSeqNo)
	if fd := m.fileMaps.Files().GetClosest(mcSeqNo); fd != nil {
		if id.Less(fd.ID()) {
			id = fd.ID()
		}
	}
	return id
}

func (m *Manager) fileDesc(ctx context.Context, id PackageId, force bool) (*FileDescription, error) {
	fm := m.fileMaps.Get(id.Kind)
	if fd := fm.Get(id.ID); fd != nil {
		if fd.Deleted() {
			return nil, nil
		}
		return fd, nil
	}

	if !force {
		return nil, nil
	}
	return m.addFileDesc(ctx, id)
}

func (m *Manager) addFileDesc(ctx context.Context, id PackageId) (*FileDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fm := m.fileMaps.Get(id.Kind)
	if fd := fm.Get(id.ID); fd != nil {
		return fd, nil
	}

	dir := filepath.Join(m.root, id.Path())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	offsets, meta, status, closer, err := m.newStores(dir)
	if err != nil {
		return nil, err
	}

	slice, err := OpenSlice(ctx, m.root, id, m.budget, offsets, meta, status)
	if err != nil {
		closer()
		return nil, err
	}

	fd := NewFileDescription(id, slice)
	fm.Put(id.ID, fd)
	m.closers = append(m.closers, closer)
	return fd, nil
}

// GetArchiveId returns the exported archive id covering the masterchain
// sequence number, if a window exists.
func (m *Manager) GetArchiveId(ctx context.Context, mcSeqNo uint32) (uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	fd := m.fileMaps.Files().GetClosest(mcSeqNo)
	if fd == nil || fd.Deleted() {
		return 0, false, nil
	}
	return fd.Slice().GetArchiveId(mcSeqNo), true, nil
}

// GetArchiveSlice exposes a contiguous byte range of an archive for bulk
// export.
func (m *Manager) GetArchiveSlice(ctx context.Context, archiveID uint64, offset uint64, limit uint32) ([]byte, error) {
	fd, err := m.fileDesc(ctx, PackageIdForMc(uint32(archiveID)), false)
	if err != nil {
		return nil, err
	}
	if fd == nil {
		return nil, fmt.Errorf("archive %d not found", archiveID)
	}
	return fd.Slice().GetSlice(ctx, archiveID, offset, limit)
}

// Close closes every open slice and index store
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, kind := range []PackageKind{PackageRegular, PackageKeyBlock, PackagePersistent} {
		m.fileMaps.Get(kind).Each(func(fd *FileDescription) {
			if err := fd.Slice().Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		})
	}
	for _, closer := range m.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.closers = nil
	return firstErr
}
