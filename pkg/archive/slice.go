package archive

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cellardb/cellar/pkg/kv"
	"github.com/cellardb/cellar/pkg/log"
	"github.com/cellardb/cellar/pkg/metrics"
	"github.com/cellardb/cellar/pkg/types"
)

// SliceSize is the slice size recorded in the status index of a regular
// (sliced) archive window. Package rollover is driven by the byte budget,
// not by a block count.
const SliceSize uint32 = 100

// DefaultPackageBudget bounds the payload size of one package file before
// the slice rolls over to the next one.
const DefaultPackageBudget uint64 = 128 << 20

// Status rows persisted per slice so reopening recovers the package set
var (
	statusSlicedMode    = []byte("sliced_mode")
	statusSliceSize     = []byte("slice_size")
	statusTotalSlices   = []byte("total_slices")
	statusNonSlicedSize = []byte("non_sliced_size")
)

// offsetValueSize is the size of one offset index value: slice index plus
// in-package offset.
const offsetValueSize = 4 + 8

// Slice is the set of packages plus indexes covering one archive window.
// For every entry ever appended the offset index holds exactly one
// (entry-key-hash → slice index, offset) mapping, and the package file at
// that position contains the entry.
type Slice struct {
	root   string
	id     PackageId
	budget uint64
	sliced bool

	mu       sync.RWMutex
	packages []*Package

	offsets kv.Store
	meta    kv.Store
	status  kv.Store

	logger log.Logger
}

// OpenSlice opens (or creates) the slice for one archive window, recovering
// its package set from the status index.
func OpenSlice(ctx context.Context, root string, id PackageId, budget uint64, offsets, meta, status kv.Store) (*Slice, error) {
	if budget == 0 {
		budget = DefaultPackageBudget
	}

	if err := os.MkdirAll(filepath.Join(root, id.Path()), 0755); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}

	s := &Slice{
		root:    root,
		id:      id,
		budget:  budget,
		sliced:  id.Kind == PackageRegular,
		offsets: offsets,
		meta:    meta,
		status:  status,
		logger:  log.Component("archive").With("slice", id.String()),
	}

	totalSlices, err := s.readStatusU32(statusTotalSlices)
	if err != nil {
		return nil, err
	}
	for idx := uint32(0); idx < totalSlices; idx++ {
		pkg, err := OpenPackage(ctx, filepath.Join(root, id.PackagePath(idx)), false, false)
		if err != nil {
			return nil, fmt.Errorf("reopening package %d of %s: %w", idx, id, err)
		}
		s.packages = append(s.packages, pkg)
	}

	if totalSlices == 0 {
		if err := s.writeStatus(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// ID returns the slice's package id
func (s *Slice) ID() PackageId {
	return s.id
}

// PackageCount returns the number of package files in the slice
func (s *Slice) PackageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.packages)
}

func (s *Slice) readStatusU32(key []byte) (uint32, error) {
	data, err := s.status.Get(key)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("bad status row %q", key)
	}
	return binary.LittleEndian.Uint32(data), nil
}

func (s *Slice) putStatusU32(key []byte, value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	return s.status.Put(key, buf[:])
}

func (s *Slice) writeStatus() error {
	mode := uint32(0)
	if s.sliced {
		mode = 1
	}
	if err := s.putStatusU32(statusSlicedMode, mode); err != nil {
		return err
	}
	if s.sliced {
		if err := s.putStatusU32(statusSliceSize, SliceSize); err != nil {
			return err
		}
	}
	s.mu.RLock()
	total := uint32(len(s.packages))
	var nonSliced uint64
	if !s.sliced && total > 0 {
		nonSliced = s.packages[0].Size()
	}
	s.mu.RUnlock()

	if s.sliced {
		return s.putStatusU32(statusTotalSlices, total)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], nonSliced)
	if err := s.status.Put(statusNonSlicedSize, buf[:]); err != nil {
		return err
	}
	return s.putStatusU32(statusTotalSlices, total)
}

// tailPackage returns the package the next entry is appended to, creating
// the first package or, in a sliced (regular) window, rolling over to a
// fresh one when the current tail would exceed the byte budget. A
// non-sliced (key-block) window keeps appending to its single package.
func (s *Slice) tailPackage(ctx context.Context, entrySize uint64) (uint32, *Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.packages) > 0 {
		idx := uint32(len(s.packages) - 1)
		tail := s.packages[idx]
		if !s.sliced || tail.Size()+entrySize <= s.budget {
			return idx, tail, nil
		}
	}

	idx := uint32(len(s.packages))
	pkg, err := OpenPackage(ctx, filepath.Join(s.root, s.id.PackagePath(idx)), false, true)
	if err != nil {
		return 0, nil, fmt.Errorf("creating package %d of %s: %w", idx, s.id, err)
	}
	s.packages = append(s.packages, pkg)

	if err := s.putStatusU32(statusTotalSlices, uint32(len(s.packages))); err != nil {
		return 0, nil, err
	}

	s.logger.Debug().Uint32("slice_index", idx).Msg("opened package")
	return idx, pkg, nil
}

// AddFile appends the entry unless the offset index already contains its
// key, then records the offset and per-entry metadata while the append lock
// is still held.
func (s *Slice) AddFile(ctx context.Context, handle *types.BlockHandle, entryID EntryId, data []byte) error {
	key := entryID.OffsetKey()
	if ok, err := s.offsets.Has(key); err != nil {
		return err
	} else if ok {
		// Already archived; idempotent.
		return nil
	}

	entry, err := NewEntry(entryID.Filename(), data)
	if err != nil {
		return err
	}

	sliceIdx, pkg, err := s.tailPackage(ctx, entry.Size())
	if err != nil {
		return err
	}

	err = pkg.AppendEntry(ctx, entry, func(offset, newSize uint64) error {
		value := make([]byte, offsetValueSize)
		binary.LittleEndian.PutUint32(value[0:], sliceIdx)
		binary.LittleEndian.PutUint64(value[4:], offset)
		if err := s.offsets.Put(key, value); err != nil {
			return err
		}
		return s.meta.Put(key, entryMetaValue(uint32(len(data)), handle))
	})
	if err != nil {
		return err
	}

	metrics.ArchiveEntries.WithLabelValues(entryID.Kind.String()).Inc()
	metrics.ArchiveBytes.Add(float64(entry.Size()))

	s.logger.Debug().
		Str("entry", entryID.FilenameShort()).
		Uint32("slice_index", sliceIdx).
		Msg("appended entry")

	return nil
}

// entryMetaValue encodes the per-entry metadata row: the data length plus a
// snapshot of the block meta when one is known.
func entryMetaValue(dataLen uint32, handle *types.BlockHandle) []byte {
	value := make([]byte, 4, 4+types.BlockMetaSize)
	binary.LittleEndian.PutUint32(value, dataLen)
	if handle != nil {
		value = append(value, handle.Meta().Serialize()...)
	}
	return value
}

// GetFile reads the entry back through the offset index
func (s *Slice) GetFile(ctx context.Context, entryID EntryId) (*Entry, error) {
	value, err := s.offsets.Get(entryID.OffsetKey())
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", entryID.FilenameShort(), err)
	}
	if len(value) != offsetValueSize {
		return nil, fmt.Errorf("entry %s: bad offset row", entryID.FilenameShort())
	}

	sliceIdx := binary.LittleEndian.Uint32(value[0:])
	offset := binary.LittleEndian.Uint64(value[4:])

	s.mu.RLock()
	if sliceIdx >= uint32(len(s.packages)) {
		s.mu.RUnlock()
		return nil, fmt.Errorf("entry %s: slice index %d out of range", entryID.FilenameShort(), sliceIdx)
	}
	pkg := s.packages[sliceIdx]
	s.mu.RUnlock()

	return pkg.ReadEntry(ctx, offset)
}

// Has reports whether the entry is present in the offset index
func (s *Slice) Has(entryID EntryId) (bool, error) {
	return s.offsets.Has(entryID.OffsetKey())
}

// GetArchiveId returns the exported archive id for the masterchain seq_no:
// the window start of this slice.
func (s *Slice) GetArchiveId(mcSeqNo uint32) uint64 {
	return uint64(s.id.ID)
}

// TotalSize returns the byte size of the whole slice as exported by
// GetSlice: the concatenation of all package files, headers included.
func (s *Slice) TotalSize() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	for _, pkg := range s.packages {
		total += PackageHeaderSize + pkg.Size()
	}
	return total
}

// GetSlice exposes a contiguous byte range of the whole slice for bulk
// export, addressing the concatenation of its package files.
func (s *Slice) GetSlice(ctx context.Context, archiveID uint64, offset uint64, limit uint32) ([]byte, error) {
	if archiveID != uint64(s.id.ID) {
		return nil, fmt.Errorf("archive %d does not belong to %s", archiveID, s.id)
	}

	total := s.TotalSize()
	if offset >= total {
		return nil, fmt.Errorf("slice offset %d beyond size %d: %w", offset, total, ErrOutOfRange)
	}

	want := uint64(limit)
	if offset+want > total {
		want = total - offset
	}
	out := make([]byte, 0, want)

	s.mu.RLock()
	packages := make([]*Package, len(s.packages))
	copy(packages, s.packages)
	s.mu.RUnlock()

	pos := uint64(0)
	for _, pkg := range packages {
		if uint64(len(out)) >= want {
			break
		}
		pkgLen := PackageHeaderSize + pkg.Size()
		if offset >= pos+pkgLen {
			pos += pkgLen
			continue
		}

		start := uint64(0)
		if offset > pos {
			start = offset - pos
		}
		chunk := make([]byte, min(pkgLen-start, want-uint64(len(out))))

		// ReadAt addresses payload bytes; the header lives at virtual
		// offsets [0, PackageHeaderSize) of each package.
		if start < PackageHeaderSize {
			var hdr [PackageHeaderSize]byte
			binary.LittleEndian.PutUint32(hdr[:], PackageHeaderMagic)
			n := copy(chunk, hdr[start:])
			if uint64(n) < uint64(len(chunk)) {
				if _, err := pkg.ReadAt(ctx, 0, chunk[n:]); err != nil {
					return nil, err
				}
			}
		} else {
			if _, err := pkg.ReadAt(ctx, start-PackageHeaderSize, chunk); err != nil {
				return nil, err
			}
		}

		out = append(out, chunk...)
		pos += pkgLen
		offset = pos
	}

	return out, nil
}

// Close closes every package file of the slice
func (s *Slice) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, pkg := range s.packages {
		if err := pkg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.packages = nil
	return firstErr
}
