package archive

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// PackageHeaderSize is the size of the package magic header
const PackageHeaderSize = 4

// PackageHeaderMagic identifies a package file (stored little-endian)
const PackageHeaderMagic uint32 = 0xAE8FDD01

var (
	// ErrHeaderMismatch is returned when the package magic is wrong
	ErrHeaderMismatch = errors.New("package file header mismatch")

	// ErrShortFile is returned when the file is too short and create was
	// not requested
	ErrShortFile = errors.New("package file is too short")
)

// Package is an append-only binary container of named blobs. Appends are
// serialized by an exclusive lock on a single shared write handle; every
// read opens an independent handle so readers never contend with the
// writer.
type Package struct {
	path     string
	readOnly bool
	size     atomic.Uint64

	writeMu sync.Mutex
	wf      *os.File
}

func readHeader(r io.Reader) error {
	var buf [PackageHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("package file read failed: %w", err)
	}
	if binary.LittleEndian.Uint32(buf[:]) != PackageHeaderMagic {
		return ErrHeaderMismatch
	}
	return nil
}

// OpenPackage opens a package file. A file shorter than the header is
// initialized with the magic when create is set and rejected otherwise; a
// longer file must start with the magic.
func OpenPackage(ctx context.Context, path string, readOnly, create bool) (*Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	flags := os.O_RDONLY
	if !readOnly || create {
		flags = os.O_RDWR
	}
	if create {
		flags |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := uint64(info.Size())

	if size < PackageHeaderSize {
		if !create {
			f.Close()
			return nil, ErrShortFile
		}
		var buf [PackageHeaderSize]byte
		binary.LittleEndian.PutUint32(buf[:], PackageHeaderMagic)
		if _, err := f.WriteAt(buf[:], 0); err != nil {
			f.Close()
			return nil, err
		}
		size = PackageHeaderSize
	} else {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
		if err := readHeader(f); err != nil {
			f.Close()
			return nil, err
		}
	}

	p := &Package{path: path, readOnly: readOnly, wf: f}
	p.size.Store(size)
	return p, nil
}

// Path returns the package file path
func (p *Package) Path() string {
	return p.path
}

// Size returns the number of payload bytes past the header
func (p *Package) Size() uint64 {
	return p.size.Load() - PackageHeaderSize
}

// AppendEntry serializes the entry at the end of the file under the append
// lock, bumps the size, then invokes the continuation with the entry offset
// and the new size. The continuation runs while the lock is still held, so
// appends and their index updates are serialized. The size is bumped before
// the continuation runs: Size may already cover the new entry while its
// index rows are being written.
func (p *Package) AppendEntry(ctx context.Context, entry *Entry, afterAppend func(offset, newSize uint64) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.readOnly {
		return fmt.Errorf("package %s is read-only", p.path)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := p.wf.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	offset := p.Size()
	written, err := entry.WriteTo(p.wf)
	if err != nil {
		return fmt.Errorf("appending entry %s: %w", entry.Filename, err)
	}
	p.size.Add(uint64(written))

	if afterAppend != nil {
		return afterAppend(offset, offset+uint64(written))
	}
	return nil
}

// ReadEntry reads exactly one entry at the given payload offset through an
// independent file handle.
func (p *Package) ReadEntry(ctx context.Context, offset uint64) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Size() < offset+EntryHeaderSize {
		return nil, fmt.Errorf("entry at offset %d: %w", offset, ErrOutOfRange)
	}

	f, err := os.Open(p.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(int64(PackageHeaderSize+offset), io.SeekStart); err != nil {
		return nil, err
	}

	entry, err := ReadEntryFrom(bufio.NewReader(f))
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("entry at offset %d: %w", offset, ErrOutOfRange)
		}
		return nil, err
	}
	return entry, nil
}

// ReadAt fills buf with raw payload bytes starting at the given offset,
// returning the number of bytes read. Used for bulk slice export.
func (p *Package) ReadAt(ctx context.Context, offset uint64, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f, err := os.Open(p.path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := f.ReadAt(buf, int64(PackageHeaderSize+offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}
	return n, nil
}

// Truncate sets the logical payload size and the file length. Recovery
// only.
func (p *Package) Truncate(ctx context.Context, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	newSize := PackageHeaderSize + size

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.size.Store(newSize)
	return p.wf.Truncate(int64(newSize))
}

// Close releases the shared write handle
func (p *Package) Close() error {
	return p.wf.Close()
}

// Reader iterates over package entries sequentially
type Reader struct {
	r *bufio.Reader
	c io.Closer
}

// NewReader validates the header and returns an entry iterator
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReaderSize(r, 1<<19)
	if err := readHeader(br); err != nil {
		return nil, err
	}
	return &Reader{r: br}, nil
}

// OpenReader opens a package file for sequential iteration
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.c = f
	return r, nil
}

// Next returns the next entry, or io.EOF at the clean end of the package
func (r *Reader) Next() (*Entry, error) {
	return ReadEntryFrom(r.r)
}

// Close closes the underlying file when the reader owns one
func (r *Reader) Close() error {
	if r.c != nil {
		return r.c.Close()
	}
	return nil
}
