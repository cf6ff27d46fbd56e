package filedb

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/cellardb/cellar/pkg/kv"
)

const (
	pathChunkMaxLen = 4
	pathMaxDepth    = 2
)

// ErrOutOfRange is returned by GetSlice when the range exceeds the file
var ErrOutOfRange = errors.New("read out of range")

// FileDb stores one file per key under a fanned-out directory tree: the hex
// form of the key is split into short path chunks so no single directory
// grows unbounded. Used for large blobs such as persistent shard states.
type FileDb struct {
	path string
}

// New creates a file database rooted at the given path
func New(path string) *FileDb {
	return &FileDb{path: path}
}

// Path returns the root directory
func (db *FileDb) Path() string {
	return db.path
}

func (db *FileDb) makePath(key []byte) string {
	keyStr := hex.EncodeToString(key)
	result := db.path
	depth := 1
	for depth < pathMaxDepth && len(keyStr) > 0 {
		n := min(len(keyStr), pathChunkMaxLen)
		result = filepath.Join(result, keyStr[:n])
		keyStr = keyStr[n:]
		depth++
	}
	if len(keyStr) > 0 {
		result = filepath.Join(result, keyStr)
	}
	return result
}

func transformError(err error, key []byte) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %s", kv.ErrKeyNotFound, hex.EncodeToString(key))
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return ErrOutOfRange
	default:
		return err
	}
}

// Get reads the whole value for key
func (db *FileDb) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(db.makePath(key))
	if err != nil {
		return nil, transformError(err, key)
	}
	return data, nil
}

// GetSlice reads size bytes of the value starting at offset
func (db *FileDb) GetSlice(ctx context.Context, key []byte, offset, size uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(db.makePath(key))
	if err != nil {
		return nil, transformError(err, key)
	}
	defer f.Close()

	result := make([]byte, size)
	if _, err := f.ReadAt(result, int64(offset)); err != nil {
		return nil, transformError(err, key)
	}
	return result, nil
}

// GetSize returns the stored value's size
func (db *FileDb) GetSize(ctx context.Context, key []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	info, err := os.Stat(db.makePath(key))
	if err != nil {
		return 0, transformError(err, key)
	}
	return uint64(info.Size()), nil
}

// Has reports whether a value exists for key
func (db *FileDb) Has(ctx context.Context, key []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	info, err := os.Stat(db.makePath(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Put stores the value for key, creating parent directories as needed
func (db *FileDb) Put(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := db.makePath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return renameio.WriteFile(path, value, 0644)
}

// Delete removes the value for key and cleans up emptied parent directories
func (db *FileDb) Delete(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := db.makePath(key)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	// Cleanup upper-level empty directories
	dir := filepath.Dir(path)
	for {
		if rel, err := filepath.Rel(db.path, dir); err != nil || rel == "." || rel == ".." {
			break
		}
		if !isDirEmpty(dir) {
			break
		}
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}

	return nil
}

// Destroy removes the whole tree
func (db *FileDb) Destroy() error {
	info, err := os.Stat(db.path)
	if err != nil || !info.IsDir() {
		return nil
	}
	return os.RemoveAll(db.path)
}

func isDirEmpty(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) == 0
}
