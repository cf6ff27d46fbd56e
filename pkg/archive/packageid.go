package archive

import (
	"fmt"
	"path/filepath"
)

const (
	// ArchiveSize is the masterchain window covered by one regular archive
	ArchiveSize uint32 = 20_000

	// KeyArchiveSize is the masterchain window covered by one key-block
	// archive
	KeyArchiveSize uint32 = 200_000
)

// PackageKind distinguishes the archive families
type PackageKind uint8

const (
	PackageRegular PackageKind = iota
	PackageKeyBlock
	PackagePersistent
)

func (k PackageKind) String() string {
	switch k {
	case PackageRegular:
		return "regular"
	case PackageKeyBlock:
		return "key"
	case PackagePersistent:
		return "persistent"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// PackageId addresses one archive window: the window start and the archive
// family. The disk path is derived from both, plus the slice index for the
// individual package files.
type PackageId struct {
	ID   uint32
	Kind PackageKind
}

// PackageIdForMc returns the regular archive window holding the given
// masterchain sequence number.
func PackageIdForMc(mcSeqNo uint32) PackageId {
	return PackageId{ID: mcSeqNo - mcSeqNo%ArchiveSize, Kind: PackageRegular}
}

// PackageIdForKeyBlock returns the key-block archive window holding the
// given masterchain sequence number.
func PackageIdForKeyBlock(mcSeqNo uint32) PackageId {
	return PackageId{ID: mcSeqNo - mcSeqNo%KeyArchiveSize, Kind: PackageKeyBlock}
}

// Path returns the window directory relative to the storage root
func (p PackageId) Path() string {
	switch p.Kind {
	case PackageKeyBlock:
		return filepath.Join("archive", "packages", fmt.Sprintf("key%05d", p.ID))
	case PackagePersistent:
		return filepath.Join("archive", "states")
	default:
		return filepath.Join("archive", "packages", fmt.Sprintf("arch%05d", p.ID))
	}
}

// PackagePath returns the package file path for one slice index, relative
// to the storage root.
func (p PackageId) PackagePath(sliceIdx uint32) string {
	return filepath.Join(p.Path(), fmt.Sprintf("archive.%05d.pack", sliceIdx))
}

func (p PackageId) String() string {
	return fmt.Sprintf("%s:%d", p.Kind, p.ID)
}

// Less orders ids within one kind by window start
func (p PackageId) Less(other PackageId) bool {
	if p.Kind != other.Kind {
		return p.Kind < other.Kind
	}
	return p.ID < other.ID
}
