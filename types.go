package rarar

import (
	"fmt"
	"path"
)

// Archive format versions accepted by WithForceVersion.
const (
	VersionRar3 = 3
	VersionRar4 = 4
	VersionRar5 = 5
)

// Archive signatures. The RAR3 signature also covers 4.x archives; SFX
// stubs may prepend arbitrary data before either.
var (
	sigRar3 = []byte("Rar!\x1A\x07\x00")
	sigRar5 = []byte("Rar!\x1A\x07\x01\x00")
)

// Compression method codes as stored in RAR3 file headers. RAR5 method
// nibbles (0-5) are normalized onto the same byte space so both formats
// share one vocabulary.
const (
	MethodStore   = 0x30
	MethodFastest = 0x31
	MethodFast    = 0x32
	MethodNormal  = 0x33
	MethodGood    = 0x34
	MethodBest    = 0x35
)

var methodNames = map[int]string{
	MethodStore:   "Store",
	MethodFastest: "Fastest",
	MethodFast:    "Fast",
	MethodNormal:  "Normal",
	MethodGood:    "Good",
	MethodBest:    "Best",
}

// FileEntry describes one file (or directory) header found in the archive.
// Entries are plain data: they carry no handle back to the Reader that
// produced them and are never mutated after construction.
type FileEntry struct {
	// Path is the archive-relative path, forward-slash normalized.
	Path string `json:"path"`
	// UnpackedSize is the original file size in bytes.
	UnpackedSize int64 `json:"size"`
	// PackedSize is the size of the data area following the header.
	PackedSize int64 `json:"compressed_size"`
	// Method is the compression method code (MethodStore..MethodBest, or an
	// opaque value for methods this package does not name).
	Method int `json:"method"`
	// CRC32 of the unpacked data, zero when the header omits it.
	CRC32 uint32 `json:"crc"`
	// IsDirectory reports whether the entry is a directory.
	IsDirectory bool `json:"is_directory"`
	// DataOffset is the absolute offset of the entry's payload in the
	// archive stream.
	DataOffset int64 `json:"data_offset"`
	// NextOffset is the absolute offset of the next block: DataOffset plus
	// the data area size, or DataOffset itself when no data area follows.
	NextOffset int64 `json:"next_offset"`
}

// Name returns the base name of the entry path.
func (e *FileEntry) Name() string { return path.Base(e.Path) }

// MethodName returns the human-readable compression method name.
func (e *FileEntry) MethodName() string {
	if name, ok := methodNames[e.Method]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (%#x)", e.Method)
}

// Stored reports whether the entry can be extracted by a plain ranged read.
func (e *FileEntry) Stored() bool { return e.Method == MethodStore }

func (e *FileEntry) String() string {
	kind := "File"
	if e.IsDirectory {
		kind = "Directory"
	}
	s := fmt.Sprintf("%s: %s (Size: %d bytes, Compressed: %d bytes, Method: %s",
		kind, e.Path, e.UnpackedSize, e.PackedSize, e.MethodName())
	if !e.IsDirectory {
		s += fmt.Sprintf(", Bytes Range: %d-%d", e.DataOffset, e.NextOffset-1)
	}
	return s + ")"
}
