package rarar

import (
	"encoding/binary"
	"testing"

	"github.com/javi11/rarar/internal/parse"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// Test helpers that assemble minimal-but-valid archive images in memory.

// rar3ArchiveHeader is the fixed 13-byte main header that follows the
// marker in 3.x/4.x archives.
func rar3ArchiveHeader() []byte {
	b := []byte{0x00, 0x00, rar3BlockArchive, 0x00, 0x00, 13, 0x00}
	return append(b, make([]byte, 6)...) // reserved area
}

type rar3FileOpts struct {
	flags    uint16
	method   byte
	rawName  []byte // overrides name when set (unicode encoding tests)
	highPack uint32
	highUnp  uint32
}

// buildRar3FileHeader assembles a file block header. Data (if any) must be
// appended by the caller; set the has-data flag accordingly.
func buildRar3FileHeader(name string, packSize, unpSize uint32, o rar3FileOpts) []byte {
	nameBytes := []byte(name)
	if o.rawName != nil {
		nameBytes = o.rawName
	}
	if o.method == 0 {
		o.method = MethodStore
	}
	headerSize := rar3HeaderLen + rar3FixedLen + len(nameBytes)
	if o.flags&rar3FlagHighSize != 0 {
		headerSize += 8
	}

	b := make([]byte, 0, headerSize)
	b = append(b, 0x00, 0x00) // CRC16
	b = append(b, rar3BlockFile)
	b = binary.LittleEndian.AppendUint16(b, o.flags)
	b = binary.LittleEndian.AppendUint16(b, uint16(headerSize))

	fixed := make([]byte, rar3FixedLen)
	binary.LittleEndian.PutUint32(fixed[0:4], packSize)
	binary.LittleEndian.PutUint32(fixed[4:8], unpSize)
	binary.LittleEndian.PutUint32(fixed[9:13], 0xCAFEBABE) // CRC32
	fixed[18] = o.method
	binary.LittleEndian.PutUint16(fixed[19:21], uint16(len(nameBytes)))
	b = append(b, fixed...)

	if o.flags&rar3FlagHighSize != 0 {
		b = binary.LittleEndian.AppendUint32(b, o.highPack)
		b = binary.LittleEndian.AppendUint32(b, o.highUnp)
	}
	return append(b, nameBytes...)
}

func rar3EndBlock() []byte {
	return []byte{0x00, 0x00, rar3BlockEnd, 0x00, 0x00, 0x07, 0x00}
}

// buildRar5Block assembles one RAR5 block: zeroed CRC, vint header size,
// then type/flags/extra-size/data-size vints followed by fields and the
// trailing extra area. The data area itself must be appended by the caller.
func buildRar5Block(blockType, flags uint64, dataSize uint64, fields, extra []byte) []byte {
	head := parse.AppendVint(nil, blockType)
	head = parse.AppendVint(head, flags)
	if flags&rar5FlagExtraArea != 0 {
		head = parse.AppendVint(head, uint64(len(extra)))
	}
	if flags&rar5FlagDataArea != 0 {
		head = parse.AppendVint(head, dataSize)
	}
	head = append(head, fields...)
	head = append(head, extra...)

	b := []byte{0x00, 0x00, 0x00, 0x00}
	b = parse.AppendVint(b, uint64(len(head)))
	return append(b, head...)
}

type rar5FileOpts struct {
	fileFlags uint64
	method    uint64 // 3-bit nibble
	mtime     []byte // 4 bytes when fileFlags has the mtime bit
	crc       uint32
	extra     []byte
}

// buildRar5FileBlock assembles a file block header for a payload of
// len(data) bytes; the caller appends data right after it.
func buildRar5FileBlock(name string, unpSize uint64, data []byte, o rar5FileOpts) []byte {
	fields := parse.AppendVint(nil, o.fileFlags)
	fields = parse.AppendVint(fields, unpSize)
	fields = parse.AppendVint(fields, 0) // attributes
	if o.fileFlags&rar5FileHasMtime != 0 {
		fields = append(fields, o.mtime...)
	}
	if o.fileFlags&rar5FileHasCRC32 != 0 {
		fields = binary.LittleEndian.AppendUint32(fields, o.crc)
	}
	fields = parse.AppendVint(fields, o.method<<7) // compression info
	fields = parse.AppendVint(fields, 0)           // host OS
	fields = parse.AppendVint(fields, uint64(len(name)))
	fields = append(fields, name...)

	flags := uint64(0)
	if len(data) > 0 {
		flags |= rar5FlagDataArea
	}
	if len(o.extra) > 0 {
		flags |= rar5FlagExtraArea
	}
	return buildRar5Block(rar5BlockFile, flags, uint64(len(data)), fields, o.extra)
}

func rar5EndBlock() []byte {
	return buildRar5Block(rar5BlockEnd, 0, 0, nil, nil)
}

// writeArchive stores data in an in-memory filesystem and returns the fs
// and path, ready for Open(path, WithFS(fs)).
func writeArchive(t *testing.T, name string, data []byte) (afero.Fs, string) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, name, data, 0o644))
	return fs, name
}
