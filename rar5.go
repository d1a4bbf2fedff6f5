package rarar

import (
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/javi11/rarar/internal/parse"
	"github.com/javi11/rarar/internal/unicode"
)

// RAR5 block types.
const (
	rar5BlockMain    = 1
	rar5BlockFile    = 2
	rar5BlockService = 3
	rar5BlockEnd     = 5
)

// RAR5 block flag bits.
const (
	rar5FlagExtraArea = 0x0001
	rar5FlagDataArea  = 0x0002
)

// RAR5 file flag bits.
const (
	rar5FileDirectory = 0x0001
	rar5FileHasMtime  = 0x0002
	rar5FileHasCRC32  = 0x0004
)

// rar5MaxHeaderSize rejects absurd declared header sizes so a corrupt size
// field cannot trigger a giant allocation.
const rar5MaxHeaderSize = 2 * 1024 * 1024

// rar5Parser walks RAR5 blocks: 4-byte header CRC, vint header size, then a
// header whose trailing extra area (encryption, quick-open and the like) is
// opaque and skipped by declared size alone. Truncated headers end the
// traversal cleanly; genuinely malformed archives are only surfaced through
// marker discovery.
type rar5Parser struct {
	src ByteSource
	log *slog.Logger

	pos int64
	// lastType carries the previously parsed block type across next calls:
	// the end-of-archive marker is discovered mid-parse, not by peeking.
	lastType uint64
}

func newRar5Parser(src ByteSource, log *slog.Logger) *rar5Parser {
	return &rar5Parser{src: src, log: log.With("format", "rar5")}
}

func (p *rar5Parser) findMarker() (int64, error) {
	return findMarker(p.src, sigRar5, defaultChunkSize)
}

func (p *rar5Parser) start(marker int64) error {
	p.pos = marker + int64(len(sigRar5))
	p.lastType = 0
	return nil
}

func (p *rar5Parser) next() (*FileEntry, error) {
	for {
		if p.lastType == rar5BlockEnd {
			return nil, io.EOF
		}
		// CRC32 (consumed, not verified) plus the header-size vint.
		prefix, err := readAt(p.src, p.pos, 4+parse.MaxVintLen)
		if err != nil {
			return nil, err
		}
		if len(prefix) < 5 {
			return nil, io.EOF
		}
		headSize, sizeLen, err := parse.Vint(prefix[4:])
		if err != nil {
			return nil, io.EOF
		}
		if headSize == 0 || headSize > rar5MaxHeaderSize {
			p.log.Debug("implausible header size", "pos", p.pos, "size", headSize)
			return nil, io.EOF
		}
		// headSize counts from here: after the CRC and the size field.
		afterSize := p.pos + 4 + int64(sizeLen)

		headData, err := readAt(p.src, afterSize, int64(headSize))
		if err != nil {
			return nil, err
		}
		if uint64(len(headData)) < headSize {
			return nil, io.EOF
		}

		cur := 0
		readVint := func() (uint64, bool) {
			v, n, err := parse.Vint(headData[cur:])
			if err != nil {
				return 0, false
			}
			cur += n
			return v, true
		}

		blockType, ok := readVint()
		if !ok {
			return nil, io.EOF
		}
		flags, ok := readVint()
		if !ok {
			return nil, io.EOF
		}
		var extraSize, dataSize uint64
		if flags&rar5FlagExtraArea != 0 {
			if extraSize, ok = readVint(); !ok {
				return nil, io.EOF
			}
		}
		if flags&rar5FlagDataArea != 0 {
			if dataSize, ok = readVint(); !ok {
				return nil, io.EOF
			}
		}
		p.lastType = blockType

		// The data area follows the header proper, so it extends the next
		// block position beyond the declared header size.
		next := afterSize + int64(headSize) + int64(dataSize)
		if next <= p.pos {
			return nil, io.EOF
		}

		if blockType == rar5BlockEnd {
			return nil, io.EOF
		}

		if blockType == rar5BlockFile {
			// The extra area sits at the end of the header; the file fields
			// occupy what remains before it.
			blockEnd := len(headData)
			if extraSize > uint64(blockEnd-cur) {
				return nil, io.EOF
			}
			blockEnd -= int(extraSize)
			entry := parseRar5FileHeader(headData[cur:blockEnd], afterSize+int64(headSize), int64(dataSize))
			p.pos = next
			if entry == nil {
				return nil, io.EOF
			}
			return entry, nil
		}

		p.log.Debug("skipping block", "type", blockType, "pos", p.pos, "next", next)
		p.pos = next
	}
}

// parseRar5FileHeader decodes the file-specific fields. fields spans from
// after the data-area size vint up to the extra area. dataOffset is the
// absolute offset where the data area begins. A nil return means the header
// was truncated, which ends traversal.
func parseRar5FileHeader(fields []byte, dataOffset, dataSize int64) *FileEntry {
	cur := 0
	readVint := func() (uint64, bool) {
		v, n, err := parse.Vint(fields[cur:])
		if err != nil {
			return 0, false
		}
		cur += n
		return v, true
	}

	fileFlags, ok := readVint()
	if !ok {
		return nil
	}
	unpSize, ok := readVint()
	if !ok {
		return nil
	}
	if _, ok = readVint(); !ok { // attributes
		return nil
	}
	if fileFlags&rar5FileHasMtime != 0 {
		if len(fields)-cur < 4 {
			return nil
		}
		cur += 4
	}
	var crc uint32
	if fileFlags&rar5FileHasCRC32 != 0 {
		if len(fields)-cur < 4 {
			return nil
		}
		crc = binary.LittleEndian.Uint32(fields[cur : cur+4])
		cur += 4
	}
	compInfo, ok := readVint()
	if !ok {
		return nil
	}
	if _, ok = readVint(); !ok { // host OS
		return nil
	}
	nameLen, ok := readVint()
	if !ok {
		return nil
	}
	if nameLen == 0 || nameLen > uint64(len(fields)-cur) {
		return nil
	}
	name := unicode.Lossy(fields[cur : cur+int(nameLen)])

	// Normalize the 3-bit method nibble onto the RAR3 method byte space.
	method := MethodStore + int((compInfo>>7)&0x07)

	return &FileEntry{
		Path:         name,
		UnpackedSize: int64(unpSize),
		PackedSize:   dataSize,
		Method:       method,
		CRC32:        crc,
		IsDirectory:  fileFlags&rar5FileDirectory != 0,
		DataOffset:   dataOffset,
		NextOffset:   dataOffset + dataSize,
	}
}
