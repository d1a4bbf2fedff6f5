package rarar

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"strings"

	"github.com/javi11/rarar/internal/unicode"
)

// RAR3/4 block types.
const (
	rar3BlockArchive = 0x73
	rar3BlockFile    = 0x74
	rar3BlockEnd     = 0x7B
)

// RAR3/4 header flag bits.
const (
	rar3FlagDirectory   = 0xE0 // masked field: all three bits must be set
	rar3FlagHighSize    = 0x0100
	rar3FlagUnicodeName = 0x0200
	rar3FlagHasData     = 0x8000
)

// rar3HeaderLen is the generic block prefix: CRC16, type, flags, size.
const rar3HeaderLen = 7

// rar3FixedLen is the fixed file-header area after the generic prefix:
// packed size, unpacked size, host OS, CRC32, timestamp, version, method,
// name length, attributes.
const rar3FixedLen = 25

// rar3BufSize is the traversal read-ahead window; headers are small, so one
// window typically covers many consecutive blocks.
const rar3BufSize = 32 * 1024

// rar3Parser walks RAR 3.x/4.x block headers. Traversal keeps a read-ahead
// buffer refilled whenever the next header would cross the buffered window,
// and skips data areas by offset arithmetic alone.
type rar3Parser struct {
	src ByteSource
	log *slog.Logger

	pos      int64
	buf      []byte
	bufStart int64
}

func newRar3Parser(src ByteSource, log *slog.Logger) *rar3Parser {
	return &rar3Parser{src: src, log: log.With("format", "rar3")}
}

func (p *rar3Parser) findMarker() (int64, error) {
	return findMarker(p.src, sigRar3, defaultChunkSize)
}

// start validates the archive header that must directly follow the marker.
// A wrong block type is the one structural failure that is always fatal: it
// means the source is not a RAR3 archive at all.
func (p *rar3Parser) start(marker int64) error {
	pos := marker + int64(len(sigRar3))
	header, err := p.bytesAt(pos, rar3HeaderLen)
	if err != nil {
		return err
	}
	if len(header) < rar3HeaderLen {
		return ErrInvalidFormat
	}
	if header[2] != rar3BlockArchive {
		return ErrInvalidFormat
	}
	headSize := int64(binary.LittleEndian.Uint16(header[5:7]))
	p.pos = pos + headSize
	return nil
}

func (p *rar3Parser) next() (*FileEntry, error) {
	for {
		header, err := p.bytesAt(p.pos, rar3HeaderLen)
		if err != nil {
			return nil, err
		}
		if len(header) < rar3HeaderLen {
			return nil, io.EOF
		}
		blockType := header[2]
		flags := binary.LittleEndian.Uint16(header[3:5])
		headSize := int64(binary.LittleEndian.Uint16(header[5:7]))

		if blockType == rar3BlockEnd {
			return nil, io.EOF
		}
		if headSize < rar3HeaderLen {
			// Malformed block; stop deterministically instead of looping.
			p.log.Debug("undersized block header", "pos", p.pos, "size", headSize)
			return nil, io.EOF
		}

		if blockType == rar3BlockFile {
			headerData, err := p.bytesAt(p.pos, int(headSize))
			if err != nil {
				return nil, err
			}
			if int64(len(headerData)) < headSize {
				return nil, io.EOF
			}
			entry := parseRar3FileHeader(headerData, p.pos)
			if entry == nil {
				// Unparseable file block: advance past the header only.
				next := p.pos + headSize
				if next <= p.pos {
					return nil, io.EOF
				}
				p.pos = next
				continue
			}
			if entry.NextOffset <= p.pos {
				return nil, io.EOF
			}
			p.pos = entry.NextOffset
			return entry, nil
		}

		// Non-file block: skip by declared header size. A data-carrying
		// block stores its payload size in the 4 bytes immediately before
		// the computed next position.
		next := p.pos + headSize
		if flags&rar3FlagHasData != 0 {
			addField, err := p.bytesAt(next-4, 4)
			if err != nil {
				return nil, err
			}
			if len(addField) < 4 {
				return nil, io.EOF
			}
			next += int64(binary.LittleEndian.Uint32(addField))
		}
		if next <= p.pos {
			return nil, io.EOF
		}
		p.log.Debug("skipping block", "type", blockType, "pos", p.pos, "next", next)
		p.pos = next
	}
}

// bytesAt returns n bytes starting at start, served from the read-ahead
// window when covered and refilled from the source otherwise. A short slice
// means the stream ended.
func (p *rar3Parser) bytesAt(start int64, n int) ([]byte, error) {
	end := start + int64(n)
	if start >= p.bufStart && end <= p.bufStart+int64(len(p.buf)) {
		off := start - p.bufStart
		return p.buf[off : off+int64(n)], nil
	}
	want := int64(n)
	if want < rar3BufSize {
		want = rar3BufSize
	}
	buf, err := readAt(p.src, start, want)
	if err != nil {
		return nil, err
	}
	p.buf = buf
	p.bufStart = start
	if int64(len(buf)) < int64(n) {
		return buf, nil
	}
	return buf[:n], nil
}

// parseRar3FileHeader decodes a complete file-header block. headerData spans
// the whole declared header size starting at the generic prefix. Returns nil
// when the header is internally inconsistent; the caller then skips the
// block.
func parseRar3FileHeader(headerData []byte, pos int64) *FileEntry {
	if len(headerData) < rar3HeaderLen+rar3FixedLen {
		return nil
	}
	flags := binary.LittleEndian.Uint16(headerData[3:5])
	headSize := int64(binary.LittleEndian.Uint16(headerData[5:7]))

	fixed := headerData[rar3HeaderLen : rar3HeaderLen+rar3FixedLen]
	packSize := uint64(binary.LittleEndian.Uint32(fixed[0:4]))
	unpSize := uint64(binary.LittleEndian.Uint32(fixed[4:8]))
	crc := binary.LittleEndian.Uint32(fixed[9:13])
	method := fixed[18]
	nameLen := int(binary.LittleEndian.Uint16(fixed[19:21]))

	offset := rar3HeaderLen + rar3FixedLen
	if flags&rar3FlagHighSize != 0 {
		if offset+8 > len(headerData) {
			return nil
		}
		highPack := uint64(binary.LittleEndian.Uint32(headerData[offset : offset+4]))
		highUnp := uint64(binary.LittleEndian.Uint32(headerData[offset+4 : offset+8]))
		packSize |= highPack << 32
		unpSize |= highUnp << 32
		offset += 8
	}
	if offset+nameLen > len(headerData) {
		return nil
	}
	nameField := headerData[offset : offset+nameLen]

	var name string
	if flags&rar3FlagUnicodeName != 0 {
		if zero := bytes.IndexByte(nameField, 0); zero >= 0 {
			name = unicode.Decode(nameField[:zero], nameField[zero+1:])
		} else {
			name = unicode.Lossy(nameField)
		}
	} else {
		name = unicode.Lossy(nameField)
	}

	dataOffset := pos + headSize
	nextOffset := dataOffset
	if flags&rar3FlagHasData != 0 {
		nextOffset += int64(packSize)
	}

	return &FileEntry{
		Path:         strings.ReplaceAll(name, "\\", "/"),
		UnpackedSize: int64(unpSize),
		PackedSize:   int64(packSize),
		Method:       int(method),
		CRC32:        crc,
		IsDirectory:  flags&rar3FlagDirectory == rar3FlagDirectory,
		DataOffset:   dataOffset,
		NextOffset:   nextOffset,
	}
}
