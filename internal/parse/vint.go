// Package parse holds the low-level RAR5 variable-length integer codec.
package parse

import (
	"errors"
	"io"
)

// MaxVintLen is the RAR5 cap on encoded vint length.
const MaxVintLen = 10

// ErrVintTooLong reports a vint whose continuation bits never terminate
// within the 10-byte cap, or one truncated mid-sequence.
var ErrVintTooLong = errors.New("vint too long or truncated")

// Vint decodes a RAR5 little-endian base-128 integer from b. It returns the
// value and the number of bytes consumed. An empty slice yields
// io.ErrUnexpectedEOF; a sequence that never clears the continuation bit
// within the cap (or runs out of bytes mid-sequence) yields ErrVintTooLong
// together with the count of bytes examined.
func Vint(b []byte) (uint64, int, error) {
	var val uint64
	n := 0
	for i := 0; i < len(b) && i < MaxVintLen; i++ {
		c := b[i]
		val |= uint64(c&0x7F) << (7 * i)
		n++
		if c&0x80 == 0 {
			return val, n, nil
		}
	}
	if n == 0 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	return 0, n, ErrVintTooLong
}

// AppendVint appends the RAR5 vint encoding of v to dst.
func AppendVint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}
