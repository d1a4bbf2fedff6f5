// Package unicode implements the RAR3 legacy filename codec.
//
// RAR3 "Unicode" names store an ASCII prefix, a NUL, then a proprietary
// byte-level encoding of the full name: a stream of control-flag bytes, each
// selecting a number of 2-bit slots, where every slot either copies the next
// ASCII-prefix character, emits a literal low byte, combines a low byte with
// a running high byte into a 16-bit code point, or redefines that high byte.
package unicode

import "unicode/utf8"

// Decode expands a RAR3 encoded name. asciiPart is the prefix preceding the
// NUL separator in the raw name field, data the bytes following it. The
// running high byte persists across slots until redefined; once the control
// stream is exhausted, any remaining prefix characters are appended as-is.
func Decode(asciiPart, data []byte) string {
	if len(data) == 0 {
		return string(asciiPart)
	}
	result := make([]rune, 0, len(asciiPart))
	asciiPos := 0
	dataPos := 0
	var highByte byte
	for dataPos < len(data) {
		flags := data[dataPos]
		dataPos++
		var flagBits uint
		var flagCount int
		if flags&0x80 != 0 {
			// Extended selector: each set bit below the top pulls in another
			// control byte, four more slots per byte, up to 32 slots.
			flagBits = uint(flags)
			bitCount := 1
			for (flagBits&(0x80>>bitCount) != 0) && dataPos < len(data) {
				flagBits = ((flagBits & ((0x80 >> bitCount) - 1)) << 8) | uint(data[dataPos])
				dataPos++
				bitCount++
			}
			flagCount = bitCount * 4
		} else {
			flagBits = uint(flags)
			flagCount = 4
		}
		for i := 0; i < flagCount; i++ {
			if asciiPos >= len(asciiPart) && dataPos >= len(data) {
				break
			}
			switch (flagBits >> (i * 2)) & 0x03 {
			case 0:
				if asciiPos < len(asciiPart) {
					result = append(result, rune(asciiPart[asciiPos]))
					asciiPos++
				}
			case 1:
				if dataPos < len(data) {
					result = append(result, rune(data[dataPos]))
					dataPos++
				}
			case 2:
				if dataPos < len(data) {
					low := data[dataPos]
					dataPos++
					result = append(result, rune(uint16(low)|uint16(highByte)<<8))
				}
			case 3:
				if dataPos < len(data) {
					highByte = data[dataPos]
					dataPos++
				}
			}
		}
	}
	for asciiPos < len(asciiPart) {
		result = append(result, rune(asciiPart[asciiPos]))
		asciiPos++
	}
	return string(result)
}

// Lossy decodes b as UTF-8 when valid, otherwise as ASCII with undecodable
// bytes replaced.
func Lossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	result := make([]rune, 0, len(b))
	for _, c := range b {
		if c < utf8.RuneSelf {
			result = append(result, rune(c))
		} else {
			result = append(result, utf8.RuneError)
		}
	}
	return string(result)
}
