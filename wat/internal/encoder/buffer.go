// Package encoder assembles a parsed module's pieces into the binary
// WASM format: LEB128 integers, length-prefixed vectors, and the fixed
// section layout the format requires.
package encoder

// Buffer is an append-only byte sink with the WASM binary format's
// variable-length integer and vector encodings.
type Buffer struct {
	b []byte
}

// Bytes returns the accumulated bytes.
func (buf *Buffer) Bytes() []byte { return buf.b }

// WriteByte appends a single byte.
func (buf *Buffer) WriteByte(b byte) { buf.b = append(buf.b, b) }

// Write appends p verbatim.
func (buf *Buffer) Write(p []byte) { buf.b = append(buf.b, p...) }

// Uleb128 appends v as an unsigned LEB128 integer.
func (buf *Buffer) Uleb128(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

// Sleb128 appends v as a signed LEB128 integer, the encoding i32.const
// and i64.const immediates use.
func (buf *Buffer) Sleb128(v int64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

// Vec appends a length-prefixed byte vector: a "name" string or a raw
// data blob.
func (buf *Buffer) Vec(p []byte) {
	buf.Uleb128(uint64(len(p)))
	buf.Write(p)
}
