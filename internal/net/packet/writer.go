package packet

import (
	"encoding/binary"
	"math"
)

// Plain writers use the buffer's Endian; the LE/BE variants ignore it.
// Writes to a finished buffer are dropped so the header always matches the
// payload.

func (b *Buffer) append(p ...byte) {
	if b.finished {
		return
	}
	b.data = append(b.data, p...)
	b.off = len(b.data)
}

func (b *Buffer) put(n int, fn func([]byte)) {
	var tmp [8]byte
	fn(tmp[:n])
	b.append(tmp[:n]...)
}

// WriteU8 writes 1 byte.
func (b *Buffer) WriteU8(v uint8) { b.append(v) }

// WriteBool writes 1 byte, 1 for true.
func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteU8(1)
		return
	}
	b.WriteU8(0)
}

func (b *Buffer) writeU16(o binary.ByteOrder, v uint16) {
	b.put(2, func(p []byte) { o.PutUint16(p, v) })
}

func (b *Buffer) writeU32(o binary.ByteOrder, v uint32) {
	b.put(4, func(p []byte) { o.PutUint32(p, v) })
}

func (b *Buffer) writeU64(o binary.ByteOrder, v uint64) {
	b.put(8, func(p []byte) { o.PutUint64(p, v) })
}

func (b *Buffer) WriteU16(v uint16)   { b.writeU16(b.endian.order(), v) }
func (b *Buffer) WriteU16LE(v uint16) { b.writeU16(binary.LittleEndian, v) }
func (b *Buffer) WriteU16BE(v uint16) { b.writeU16(binary.BigEndian, v) }

func (b *Buffer) WriteU32(v uint32)   { b.writeU32(b.endian.order(), v) }
func (b *Buffer) WriteU32LE(v uint32) { b.writeU32(binary.LittleEndian, v) }
func (b *Buffer) WriteU32BE(v uint32) { b.writeU32(binary.BigEndian, v) }

func (b *Buffer) WriteU64(v uint64)   { b.writeU64(b.endian.order(), v) }
func (b *Buffer) WriteU64LE(v uint64) { b.writeU64(binary.LittleEndian, v) }
func (b *Buffer) WriteU64BE(v uint64) { b.writeU64(binary.BigEndian, v) }

func (b *Buffer) WriteI32(v int32)   { b.WriteU32(uint32(v)) }
func (b *Buffer) WriteI32LE(v int32) { b.WriteU32LE(uint32(v)) }
func (b *Buffer) WriteI32BE(v int32) { b.WriteU32BE(uint32(v)) }

func (b *Buffer) WriteI64(v int64)   { b.WriteU64(uint64(v)) }
func (b *Buffer) WriteI64LE(v int64) { b.WriteU64LE(uint64(v)) }
func (b *Buffer) WriteI64BE(v int64) { b.WriteU64BE(uint64(v)) }

func (b *Buffer) WriteF32(v float32)   { b.WriteU32(math.Float32bits(v)) }
func (b *Buffer) WriteF32LE(v float32) { b.WriteU32LE(math.Float32bits(v)) }
func (b *Buffer) WriteF32BE(v float32) { b.WriteU32BE(math.Float32bits(v)) }

func (b *Buffer) writeStr(o binary.ByteOrder, s string) {
	if b.finished {
		return
	}
	b.writeU64(o, uint64(len(s)))
	b.append([]byte(s)...)
}

// WriteStr writes a u64 length prefix followed by the UTF-8 bytes.
func (b *Buffer) WriteStr(s string)   { b.writeStr(b.endian.order(), s) }
func (b *Buffer) WriteStrLE(s string) { b.writeStr(binary.LittleEndian, s) }
func (b *Buffer) WriteStrBE(s string) { b.writeStr(binary.BigEndian, s) }

// WriteBytes writes raw bytes without a prefix.
func (b *Buffer) WriteBytes(p []byte) { b.append(p...) }
