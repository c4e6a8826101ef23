package packet

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// lossyStrings counts every string dropped to "" for invalid UTF-8 since boot.
var lossyStrings atomic.Uint64

// LossyStrings returns the process-wide count of strings replaced by "".
func LossyStrings() uint64 { return lossyStrings.Load() }

func (b *Buffer) take(n int) ([]byte, error) {
	if n < 0 || b.off+n > len(b.data) {
		return nil, fmt.Errorf("%w: need %d bytes at %d, have %d", ErrDecode, n, b.off, len(b.data)-b.off)
	}
	p := b.data[b.off : b.off+n]
	b.off += n
	return p, nil
}

// ReadU8 reads 1 byte.
func (b *Buffer) ReadU8() (uint8, error) {
	p, err := b.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// ReadBool reads 1 byte; anything but 0 or 1 is a decode error.
func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadU8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: bool byte %d", ErrDecode, v)
}

func (b *Buffer) readU16(o binary.ByteOrder) (uint16, error) {
	p, err := b.take(2)
	if err != nil {
		return 0, err
	}
	return o.Uint16(p), nil
}

func (b *Buffer) readU32(o binary.ByteOrder) (uint32, error) {
	p, err := b.take(4)
	if err != nil {
		return 0, err
	}
	return o.Uint32(p), nil
}

func (b *Buffer) readU64(o binary.ByteOrder) (uint64, error) {
	p, err := b.take(8)
	if err != nil {
		return 0, err
	}
	return o.Uint64(p), nil
}

func (b *Buffer) ReadU16() (uint16, error)   { return b.readU16(b.endian.order()) }
func (b *Buffer) ReadU16LE() (uint16, error) { return b.readU16(binary.LittleEndian) }
func (b *Buffer) ReadU16BE() (uint16, error) { return b.readU16(binary.BigEndian) }

func (b *Buffer) ReadU32() (uint32, error)   { return b.readU32(b.endian.order()) }
func (b *Buffer) ReadU32LE() (uint32, error) { return b.readU32(binary.LittleEndian) }
func (b *Buffer) ReadU32BE() (uint32, error) { return b.readU32(binary.BigEndian) }

func (b *Buffer) ReadU64() (uint64, error)   { return b.readU64(b.endian.order()) }
func (b *Buffer) ReadU64LE() (uint64, error) { return b.readU64(binary.LittleEndian) }
func (b *Buffer) ReadU64BE() (uint64, error) { return b.readU64(binary.BigEndian) }

func (b *Buffer) ReadI32() (int32, error) {
	v, err := b.ReadU32()
	return int32(v), err
}

func (b *Buffer) ReadI32LE() (int32, error) {
	v, err := b.ReadU32LE()
	return int32(v), err
}

func (b *Buffer) ReadI32BE() (int32, error) {
	v, err := b.ReadU32BE()
	return int32(v), err
}

func (b *Buffer) ReadI64() (int64, error) {
	v, err := b.ReadU64()
	return int64(v), err
}

func (b *Buffer) ReadI64LE() (int64, error) {
	v, err := b.ReadU64LE()
	return int64(v), err
}

func (b *Buffer) ReadI64BE() (int64, error) {
	v, err := b.ReadU64BE()
	return int64(v), err
}

func (b *Buffer) ReadF32() (float32, error) {
	v, err := b.ReadU32()
	return math.Float32frombits(v), err
}

func (b *Buffer) ReadF32LE() (float32, error) {
	v, err := b.ReadU32LE()
	return math.Float32frombits(v), err
}

func (b *Buffer) ReadF32BE() (float32, error) {
	v, err := b.ReadU32BE()
	return math.Float32frombits(v), err
}

// readStr reads a u64-prefixed string. Invalid UTF-8 is not an error: the
// bytes are consumed and "" is returned, and the drop is counted.
func (b *Buffer) readStr(o binary.ByteOrder) (string, error) {
	n, err := b.readU64(o)
	if err != nil {
		return "", err
	}
	if n > uint64(b.Remaining()) {
		return "", fmt.Errorf("%w: string length %d exceeds %d remaining", ErrDecode, n, b.Remaining())
	}
	raw, err := b.take(int(n))
	if err != nil {
		return "", err
	}
	if _, _, err := transform.Bytes(encoding.UTF8Validator, raw); err != nil {
		b.lossy++
		lossyStrings.Add(1)
		return "", nil
	}
	return string(raw), nil
}

func (b *Buffer) ReadStr() (string, error)   { return b.readStr(b.endian.order()) }
func (b *Buffer) ReadStrLE() (string, error) { return b.readStr(binary.LittleEndian) }
func (b *Buffer) ReadStrBE() (string, error) { return b.readStr(binary.BigEndian) }

// ReadBytes reads n raw bytes (copied).
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	p, err := b.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p)
	return out, nil
}
