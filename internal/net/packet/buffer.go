package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the reserved length header in front of every payload.
const HeaderSize = 8

var (
	// ErrDecode reports a structurally broken buffer: short reads, bad
	// lengths, unknown packet ids or trailing bytes.
	ErrDecode = errors.New("packet decode")
	// ErrFinished is returned by a second Finish on the same buffer.
	ErrFinished = errors.New("packet already finished")
)

// Endian selects the byte order of the plain (suffix-less) primitives and the
// length header. A connection uses one Endian for its whole lifetime.
type Endian uint8

const (
	LittleEndian Endian = iota
	BigEndian
)

func (e Endian) order() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (e Endian) String() string {
	if e == BigEndian {
		return "big"
	}
	return "little"
}

// Uint64 decodes a header-sized prefix of p.
func (e Endian) Uint64(p []byte) uint64 { return e.order().Uint64(p) }

// ParseEndian maps the config spelling to an Endian.
func ParseEndian(s string) (Endian, error) {
	switch s {
	case "little", "":
		return LittleEndian, nil
	case "big":
		return BigEndian, nil
	}
	return LittleEndian, fmt.Errorf("unknown endian %q", s)
}

// Buffer is an outbound or inbound message: an 8-byte length header followed
// by the payload. Writers append at the cursor and call Finish once; readers
// wrap a received frame and consume from the cursor.
type Buffer struct {
	data     []byte
	off      int
	endian   Endian
	finished bool
	lossy    int
}

// NewBuffer returns an empty outbound buffer with the header reserved.
func NewBuffer(e Endian) *Buffer {
	b := &Buffer{data: make([]byte, HeaderSize, 64), off: HeaderSize, endian: e}
	return b
}

// NewBufferWithID starts an outbound buffer with a server packet id.
func NewBufferWithID(e Endian, id ServerPacket) *Buffer {
	b := NewBuffer(e)
	b.WriteU16(uint16(id))
	return b
}

// Wrap builds an inbound buffer over a full frame (header included). The
// cursor starts at the first payload byte.
func Wrap(frame []byte, e Endian) (*Buffer, error) {
	if len(frame) < HeaderSize {
		return nil, fmt.Errorf("%w: frame of %d bytes has no header", ErrDecode, len(frame))
	}
	b := &Buffer{data: frame, off: HeaderSize, endian: e, finished: true}
	declared := b.endian.order().Uint64(frame[:HeaderSize])
	if declared != uint64(len(frame)-HeaderSize) {
		return nil, fmt.Errorf("%w: header says %d, payload is %d", ErrDecode, declared, len(frame)-HeaderSize)
	}
	return b, nil
}

// Endian returns the byte order bound to the buffer.
func (b *Buffer) Endian() Endian { return b.endian }

// Finish rewrites the header with the payload length. It must run exactly
// once, after the last write; later writes are dropped.
func (b *Buffer) Finish() error {
	if b.finished {
		return ErrFinished
	}
	b.off = 0
	b.endian.order().PutUint64(b.data[:HeaderSize], uint64(len(b.data)-HeaderSize))
	b.off = HeaderSize
	b.finished = true
	return nil
}

// MustFinish is Finish for freshly built buffers that cannot have been
// finished already.
func (b *Buffer) MustFinish() *Buffer {
	if err := b.Finish(); err != nil {
		panic(err)
	}
	return b
}

// Header returns the length currently stored in the header.
func (b *Buffer) Header() uint64 {
	return b.endian.order().Uint64(b.data[:HeaderSize])
}

// Bytes returns the raw frame for the transport.
func (b *Buffer) Bytes() []byte { return b.data }

// Payload returns the bytes after the header.
func (b *Buffer) Payload() []byte { return b.data[HeaderSize:] }

// Len is the logical length of the frame, header included.
func (b *Buffer) Len() int { return len(b.data) }

// IsEmpty reports a zero-length payload.
func (b *Buffer) IsEmpty() bool { return len(b.data) <= HeaderSize }

// Remaining returns the unread byte count.
func (b *Buffer) Remaining() int { return len(b.data) - b.off }

// Cursor returns the read/write position.
func (b *Buffer) Cursor() int { return b.off }

// Lossy counts strings that were replaced by "" because of invalid UTF-8.
func (b *Buffer) Lossy() int { return b.lossy }
