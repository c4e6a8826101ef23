package net

import (
	"fmt"
	"io"

	"github.com/l1jgo/worldmesh/internal/net/packet"
)

// ReadFrame reads one frame from r.
// Wire format: [8 bytes: payload length in the connection endian][payload].
// Returns the whole frame, header included, ready for packet.Wrap.
func ReadFrame(r io.Reader, e packet.Endian, maxPayload int) ([]byte, error) {
	var header [packet.HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	n := e.Uint64(header[:])
	if n > uint64(maxPayload) {
		return nil, fmt.Errorf("invalid frame length: %d", n)
	}

	frame := make([]byte, packet.HeaderSize+int(n))
	copy(frame, header[:])
	if _, err := io.ReadFull(r, frame[packet.HeaderSize:]); err != nil {
		return nil, fmt.Errorf("read frame payload (%d bytes): %w", n, err)
	}
	return frame, nil
}

// WriteFrame writes one finished frame to w.
func WriteFrame(w io.Writer, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
