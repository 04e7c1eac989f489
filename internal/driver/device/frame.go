// internal/driver/device/frame.go
// Fixed-size command buffer codec for the ODIN wire protocol.
package device

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// FrameSize is the fixed length of every ODIN command buffer.
const FrameSize = 1024

// Standard byte offsets used across the session/PIT/flash command families.
const (
	OffsetOpcode   = 0
	OffsetSubop    = 4
	OffsetArg0     = 8
	OffsetArg1     = 12
	OffsetArg2     = 16
	OffsetArg3     = 20
	OffsetArg4     = 24
	OffsetArg5     = 28
	OffsetArg6     = 32
	OffsetArg7     = 36
)

// Frame is a zero-padded 1024-byte command buffer sent to the device.
type Frame [FrameSize]byte

// NewFrame returns a zeroed command buffer.
func NewFrame() *Frame {
	return &Frame{}
}

// PutInt32 writes a signed little-endian 32-bit value at offset.
func (f *Frame) PutInt32(offset int, v int32) {
	binary.LittleEndian.PutUint32(f[offset:offset+4], uint32(v))
}

// Bytes returns the frame as a plain byte slice, ready to write.
func (f *Frame) Bytes() []byte {
	return f[:]
}

// DecodeUint32 reads an unsigned little-endian 32-bit value at offset.
// It fails with ErrProtocolError if b is too short.
func DecodeUint32(b []byte, offset int) (uint32, error) {
	if len(b) < offset+4 {
		return 0, fmt.Errorf("decode u32 at %d: %w", offset, ErrProtocolError)
	}
	return binary.LittleEndian.Uint32(b[offset : offset+4]), nil
}

// DecodeInt32 reads a signed little-endian 32-bit value at offset.
func DecodeInt32(b []byte, offset int) (int32, error) {
	u, err := DecodeUint32(b, offset)
	if err != nil {
		return 0, err
	}
	return int32(u), nil
}

// DecodeString trims leading and trailing NUL and space bytes from a
// fixed-width PIT text field (matching the source's strip/strip("\x20")/
// strip("\x00") chain) and validates the result as UTF-8.
func DecodeString(b []byte) (string, error) {
	start, end := 0, len(b)
	for end > 0 && (b[end-1] == 0x00 || b[end-1] == 0x20) {
		end--
	}
	for start < end && (b[start] == 0x00 || b[start] == 0x20) {
		start++
	}
	trimmed := b[start:end]
	if !utf8.Valid(trimmed) {
		return "", fmt.Errorf("decode string: %w", ErrProtocolError)
	}
	return string(trimmed), nil
}
