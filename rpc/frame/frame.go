package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/cespare/xxhash/v2"
)

// Frame format (all integers little endian):
//
//	offset  size  field
//	0       2     magic "SD"
//	2       1     version
//	3       1     flags (bit0 EOS, bit1 CONTROL)
//	4       4     stream id
//	8       4     sequence number
//	12      4     payload length
//	16      4     payload checksum
//	20      4     header checksum (over bytes 0..19)
//	24      n     payload
const (
	HeaderSize = 24
	Version    = 1

	// MaxPayload is the largest payload a single frame can carry
	MaxPayload = 1 << 20

	magic0 = 'S'
	magic1 = 'D'
)

var (
	// ErrCorrupt is returned by the decoder when bytes had to be skipped
	ErrCorrupt = errors.New("corrupt frame")
	// ErrPayloadTooLarge is returned when encoding a frame above MaxPayload
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Flags of a frame
type Flags uint8

const (
	// FlagEOS marks the last frame of a stream direction
	FlagEOS Flags = 1 << 0
	// FlagControl marks frames whose payload is a serialized control message
	FlagControl Flags = 1 << 1
)

// String returns a compact representation like "EOS|CTL"
func (f Flags) String() string {
	switch f & (FlagEOS | FlagControl) {
	case 0:
		return "-"
	case FlagEOS:
		return "EOS"
	case FlagControl:
		return "CTL"
	default:
		return "EOS|CTL"
	}
}

// Frame is the unit of transfer on a link
type Frame struct {
	Flags    Flags
	StreamID uint32
	Seq      uint32
	Payload  []byte
}

// EOS reports whether the end of stream flag is set
func (f *Frame) EOS() bool {
	return f.Flags&FlagEOS != 0
}

// IsControl reports whether the frame carries a control message
func (f *Frame) IsControl() bool {
	return f.Flags&FlagControl != 0
}

// Size returns the encoded size of the frame
func (f *Frame) Size() int {
	return HeaderSize + len(f.Payload)
}

// String is used in log messages
func (f *Frame) String() string {
	return fmt.Sprintf("frame{stream=%d seq=%d flags=%s len=%d}", f.StreamID, f.Seq, f.Flags, len(f.Payload))
}

// AppendBinary appends the encoded frame to b and returns the extended buffer
func (f *Frame) AppendBinary(b []byte) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return b, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Payload))
	}

	start := len(b)
	b = append(b, make([]byte, HeaderSize)...)
	hdr := b[start : start+HeaderSize]

	hdr[0] = magic0
	hdr[1] = magic1
	hdr[2] = Version
	hdr[3] = byte(f.Flags)
	binary.LittleEndian.PutUint32(hdr[4:8], f.StreamID)
	binary.LittleEndian.PutUint32(hdr[8:12], f.Seq)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(f.Payload)))
	binary.LittleEndian.PutUint32(hdr[16:20], checksum(f.Payload))
	binary.LittleEndian.PutUint32(hdr[20:24], checksum(hdr[:20]))

	return append(b, f.Payload...), nil
}

// Encode returns the frame as a new byte slice
func (f *Frame) Encode() ([]byte, error) {
	return f.AppendBinary(make([]byte, 0, f.Size()))
}

// checksum returns the lower 32 bits of the xxhash64 digest of b
func checksum(b []byte) uint32 {
	return uint32(xxhash.Sum64(b))
}
