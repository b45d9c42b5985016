package frame

import (
	"bytes"
	"encoding/binary"
)

// Decoder turns a byte stream back into frames. It keeps incomplete frames
// between calls, so a receive that times out halfway through a frame does not
// lose any bytes.
//
// When the bytes at the current position do not form a valid frame (wrong
// magic, bad checksum, unknown version, oversized payload) the decoder drops
// bytes until the next possible frame start and reports ErrCorrupt once for the
// skipped run. Frames lost this way surface as sequence gaps.
type Decoder struct {
	buf        []byte
	off        int
	maxPayload int

	corrupt uint64
	skipped uint64
}

// NewDecoder creates a decoder that accepts payloads up to maxPayload bytes.
// Values <= 0 or above MaxPayload select MaxPayload.
func NewDecoder(maxPayload int) *Decoder {
	if maxPayload <= 0 || maxPayload > MaxPayload {
		maxPayload = MaxPayload
	}
	return &Decoder{maxPayload: maxPayload}
}

// Feed appends received bytes to the decoder
func (d *Decoder) Feed(p []byte) {
	// compact before growing so the buffer does not creep forward forever
	if d.off > 0 && (d.off == len(d.buf) || d.off > cap(d.buf)/2) {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Next returns the next complete frame. It returns (nil, nil) when more bytes
// are needed and (nil, ErrCorrupt) after skipping garbage. The returned
// payload is a copy and stays valid after further calls.
func (d *Decoder) Next() (*Frame, error) {
	data := d.buf[d.off:]

	// find the frame start
	if len(data) > 0 && !hasMagic(data) {
		skip := bytes.Index(data, []byte{magic0, magic1})
		if skip < 0 {
			// keep a trailing first magic byte, it may be completed by the next read
			skip = len(data)
			if data[len(data)-1] == magic0 {
				skip--
			}
		}
		if skip > 0 {
			d.discard(skip)
			return nil, ErrCorrupt
		}
	}

	if len(data) < HeaderSize {
		return nil, nil
	}

	hdr := data[:HeaderSize]
	if binary.LittleEndian.Uint32(hdr[20:24]) != checksum(hdr[:20]) || hdr[2] != Version {
		d.discard(1)
		return nil, ErrCorrupt
	}

	length := int(binary.LittleEndian.Uint32(hdr[12:16]))
	if length > d.maxPayload {
		d.discard(1)
		return nil, ErrCorrupt
	}

	if len(data) < HeaderSize+length {
		return nil, nil
	}

	payload := data[HeaderSize : HeaderSize+length]
	if binary.LittleEndian.Uint32(hdr[16:20]) != checksum(payload) {
		d.discard(1)
		return nil, ErrCorrupt
	}

	f := &Frame{
		Flags:    Flags(hdr[3]),
		StreamID: binary.LittleEndian.Uint32(hdr[4:8]),
		Seq:      binary.LittleEndian.Uint32(hdr[8:12]),
		Payload:  append([]byte(nil), payload...),
	}
	d.off += HeaderSize + length

	return f, nil
}

// Buffered returns the number of bytes held for an incomplete frame
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Corrupt returns how many times the decoder had to resynchronize
func (d *Decoder) Corrupt() uint64 {
	return d.corrupt
}

// Skipped returns the total number of bytes dropped while resynchronizing
func (d *Decoder) Skipped() uint64 {
	return d.skipped
}

// Reset drops all buffered bytes
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.off = 0
}

func (d *Decoder) discard(n int) {
	d.off += n
	d.corrupt++
	d.skipped += uint64(n)
}

func hasMagic(b []byte) bool {
	if b[0] != magic0 {
		return false
	}
	return len(b) < 2 || b[1] == magic1
}
