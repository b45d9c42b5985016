package sds

// ringBuffer is a fixed capacity byte queue. It is not safe for concurrent use.
type ringBuffer struct {
	data []byte
	head int
	size int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{data: make([]byte, capacity)}
}

func (b *ringBuffer) Len() int  { return b.size }
func (b *ringBuffer) Cap() int  { return len(b.data) }
func (b *ringBuffer) Free() int { return len(b.data) - b.size }

// Write appends as many bytes of p as fit and returns their number
func (b *ringBuffer) Write(p []byte) int {
	n := min(len(p), b.Free())
	tail := (b.head + b.size) % len(b.data)
	c := copy(b.data[tail:], p[:n])
	copy(b.data, p[c:n])
	b.size += n
	return n
}

// PeekInto copies up to len(p) bytes from the front without consuming them
func (b *ringBuffer) PeekInto(p []byte) int {
	n := min(len(p), b.size)
	end := b.head + n
	if end <= len(b.data) {
		return copy(p, b.data[b.head:end])
	}
	c := copy(p, b.data[b.head:])
	copy(p[c:n], b.data)
	return n
}

// Discard drops up to n bytes from the front
func (b *ringBuffer) Discard(n int) int {
	n = min(n, b.size)
	b.head = (b.head + n) % len(b.data)
	b.size -= n
	if b.size == 0 {
		b.head = 0
	}
	return n
}

// Read consumes up to len(p) bytes from the front
func (b *ringBuffer) Read(p []byte) int {
	return b.Discard(b.PeekInto(p))
}

// Reset drops all bytes
func (b *ringBuffer) Reset() {
	b.head, b.size = 0, 0
}
