package protocol

// LineBuffer assembles a byte stream into lines. '\n' and '\r' both end a
// line; empty lines are dropped. A line longer than MaxLineLength is
// discarded up to its terminator and reported as overflowed.
type LineBuffer struct {
	buf      [MaxLineLength]byte
	n        int
	overflow bool
}

// NewLineBuffer creates an empty line buffer
func NewLineBuffer() *LineBuffer {
	return &LineBuffer{}
}

// Feed adds one byte. When b completes a line, the line is returned with
// ok set. The returned slice is only valid until the next call to Feed.
func (l *LineBuffer) Feed(b byte) (line []byte, ok bool, overflowed bool) {
	if b == '\n' || b == '\r' {
		if l.overflow {
			l.overflow = false
			l.n = 0
			return nil, false, true
		}
		if l.n == 0 {
			return nil, false, false
		}
		line = l.buf[:l.n]
		l.n = 0
		return line, true, false
	}

	if l.overflow {
		return nil, false, false
	}
	if l.n >= len(l.buf) {
		l.overflow = true
		return nil, false, false
	}
	l.buf[l.n] = b
	l.n++
	return nil, false, false
}

// Pending returns the number of bytes of the unfinished line
func (l *LineBuffer) Pending() int {
	return l.n
}

// Reset drops any partial line
func (l *LineBuffer) Reset() {
	l.n = 0
	l.overflow = false
}

// FifoBuffer is a circular byte buffer holding replies until the transport
// drains them.
type FifoBuffer struct {
	buf   []byte
	read  int
	write int
	size  int
}

// NewFifoBuffer creates a new FifoBuffer with the specified capacity
func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{
		buf:  make([]byte, capacity+1),
		size: capacity + 1,
	}
}

// Write appends data and returns how many bytes fit
func (f *FifoBuffer) Write(data []byte) int {
	written := 0
	for _, b := range data {
		next := (f.write + 1) % f.size
		if next == f.read {
			// Full
			break
		}
		f.buf[f.write] = b
		f.write = next
		written++
	}
	return written
}

// Read moves up to len(data) bytes out of the buffer
func (f *FifoBuffer) Read(data []byte) int {
	n := 0
	for n < len(data) && f.read != f.write {
		data[n] = f.buf[f.read]
		f.read = (f.read + 1) % f.size
		n++
	}
	return n
}

// Available returns the number of bytes waiting to be read
func (f *FifoBuffer) Available() int {
	if f.write >= f.read {
		return f.write - f.read
	}
	return f.size - f.read + f.write
}

// Free returns the number of bytes that can still be written
func (f *FifoBuffer) Free() int {
	return f.size - 1 - f.Available()
}

// IsEmpty returns true if the buffer is empty
func (f *FifoBuffer) IsEmpty() bool {
	return f.read == f.write
}

// Reset clears the buffer
func (f *FifoBuffer) Reset() {
	f.read = 0
	f.write = 0
}
