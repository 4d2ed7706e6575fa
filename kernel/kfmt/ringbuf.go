package kfmt

import "io"

// ringBufferSize is the capacity of the buffer holding Printf output emitted
// before an output sink is registered. It must be a power of 2 and defaults to
// enough space for a full 80x25 text screen.
const ringBufferSize = 2048

// ringBuffer retains the most recent ringBufferSize bytes written to it.
// Printf output produced before a sink exists lands here and is replayed into
// the sink once one is registered.
type ringBuffer struct {
	buffer            [ringBufferSize]byte
	readPos, writePos int
}

// Write appends p to the buffer, overwriting the oldest bytes once the
// capacity is exceeded.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.writePos] = b
		rb.writePos = (rb.writePos + 1) & (ringBufferSize - 1)
		if rb.readPos == rb.writePos {
			rb.readPos = (rb.readPos + 1) & (ringBufferSize - 1)
		}
	}

	return len(p), nil
}

// Read copies up to len(p) buffered bytes into p, consuming at most the
// contiguous chunk up to the wrap point per call, and reports io.EOF once the
// buffer is drained.
func (rb *ringBuffer) Read(p []byte) (n int, err error) {
	switch {
	case rb.readPos < rb.writePos:
		n = rb.writePos - rb.readPos
		if pLen := len(p); pLen < n {
			n = pLen
		}

		copy(p, rb.buffer[rb.readPos:rb.readPos+n])
		rb.readPos += n

		return n, nil
	case rb.readPos > rb.writePos:
		// The unread data wraps; serve the tail segment first.
		n = len(rb.buffer) - rb.readPos
		if pLen := len(p); pLen < n {
			n = pLen
		}

		copy(p, rb.buffer[rb.readPos:rb.readPos+n])
		rb.readPos += n

		if rb.readPos == len(rb.buffer) {
			rb.readPos = 0
		}

		return n, nil
	default:
		return 0, io.EOF
	}
}
