package kfmt

import "io"

// earlyBufferSize defines the size of the ring buffer that retains log output
// emitted before an output sink is attached. It must always be a power of 2.
const earlyBufferSize = 4096

// ringBuffer retains the most recent earlyBufferSize bytes written to it.
// Older bytes are silently overwritten.
type ringBuffer struct {
	buffer         [earlyBufferSize]byte
	rIndex, wIndex int
}

// Write writes len(p) bytes from p to the ringBuffer.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (earlyBufferSize - 1)
		if rb.rIndex == rb.wIndex {
			rb.rIndex = (rb.rIndex + 1) & (earlyBufferSize - 1)
		}
	}

	return len(p), nil
}

// Read reads up to len(p) bytes into p. It returns io.EOF once all buffered
// data has been consumed.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.rIndex == rb.wIndex {
		return 0, io.EOF
	}

	// Read either up to the write index or up to the end of the backing
	// array, whichever comes first; wrapped data is returned by the next
	// call.
	end := rb.wIndex
	if rb.rIndex > rb.wIndex {
		end = len(rb.buffer)
	}

	n := copy(p, rb.buffer[rb.rIndex:end])
	rb.rIndex = (rb.rIndex + n) & (earlyBufferSize - 1)
	return n, nil
}

// Len returns the number of unread bytes.
func (rb *ringBuffer) Len() int {
	return (rb.wIndex - rb.rIndex) & (earlyBufferSize - 1)
}

// Reset discards all buffered data.
func (rb *ringBuffer) Reset() {
	rb.rIndex, rb.wIndex = 0, 0
}
