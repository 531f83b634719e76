package wire

import (
	"encoding/binary"

	"github.com/c360/squawkbus/errors"
)

// DefaultMaxFrameSize bounds the length prefix a peer may claim.
const DefaultMaxFrameSize = 16 << 20

// FrameReader reassembles whole frames from an arbitrary stream of
// byte chunks. Partial frames are retained across writes. Once a
// framing error has been reported the reader is poisoned and every
// further call returns the same error.
type FrameReader struct {
	buf      []byte
	pos      int
	maxFrame int
	failed   error
}

// NewFrameReader returns a framer enforcing DefaultMaxFrameSize.
func NewFrameReader() *FrameReader {
	return NewFrameReaderSize(DefaultMaxFrameSize)
}

// NewFrameReaderSize returns a framer with an explicit frame size cap.
func NewFrameReaderSize(maxFrame int) *FrameReader {
	return &FrameReader{maxFrame: maxFrame}
}

// Write appends a chunk of bytes from the transport.
func (r *FrameReader) Write(chunk []byte) {
	if r.failed != nil {
		return
	}
	r.buf = append(r.buf, chunk...)
}

// frontLength returns the length prefix of the frontmost frame, or -1
// when fewer than 4 bytes are buffered.
func (r *FrameReader) frontLength() int {
	if len(r.buf)-r.pos < 4 {
		return -1
	}
	return int(binary.BigEndian.Uint32(r.buf[r.pos:]))
}

// HasFrame reports whether a whole frame is buffered. An oversized
// length prefix poisons the reader; the error surfaces from Read.
func (r *FrameReader) HasFrame() bool {
	if r.failed != nil {
		return true
	}
	n := r.frontLength()
	if n < 0 {
		return false
	}
	if n > r.maxFrame {
		r.failed = errors.ErrFrameTooLarge
		return true
	}
	return len(r.buf)-r.pos-4 >= n
}

// Read returns the frontmost frame body and advances past it. It must
// only be called after HasFrame reports true.
func (r *FrameReader) Read() (*Buffer, error) {
	if r.failed != nil {
		return nil, r.failed
	}
	n := r.frontLength()
	if n < 0 || len(r.buf)-r.pos-4 < n {
		return nil, errors.ErrTruncated
	}
	if n > r.maxFrame {
		r.failed = errors.ErrFrameTooLarge
		return nil, r.failed
	}
	body := make([]byte, n)
	copy(body, r.buf[r.pos+4:])
	r.pos += 4 + n

	// Compact once the consumed prefix dominates the accumulator.
	if r.pos > len(r.buf)/2 {
		r.buf = append(r.buf[:0], r.buf[r.pos:]...)
		r.pos = 0
	}

	return BufferFrom(body), nil
}

// Buffered returns the number of bytes held but not yet consumed.
func (r *FrameReader) Buffered() int {
	return len(r.buf) - r.pos
}
