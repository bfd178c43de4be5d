package riff

import (
	"bytes"
	"fmt"
	"io"
)

// SeekableBuffer is an in-memory io.WriteSeeker, for tests and for
// callers assembling a file before copying it to its final home.
// Adapted from charlescerisier/avixer's avi.SeekableBuffer.
type SeekableBuffer struct {
	buf []byte
	pos int64
}

// NewSeekableBuffer returns an empty SeekableBuffer.
func NewSeekableBuffer() *SeekableBuffer {
	return &SeekableBuffer{}
}

// Write writes p at the current position, overwriting existing bytes
// and growing the buffer as needed.
func (sb *SeekableBuffer) Write(p []byte) (int, error) {
	end := sb.pos + int64(len(p))
	if end > int64(len(sb.buf)) {
		grown := make([]byte, end)
		copy(grown, sb.buf)
		sb.buf = grown
	}
	n := copy(sb.buf[sb.pos:end], p)
	sb.pos += int64(n)
	return n, nil
}

// Seek repositions the cursor, zero-filling if it moves past the
// current length.
func (sb *SeekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = sb.pos + offset
	case io.SeekEnd:
		newPos = int64(len(sb.buf)) + offset
	default:
		return 0, fmt.Errorf("riff: invalid seek whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("riff: seek before start of buffer")
	}
	if newPos > int64(len(sb.buf)) {
		sb.buf = append(sb.buf, make([]byte, newPos-int64(len(sb.buf)))...)
	}
	sb.pos = newPos
	return newPos, nil
}

// Read implements io.Reader for round-trip tests.
func (sb *SeekableBuffer) Read(p []byte) (int, error) {
	if sb.pos >= int64(len(sb.buf)) {
		return 0, io.EOF
	}
	n := copy(p, sb.buf[sb.pos:])
	sb.pos += int64(n)
	return n, nil
}

// Bytes returns the full buffer contents.
func (sb *SeekableBuffer) Bytes() []byte { return sb.buf }

// Len returns the buffer length.
func (sb *SeekableBuffer) Len() int { return len(sb.buf) }

// NewReader returns an independent reader over the current contents,
// for feeding a probe/demuxer in tests.
func (sb *SeekableBuffer) NewReader() *bytes.Reader {
	return bytes.NewReader(sb.buf)
}
