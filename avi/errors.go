package avi

import "errors"

// Sentinel errors callers can compare against with errors.Is, mirroring
// the aviio.ErrInvalidFormat / mp4io.ParseError style seen across the
// retrieval pack rather than a single catch-all error type.
var (
	// ErrStreamFrozen is returned when metadata on a stream is mutated
	// after the first frame/block has been written to the multiplexer.
	ErrStreamFrozen = errors.New("avi: stream is frozen and cannot be modified")

	// ErrWritingStarted is returned by AddVideoStream/AddAudioStream
	// once the multiplexer has begun writing.
	ErrWritingStarted = errors.New("avi: cannot add stream after writing has started")

	// ErrTooManyStreams is returned when a 101st stream is added; a
	// stream index must fit in two decimal digits.
	ErrTooManyStreams = errors.New("avi: at most 100 streams are supported")

	// ErrSuperIndexFull is returned when a stream's flushed
	// standard-index count would exceed the 256 slots reserved in the
	// header's "indx" chunk.
	ErrSuperIndexFull = errors.New("avi: stream super-index is full (256 entries)")

	// ErrNotStarted is returned by operations that require
	// prepareForWriting to have already run.
	ErrNotStarted = errors.New("avi: multiplexer has not started writing yet")

	// ErrClosed is returned by any write attempted after Close.
	ErrClosed = errors.New("avi: multiplexer is closed")

	// ErrInvalidBitsPerPixel is returned when a video stream is
	// configured with a bits-per-pixel value other than 8, 16, 24, 32.
	ErrInvalidBitsPerPixel = errors.New("avi: bitsPerPixel must be one of 8, 16, 24, 32")

	// ErrSizeExceedsLimit is a layout/arithmetic error: a chunk or list
	// grew past what a 32-bit RIFF size field can declare.
	ErrSizeExceedsLimit = errors.New("avi: item size exceeds u32 limit")
)
