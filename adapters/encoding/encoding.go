// Package encoding implements the encoder-adapter layer from spec
// §4.4.1-4.4.3: wrapper streams that own a reusable destination buffer,
// encode each frame/block into it, and delegate the encoded bytes to
// the underlying avi.Muxer write path.
//
// Grounded on teocci/go-stream-av's av.AudioEncoder contract (CodecData
// / Encode / Close / SetSampleRate-style setter methods) generalized to
// the raw-buffer, caller-owns-memory shape the source encoder
// interfaces use, and on format/mp4.Muxer's pattern of a stream object
// that owns just enough state to translate one call into a write.
package encoding

import (
	"fmt"

	"github.com/teocci/go-avimux/avi"
	"github.com/teocci/go-avimux/riff"
)

// VideoEncoder is the external video encoder contract from spec
// §4.4.1: encode one top-down 32-bit BGR bitmap into dst, report the
// encoded length and whether the result is a key frame.
type VideoEncoder interface {
	Codec() riff.FourCC
	BitsPerPixel() int
	MaxEncodedSize() int
	Encode(src []byte, dst []byte) (encodedLen int, isKeyFrame bool, err error)
}

// AudioEncoder is the external audio encoder contract from spec §4.4.2.
type AudioEncoder interface {
	Channels() int
	SamplesPerSecond() int
	BitsPerSample() int
	FormatTag() uint16
	BytesPerSecond() uint32
	Granularity() uint16
	FormatSpecificData() []byte

	MaxEncodedLength(srcBytes int) int
	EncodeBlock(src []byte, dst []byte) (int, error)
	Flush(dst []byte) (int, error)
}

// growBuffer doubles cap starting from 4KiB until it can hold need
// bytes, matching spec §4.4.3's "grown monotonically by powers of two".
func growBuffer(buf []byte, need int) []byte {
	if cap(buf) >= need {
		return buf[:need]
	}
	newCap := cap(buf)
	if newCap == 0 {
		newCap = 4096
	}
	for newCap < need {
		newCap *= 2
	}
	return make([]byte, need, newCap)
}

// VideoStream wraps an avi.VideoStream and a VideoEncoder: writes go
// through Encode before reaching the muxer, and the stream's codec
// metadata is delegated to the encoder rather than settable directly.
type VideoStream struct {
	dst     *avi.VideoStream
	encoder VideoEncoder
	buf     []byte
}

// NewVideoStream creates an encoding wrapper. dst must already be
// registered with a Muxer; dst's codec is set from the encoder's Codec
// before writing begins. dst's bits per pixel is left as it was given
// to avi.NewVideoStream; the encoder's BitsPerPixel is not read.
func NewVideoStream(dst *avi.VideoStream, encoder VideoEncoder) (*VideoStream, error) {
	if err := dst.SetCodec(encoder.Codec()); err != nil {
		return nil, fmt.Errorf("encoding: configure video codec: %w", err)
	}
	return &VideoStream{dst: dst, encoder: encoder}, nil
}

// WriteFrame encodes src (a raw top-down 32-bit BGR bitmap) into the
// wrapper's reusable buffer and writes the encoded result through m.
func (s *VideoStream) WriteFrame(m *avi.Muxer, src []byte) error {
	s.buf = growBuffer(s.buf, s.encoder.MaxEncodedSize())
	n, isKeyFrame, err := s.encoder.Encode(src, s.buf)
	if err != nil {
		return fmt.Errorf("encoding: encode video frame: %w", err)
	}
	return m.WriteVideoFrame(s.dst, isKeyFrame, s.buf[:n])
}

// AudioStream wraps an avi.AudioStream and an AudioEncoder, per spec
// §4.4.3's audio residual-flush requirement at close.
type AudioStream struct {
	dst     *avi.AudioStream
	encoder AudioEncoder
	buf     []byte
	closed  bool
}

// NewAudioStream creates an encoding wrapper, setting dst's format tag,
// granularity, bytes per second and format-specific data from the
// encoder. dst keeps the channel count, sample rate and bits per sample
// it was created with; the encoder's Channels, SamplesPerSecond and
// BitsPerSample are not read. dst's FinishWriting is wired
// to this wrapper's Close, so a Muxer.Close call flushes any residual
// encoded bytes automatically (spec §4.3.10 step 1) without the caller
// having to remember a separate Close call on the wrapper.
func NewAudioStream(dst *avi.AudioStream, encoder AudioEncoder) (*AudioStream, error) {
	if err := dst.SetCompressedFormat(
		encoder.FormatTag(),
		encoder.Granularity(),
		encoder.BytesPerSecond(),
		encoder.FormatSpecificData(),
	); err != nil {
		return nil, fmt.Errorf("encoding: configure audio format: %w", err)
	}
	s := &AudioStream{dst: dst, encoder: encoder}
	dst.SetFinisher(func(m *avi.Muxer) error { return s.Close(m) })
	return s, nil
}

// WriteBlock encodes src into the wrapper's reusable buffer and writes
// the encoded result through m.
func (s *AudioStream) WriteBlock(m *avi.Muxer, src []byte) error {
	s.buf = growBuffer(s.buf, s.encoder.MaxEncodedLength(len(src)))
	n, err := s.encoder.EncodeBlock(src, s.buf)
	if err != nil {
		return fmt.Errorf("encoding: encode audio block: %w", err)
	}
	if n == 0 {
		return nil
	}
	return m.WriteAudioBlock(s.dst, s.buf[:n])
}

// Close flushes any residual encoded bytes as a final block, per spec
// §4.4.3. NewAudioStream already wires this as dst's finisher, so
// m.Close() calls it automatically; calling it directly first is safe
// too, since it no-ops on the second call.
func (s *AudioStream) Close(m *avi.Muxer) error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.buf = growBuffer(s.buf, s.encoder.MaxEncodedLength(0))
	n, err := s.encoder.Flush(s.buf)
	if err != nil {
		return fmt.Errorf("encoding: flush audio encoder: %w", err)
	}
	if n == 0 {
		return nil
	}
	return m.WriteAudioBlock(s.dst, s.buf[:n])
}
