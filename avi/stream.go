package avi

import (
	"fmt"
	"math"

	"github.com/teocci/go-avimux/riff"
)

// Stream is implemented by VideoStream and AudioStream. It carries the
// per-stream identity and metadata described in spec §3 ("Stream
// (base)"); a Stream never writes bytes itself — the Muxer processes
// frames/blocks and owns the counters and indices in streamState.
//
// Modeled on teocci/go-stream-av's format/mp4.Stream, which likewise
// pairs a codec-agnostic base (av.CodecData embedding) with a muxer
// back-reference, collapsed here to a one-way ownership: the Muxer
// holds Streams and their mutable state, and a Stream never stores a
// reference back into the Muxer (see spec §9, "Cyclic references").
// FinishWriting is the one exception the spec itself calls for: Close
// passes its Muxer in as a transient, non-owning handle so an encoder
// adapter's finisher closure can flush residual bytes through the
// ordinary write path, without the Stream ever holding onto it.
type Stream interface {
	// Index returns the stream's position (0..99) in the muxer.
	Index() int
	// Name returns the optional ASCII stream name.
	Name() string
	// SetName sets the optional ASCII stream name. Fails once frozen.
	SetName(name string) error
	// StreamType returns "vids" or "auds".
	StreamType() riff.FourCC
	// ChunkID returns the stream's data chunk id ("##db"/"##dc"/"##wb").
	// Only valid once frozen.
	ChunkID() riff.FourCC
	// IsFrozen reports whether the stream is frozen, i.e. metadata
	// mutation is no longer allowed.
	IsFrozen() bool

	// FinishWriting is called once per stream by Close, before any
	// index is flushed, per spec §4.3.10 step 1. The default does
	// nothing; encoder adapters register a finisher (SetFinisher) that
	// flushes residual encoded bytes by writing one last frame/block
	// through m.
	FinishWriting(m *Muxer) error

	freeze(index int)
	strfPayload() ([]byte, error)
	strhPayload(info *streamState, frameRateNum, frameRateDen uint32) ([]byte, error)
}

// streamBase implements the shared bookkeeping every concrete stream
// embeds: index/name assignment, freeze semantics, and the chunk-id
// derivation rule from spec §3.
type streamBase struct {
	index      int
	name       string
	streamType riff.FourCC
	chunkID    riff.FourCC
	frozen     bool
	finisher   func(*Muxer) error
}

// SetFinisher registers fn as this stream's FinishWriting callback.
// Encoder adapters use this to hook their residual-flush into Close
// without the Stream itself holding a reference back to the Muxer
// between calls.
func (b *streamBase) SetFinisher(fn func(*Muxer) error) {
	b.finisher = fn
}

// FinishWriting runs the registered finisher, if any. The default
// no-op covers plain (non-adapted) streams.
func (b *streamBase) FinishWriting(m *Muxer) error {
	if b.finisher == nil {
		return nil
	}
	return b.finisher(m)
}

func (b *streamBase) Index() int               { return b.index }
func (b *streamBase) Name() string             { return b.name }
func (b *streamBase) StreamType() riff.FourCC  { return b.streamType }
func (b *streamBase) IsFrozen() bool           { return b.frozen }
func (b *streamBase) ChunkID() riff.FourCC     { return b.chunkID }

func (b *streamBase) SetName(name string) error {
	if b.frozen {
		return fmt.Errorf("avi: set stream name: %w", ErrStreamFrozen)
	}
	b.name = name
	return nil
}

func (b *streamBase) requireMutable(field string) error {
	if b.frozen {
		return fmt.Errorf("avi: set %s: %w", field, ErrStreamFrozen)
	}
	return nil
}

// VideoStream describes an uncompressed or compressed video track.
// Width/Height/BitsPerPixel/Codec are frozen at first write, per spec
// §3 "VideoStream additions".
type VideoStream struct {
	streamBase

	width         int
	height        int
	bitsPerPixel  int
	codec         riff.FourCC
	compressed    bool
	fps           float64
}

var _ Stream = (*VideoStream)(nil)

// NewVideoStream creates an uncompressed video stream description.
// bitsPerPixel must be one of 8, 16, 24, 32. fps drives the shared
// writer-global frame rate frozen at first write (spec §4.3.2).
func NewVideoStream(width, height, bitsPerPixel int, fps float64) (*VideoStream, error) {
	if err := validateBitsPerPixel(bitsPerPixel); err != nil {
		return nil, err
	}
	return &VideoStream{
		streamBase: streamBase{streamType: riff.TagVids},
		width:      width,
		height:     height,
		bitsPerPixel: bitsPerPixel,
		fps:        fps,
	}, nil
}

func validateBitsPerPixel(bpp int) error {
	switch bpp {
	case 8, 16, 24, 32:
		return nil
	default:
		return ErrInvalidBitsPerPixel
	}
}

// Width returns the frame width in pixels.
func (v *VideoStream) Width() int { return v.width }

// Height returns the frame height in pixels.
func (v *VideoStream) Height() int { return v.height }

// BitsPerPixel returns the configured bit depth.
func (v *VideoStream) BitsPerPixel() int { return v.bitsPerPixel }

// Codec returns the compressor FourCC, zero for uncompressed video.
func (v *VideoStream) Codec() riff.FourCC { return v.codec }

// IsCompressed reports whether frames written to this stream are
// treated as compressor output ("##dc") rather than raw bitmap data
// ("##db").
func (v *VideoStream) IsCompressed() bool { return v.compressed }

// FPS returns the configured frame rate.
func (v *VideoStream) FPS() float64 { return v.fps }

// SetCodec marks the stream as compressed and records the compressor
// FourCC, e.g. riff.MakeFourCC("MJPG"). Fails once frozen.
func (v *VideoStream) SetCodec(codec riff.FourCC) error {
	if err := v.requireMutable("codec"); err != nil {
		return err
	}
	v.codec = codec
	v.compressed = true
	return nil
}

// SetDimensions changes width/height before the first write.
func (v *VideoStream) SetDimensions(width, height int) error {
	if err := v.requireMutable("dimensions"); err != nil {
		return err
	}
	v.width, v.height = width, height
	return nil
}

func (v *VideoStream) freeze(index int) {
	v.index = index
	twoCC := "db"
	if v.compressed {
		twoCC = "dc"
	}
	v.chunkID = riff.StreamChunkID(index, twoCC)
	v.frozen = true
}

func (v *VideoStream) strfPayload() ([]byte, error) {
	imageSize := uint32(v.width) * uint32(v.height) * uint32(v.bitsPerPixel) / 8
	bih := riff.BitmapInfoHeader{
		Size:        40,
		Width:       int32(v.width),
		Height:      int32(v.height),
		Planes:      1,
		BitCount:    uint16(v.bitsPerPixel),
		Compression: v.codec.Uint32(),
		SizeImage:   imageSize,
	}
	head, err := riff.MarshalBinary(bih)
	if err != nil {
		return nil, err
	}
	if v.bitsPerPixel == 8 && !v.compressed {
		palette := make([]byte, 0, 256*4)
		for i := 0; i < 256; i++ {
			palette = append(palette, byte(i), byte(i), byte(i), 0)
		}
		return append(head, palette...), nil
	}
	tail := make([]byte, 8) // two reserved zero u32s
	return append(head, tail...), nil
}

func (v *VideoStream) strhPayload(info *streamState, frameRateNum, frameRateDen uint32) ([]byte, error) {
	hdr := riff.StreamHeader{
		Type:                v.streamType.Uint32(),
		Handler:             v.codec.Uint32(),
		Scale:               frameRateDen,
		Rate:                frameRateNum,
		Length:              info.frameCount,
		SuggestedBufferSize: info.maxChunkDataSize,
		FrameRight:          int16(v.width),
		FrameBottom:         int16(v.height),
	}
	return riff.MarshalBinary(hdr)
}

// AudioStream describes a PCM or compressed audio track, per spec §3
// "AudioStream additions".
type AudioStream struct {
	streamBase

	channels          int
	samplesPerSecond  int
	bitsPerSample     int
	formatTag         uint16
	bytesPerSecond    uint32
	blockAlign        uint16
	formatSpecificData []byte
}

var _ Stream = (*AudioStream)(nil)

const WaveFormatPCM = 1
const WaveFormatMP3 = 0x0055

// NewAudioStream creates a PCM audio stream with the default
// granularity/bytesPerSecond derivation from spec §3.
func NewAudioStream(channels, samplesPerSecond, bitsPerSample int) *AudioStream {
	granularity := ceilDiv(bitsPerSample*channels, 8)
	return &AudioStream{
		streamBase:       streamBase{streamType: riff.TagAuds},
		channels:         channels,
		samplesPerSecond: samplesPerSecond,
		bitsPerSample:    bitsPerSample,
		formatTag:        WaveFormatPCM,
		blockAlign:       uint16(granularity),
		bytesPerSecond:   uint32(granularity * samplesPerSecond),
	}
}

func ceilDiv(a, b int) int {
	return int(math.Ceil(float64(a) / float64(b)))
}

// Channels returns the channel count.
func (a *AudioStream) Channels() int { return a.channels }

// SamplesPerSecond returns the sample rate.
func (a *AudioStream) SamplesPerSecond() int { return a.samplesPerSecond }

// BitsPerSample returns the bit depth.
func (a *AudioStream) BitsPerSample() int { return a.bitsPerSample }

// FormatTag returns the WAVE format tag (1 = PCM, 0x0055 = MP3, ...).
func (a *AudioStream) FormatTag() uint16 { return a.formatTag }

// Granularity returns the block-align value: the smallest meaningful
// byte unit of the stream.
func (a *AudioStream) Granularity() uint16 { return a.blockAlign }

// BytesPerSecond returns the suggested average byte rate.
func (a *AudioStream) BytesPerSecond() uint32 { return a.bytesPerSecond }

// SetCompressedFormat switches the stream to a compressed format,
// overriding the PCM defaults. formatSpecificData is optional trailing
// WAVEFORMATEX data (e.g. LAME's MP3 extension bytes).
func (a *AudioStream) SetCompressedFormat(
	formatTag uint16,
	granularity uint16,
	bytesPerSecond uint32,
	formatSpecificData []byte,
) error {
	if err := a.requireMutable("format"); err != nil {
		return err
	}
	a.formatTag = formatTag
	a.blockAlign = granularity
	a.bytesPerSecond = bytesPerSecond
	a.formatSpecificData = formatSpecificData
	return nil
}

func (a *AudioStream) freeze(index int) {
	a.index = index
	a.chunkID = riff.StreamChunkID(index, "wb")
	a.frozen = true
}

func (a *AudioStream) strfPayload() ([]byte, error) {
	wfx := riff.WaveFormatEx{
		FormatTag:      a.formatTag,
		Channels:       uint16(a.channels),
		SamplesPerSec:  uint32(a.samplesPerSecond),
		AvgBytesPerSec: a.bytesPerSecond,
		BlockAlign:     a.blockAlign,
		BitsPerSample:  uint16(a.bitsPerSample),
	}
	head, err := riff.MarshalBinary(wfx)
	if err != nil {
		return nil, err
	}
	extra := make([]byte, 2)
	if len(a.formatSpecificData) > 0 {
		if len(a.formatSpecificData) > math.MaxUint16 {
			return nil, fmt.Errorf("avi: format-specific data too large (%d bytes)", len(a.formatSpecificData))
		}
		le16(extra, uint16(len(a.formatSpecificData)))
		return append(append(head, extra...), a.formatSpecificData...), nil
	}
	return append(head, extra...), nil
}

func (a *AudioStream) strhPayload(info *streamState, _, _ uint32) ([]byte, error) {
	quality := uint32(0xFFFFFFFF) // -1, matches spec §4.3.4
	hdr := riff.StreamHeader{
		Type:                a.streamType.Uint32(),
		Scale:               uint32(a.blockAlign),
		Rate:                a.bytesPerSecond,
		Length:              info.totalDataSize,
		SuggestedBufferSize: a.bytesPerSecond / 2,
		Quality:             quality,
		SampleSize:          uint32(a.blockAlign),
	}
	return riff.MarshalBinary(hdr)
}

func le16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
