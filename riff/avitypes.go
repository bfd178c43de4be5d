package riff

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Fixed-size AVI header structures, byte-exact with the legacy AVI v1
// and OpenDML v2 layouts. Field order and sizes are grounded on
// charlescerisier/avixer's avi/types.go struct definitions and on
// other_examples/charlescerisier-vdk__aviio.go /
// other_examples/dominikh-xcapture__avi.go, adapted to carry the
// OpenDML super-index reservation the spec requires.

// MainHeader is the "avih" chunk payload (56 bytes).
type MainHeader struct {
	MicroSecPerFrame    uint32
	MaxBytesPerSec      uint32
	PaddingGranularity  uint32
	Flags               uint32
	TotalFrames         uint32
	InitialFrames       uint32
	Streams             uint32
	SuggestedBufferSize uint32
	Width               uint32
	Height              uint32
	Reserved            [4]uint32
}

const (
	AVIFHasIndex       = 0x00000010
	AVIFMustUseIndex   = 0x00000020
	AVIFIsInterleaved  = 0x00000100
	AVIFTrustChunkType = 0x00000800
)

// StreamHeader is the "strh" chunk payload (56 bytes).
type StreamHeader struct {
	Type                uint32
	Handler             uint32
	Flags               uint32
	Priority            uint16
	Language            uint16
	InitialFrames       uint32
	Scale               uint32
	Rate                uint32
	Start               uint32
	Length              uint32
	SuggestedBufferSize uint32
	Quality             uint32
	SampleSize          uint32
	FrameLeft           int16
	FrameTop            int16
	FrameRight          int16
	FrameBottom         int16
}

// BitmapInfoHeader is the video "strf" chunk payload (40 bytes, not
// counting an optional trailing palette).
type BitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

// RGBQuad is one grayscale-palette entry (4 bytes: B, G, R, reserved).
type RGBQuad struct {
	Blue     byte
	Green    byte
	Red      byte
	Reserved byte
}

// WaveFormatEx is the audio "strf" chunk payload, fixed part (16 bytes)
// plus a u16 cbSize and cbSize bytes of format-specific data.
type WaveFormatEx struct {
	FormatTag     uint16
	Channels      uint16
	SamplesPerSec uint32
	AvgBytesPerSec uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// StandardIndexEntry is one entry of an "ix##" chunk: a chunk offset
// relative to the chunk's baseOffset, and a data size with the non-key
// high bit preserved.
type StandardIndexEntry struct {
	RelativeOffset uint32
	DataSize       uint32
}

// StandardIndexHeader is the fixed 24-byte prefix of an "ix##" chunk,
// preceding entries*8 bytes of StandardIndexEntry.
type StandardIndexHeader struct {
	LongsPerEntry uint16
	IndexSubType  uint8
	IndexType     uint8
	EntriesInUse  uint32
	ChunkID       uint32
	BaseOffset    uint64
	Reserved      uint32
}

const (
	AVIIndexOfChunks  = 1 // IndexType = CHUNKS
	AVIIndexOfIndexes = 0
)

// SuperIndexEntry is one 16-byte entry of the "indx" super-index
// reserved in the header list (one entry per flushed ix## chunk).
type SuperIndexEntry struct {
	Offset   uint64
	Size     uint32
	Duration uint32
}

// SuperIndexHeader is the fixed prefix of an "indx" chunk (24 bytes),
// followed by exactly 256 SuperIndexEntry (16 bytes each).
type SuperIndexHeader struct {
	LongsPerEntry uint16
	IndexSubType  uint8
	IndexType     uint8
	EntriesInUse  uint32
	ChunkID       uint32
	Reserved      [3]uint32
}

const SuperIndexCapacity = 256

// LegacyIndexEntry is one 16-byte entry of the "idx1" chunk.
type LegacyIndexEntry struct {
	ChunkID  uint32
	Flags    uint32
	Offset   uint32
	DataSize uint32
}

const AVIIFKeyFrame = 0x00000010

// NonKeyFrameBit marks a non-key frame in a dataSize field, both in
// the standard index and in the legacy index.
const NonKeyFrameBit = 0x80000000

// OpenDMLHeader is the "dmlh" chunk payload inside "odml" (4 bytes
// used, padded to 64 reserved bytes total as the spec requires so the
// header's on-disk length never changes across a rewrite).
type OpenDMLHeader struct {
	TotalFrames uint32
}

const OpenDMLHeaderReservedBytes = 64

// MarshalBinary encodes a fixed-size header struct as little-endian
// bytes using encoding/binary, following the binary.Write(..., LittleEndian, ...)
// convention used throughout charlescerisier/avixer's avi/muxer.go.
func MarshalBinary(v interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("riff: marshal %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a fixed-size header struct from little-endian
// bytes.
func UnmarshalBinary(data []byte, v interface{}) error {
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("riff: unmarshal %T: %w", v, err)
	}
	return nil
}
