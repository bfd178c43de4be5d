package avi

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/teocci/go-avimux/riff"
)

// findChunkSizes walks the RIFF tree (descending into every RIFF and
// LIST) and returns the declared size of each chunk whose id is tag.
// Walking chunk headers rather than scanning raw bytes matters: the
// indx and ix## index headers also carry a stream's chunk id as a
// field, and those must not be counted as data chunks.
func findChunkSizes(t *testing.T, data []byte, tag string) []uint32 {
	t.Helper()
	var sizes []uint32
	var walk func(pos, end int)
	walk = func(pos, end int) {
		for pos+8 <= end {
			id := string(data[pos : pos+4])
			size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
			body := pos + 8
			if id == "RIFF" || id == "LIST" {
				listEnd := body + size
				if listEnd > end {
					listEnd = end
				}
				walk(body+4, listEnd)
			} else if id == tag {
				sizes = append(sizes, uint32(size))
			}
			pos = body + size + size%2
		}
	}
	walk(0, len(data))
	return sizes
}

func newTestVideoStream(t *testing.T) *VideoStream {
	t.Helper()
	s, err := NewVideoStream(2, 2, 24, 10)
	if err != nil {
		t.Fatalf("NewVideoStream: %v", err)
	}
	return s
}

func TestMuxerSingleVideoStreamScenario(t *testing.T) {
	buf := riff.NewSeekableBuffer()
	m, err := NewMuxer(buf, Options{})
	if err != nil {
		t.Fatalf("NewMuxer: %v", err)
	}

	vs := newTestVideoStream(t)
	if _, err := m.AddVideoStream(vs); err != nil {
		t.Fatalf("AddVideoStream: %v", err)
	}

	frame := make([]byte, 2*2*3) // 2x2 at 24 bpp = 12 bytes
	for i := 0; i < 3; i++ {
		if err := m.WriteVideoFrame(vs, true, frame); err != nil {
			t.Fatalf("WriteVideoFrame %d: %v", i, err)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data := buf.Bytes()
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("file does not start with RIFF")
	}
	if !bytes.Equal(data[8:12], []byte("AVI ")) {
		t.Fatalf("RIFF form is not AVI: %q", data[8:12])
	}

	dataChunks := findChunkSizes(t, data, "00db")
	if len(dataChunks) != 3 {
		t.Fatalf("expected 3 %q chunks, found %d", "00db", len(dataChunks))
	}
	for i, sz := range dataChunks {
		if sz != 12 {
			t.Errorf("chunk %d declared size = %d, want 12", i, sz)
		}
	}

	ix00 := findChunkSizes(t, data, "ix00")
	if len(ix00) != 1 {
		t.Fatalf("expected 1 ix00 chunk, found %d", len(ix00))
	}
	if want := uint32(24 + 3*8); ix00[0] != want {
		t.Errorf("ix00 declared size = %d, want %d", ix00[0], want)
	}

	summary, err := Probe(buf.NewReader(), int64(buf.Len()))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if summary.StreamCount != 1 {
		t.Errorf("StreamCount = %d, want 1", summary.StreamCount)
	}
	if summary.TotalFrames != 3 {
		t.Errorf("TotalFrames = %d, want 3", summary.TotalFrames)
	}
	if summary.RIFFChain != 1 {
		t.Errorf("RIFFChain = %d, want 1", summary.RIFFChain)
	}
	if summary.HasIndex1 {
		t.Errorf("HasIndex1 = true, want false")
	}
	if summary.Duration != 300*1000000 { // 3 frames at 10fps = 300ms, in nanoseconds via time.Duration(us)*1000
		t.Errorf("Duration = %v, want 300ms", summary.Duration)
	}
}

func TestMuxerTwoStreamsVideoAudio(t *testing.T) {
	buf := riff.NewSeekableBuffer()
	m, err := NewMuxer(buf, Options{})
	if err != nil {
		t.Fatalf("NewMuxer: %v", err)
	}

	vs := newTestVideoStream(t)
	if _, err := m.AddVideoStream(vs); err != nil {
		t.Fatalf("AddVideoStream: %v", err)
	}
	as := NewAudioStream(1, 8000, 8)
	if _, err := m.AddAudioStream(as); err != nil {
		t.Fatalf("AddAudioStream: %v", err)
	}

	frame := make([]byte, 12)
	if err := m.WriteVideoFrame(vs, true, frame); err != nil {
		t.Fatalf("WriteVideoFrame: %v", err)
	}
	block := make([]byte, 8000/10)
	if err := m.WriteAudioBlock(as, block); err != nil {
		t.Fatalf("WriteAudioBlock: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if as.ChunkID().String() != "01wb" {
		t.Errorf("audio ChunkID = %q, want %q", as.ChunkID(), "01wb")
	}
	if as.Granularity() != 1 {
		t.Errorf("Granularity = %d, want 1", as.Granularity())
	}
	if as.BytesPerSecond() != 8000 {
		t.Errorf("BytesPerSecond = %d, want 8000", as.BytesPerSecond())
	}

	data := buf.Bytes()
	audioChunks := findChunkSizes(t, data, "01wb")
	if len(audioChunks) != 1 {
		t.Fatalf("expected 1 %q chunk, found %d", "01wb", len(audioChunks))
	}

	summary, err := Probe(buf.NewReader(), int64(buf.Len()))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if summary.StreamCount != 2 {
		t.Errorf("StreamCount = %d, want 2", summary.StreamCount)
	}
}

func TestMuxerEmitIndex1(t *testing.T) {
	buf := riff.NewSeekableBuffer()
	m, err := NewMuxer(buf, Options{EmitIndex1: true})
	if err != nil {
		t.Fatalf("NewMuxer: %v", err)
	}

	vs := newTestVideoStream(t)
	if _, err := m.AddVideoStream(vs); err != nil {
		t.Fatalf("AddVideoStream: %v", err)
	}

	frame := make([]byte, 12)
	for i := 0; i < 5; i++ {
		if err := m.WriteVideoFrame(vs, true, frame); err != nil {
			t.Fatalf("WriteVideoFrame %d: %v", i, err)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data := buf.Bytes()
	idx := bytes.Index(data, []byte("idx1"))
	if idx < 0 {
		t.Fatalf("idx1 chunk not found")
	}
	size := binary.LittleEndian.Uint32(data[idx+4 : idx+8])
	if size != 5*16 {
		t.Fatalf("idx1 size = %d, want %d", size, 5*16)
	}

	entries := data[idx+8 : idx+8+int(size)]
	var lastOffset uint32
	for i := 0; i < 5; i++ {
		e := entries[i*16 : i*16+16]
		flags := binary.LittleEndian.Uint32(e[4:8])
		offset := binary.LittleEndian.Uint32(e[8:12])
		if flags != riff.AVIIFKeyFrame {
			t.Errorf("entry %d flags = %#x, want %#x (uncompressed is keyframe-only)", i, flags, riff.AVIIFKeyFrame)
		}
		if i > 0 && offset <= lastOffset {
			t.Errorf("entry %d offset %d is not strictly increasing after %d", i, offset, lastOffset)
		}
		lastOffset = offset
	}

	if second := bytes.Index(data[idx+4:], []byte("idx1")); second >= 0 {
		t.Errorf("more than one idx1 chunk found")
	}
}

func TestMuxerNonKeyFrameFlagBit(t *testing.T) {
	buf := riff.NewSeekableBuffer()
	m, err := NewMuxer(buf, Options{EmitIndex1: true})
	if err != nil {
		t.Fatalf("NewMuxer: %v", err)
	}

	vs := newTestVideoStream(t)
	if err := vs.SetCodec(riff.MakeFourCC("MJPG")); err != nil {
		t.Fatalf("SetCodec: %v", err)
	}
	if _, err := m.AddVideoStream(vs); err != nil {
		t.Fatalf("AddVideoStream: %v", err)
	}

	frame := make([]byte, 12)
	if err := m.WriteVideoFrame(vs, true, frame); err != nil {
		t.Fatalf("write keyframe: %v", err)
	}
	if err := m.WriteVideoFrame(vs, false, frame); err != nil {
		t.Fatalf("write non-keyframe: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data := buf.Bytes()
	idx := bytes.Index(data, []byte("idx1"))
	if idx < 0 {
		t.Fatalf("idx1 chunk not found")
	}
	entries := data[idx+8 : idx+8+2*16]

	second := entries[16:32]
	flags := binary.LittleEndian.Uint32(second[4:8])
	dataSize := binary.LittleEndian.Uint32(second[12:16])
	if flags != 0 {
		t.Errorf("non-key idx1 flags = %#x, want 0", flags)
	}
	if dataSize&riff.NonKeyFrameBit == 0 {
		t.Errorf("non-key idx1 dataSize %#x missing high bit", dataSize)
	}

	ix00 := bytes.Index(data, []byte("ix00"))
	if ix00 < 0 {
		t.Fatalf("ix00 chunk not found")
	}
	// header (24 bytes) then entries of (u32 offset, u32 dataSize)
	secondEntry := data[ix00+8+24+8 : ix00+8+24+16]
	entryDataSize := binary.LittleEndian.Uint32(secondEntry[4:8])
	if entryDataSize&riff.NonKeyFrameBit == 0 {
		t.Errorf("ix00 second entry dataSize %#x missing high bit", entryDataSize)
	}
}

func TestMuxerStandardIndexFlushBoundary(t *testing.T) {
	buf := riff.NewSeekableBuffer()
	m, err := NewMuxer(buf, Options{})
	if err != nil {
		t.Fatalf("NewMuxer: %v", err)
	}

	vs := newTestVideoStream(t)
	if _, err := m.AddVideoStream(vs); err != nil {
		t.Fatalf("AddVideoStream: %v", err)
	}

	frame := make([]byte, 12)
	const total = 15001
	for i := 0; i < total; i++ {
		if err := m.WriteVideoFrame(vs, true, frame); err != nil {
			t.Fatalf("WriteVideoFrame %d: %v", i, err)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data := buf.Bytes()
	ix00 := findChunkSizes(t, data, "ix00")
	if len(ix00) != 2 {
		t.Fatalf("expected 2 ix00 chunks, found %d", len(ix00))
	}
	if ix00[0] != 24+15000*8 {
		t.Errorf("first ix00 size = %d, want %d", ix00[0], 24+15000*8)
	}
	if ix00[1] != 24+1*8 {
		t.Errorf("second ix00 size = %d, want %d", ix00[1], 24+1*8)
	}

	summary, err := Probe(buf.NewReader(), int64(buf.Len()))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if summary.TotalFrames != total {
		t.Errorf("TotalFrames = %d, want %d", summary.TotalFrames, total)
	}
}

func TestMuxerRIFFRollover(t *testing.T) {
	buf := riff.NewSeekableBuffer()
	m, err := NewMuxer(buf, Options{})
	if err != nil {
		t.Fatalf("NewMuxer: %v", err)
	}

	vs := newTestVideoStream(t)
	if _, err := m.AddVideoStream(vs); err != nil {
		t.Fatalf("AddVideoStream: %v", err)
	}

	frame := make([]byte, 12)
	// First write lazily starts the file and sets the real threshold;
	// shrink it immediately afterward so the remaining writes roll over
	// into a new RIFF without needing megabytes of frame data.
	if err := m.WriteVideoFrame(vs, true, frame); err != nil {
		t.Fatalf("WriteVideoFrame 0: %v", err)
	}
	m.riffThreshold = 0
	for i := 1; i < 3; i++ {
		if err := m.WriteVideoFrame(vs, true, frame); err != nil {
			t.Fatalf("WriteVideoFrame %d: %v", i, err)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data := buf.Bytes()
	summary, err := Probe(buf.NewReader(), int64(buf.Len()))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if summary.RIFFChain < 2 {
		t.Fatalf("RIFFChain = %d, want >= 2 after forced rollover", summary.RIFFChain)
	}
	if !bytes.Contains(data, []byte("AVIX")) {
		t.Errorf("expected an AVIX RIFF after rollover")
	}
	// avih.totalFrames reflects only the first RIFF's frame count and
	// dmlh.totalFrames the overall count; summary.TotalFrames is avih's,
	// and neither frame total is asserted here, only the RIFF chain.
	if vs.IsFrozen() != true {
		t.Errorf("stream should be frozen after writing has started")
	}
}

func TestFourCCRoundTripAndPadding(t *testing.T) {
	f := riff.MakeFourCC("db")
	if f.String() != "db  " {
		t.Errorf("String() = %q, want %q", f.String(), "db  ")
	}
	back := riff.FourCCFromUint32(f.Uint32())
	if !back.Equal(f) {
		t.Errorf("round trip mismatch: %v != %v", back, f)
	}
}
