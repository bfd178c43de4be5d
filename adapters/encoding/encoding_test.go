package encoding

import (
	"bytes"
	"testing"

	"github.com/teocci/go-avimux/avi"
	"github.com/teocci/go-avimux/riff"
)

// fakeAudioEncoder is an AudioEncoder test double that always holds
// back the last byte it's given until Flush is called, so tests can
// exercise the residual-flush-at-close contract deterministically.
type fakeAudioEncoder struct {
	pending    byte
	hasPending bool
}

func (e *fakeAudioEncoder) Channels() int              { return 1 }
func (e *fakeAudioEncoder) SamplesPerSecond() int      { return 8000 }
func (e *fakeAudioEncoder) BitsPerSample() int         { return 8 }
func (e *fakeAudioEncoder) FormatTag() uint16          { return avi.WaveFormatPCM }
func (e *fakeAudioEncoder) BytesPerSecond() uint32     { return 8000 }
func (e *fakeAudioEncoder) Granularity() uint16        { return 1 }
func (e *fakeAudioEncoder) FormatSpecificData() []byte { return nil }

func (e *fakeAudioEncoder) MaxEncodedLength(srcBytes int) int {
	if srcBytes == 0 {
		return 1
	}
	return srcBytes
}

func (e *fakeAudioEncoder) EncodeBlock(src, dst []byte) (int, error) {
	n := 0
	if e.hasPending {
		dst[n] = e.pending
		n++
	}
	if len(src) == 0 {
		e.hasPending = false
		return n, nil
	}
	copy(dst[n:], src[:len(src)-1])
	n += len(src) - 1
	e.pending = src[len(src)-1]
	e.hasPending = true
	return n, nil
}

func (e *fakeAudioEncoder) Flush(dst []byte) (int, error) {
	if !e.hasPending {
		return 0, nil
	}
	dst[0] = e.pending
	e.hasPending = false
	return 1, nil
}

// TestAudioStreamFlushesResidualOnMuxerClose exercises spec §4.3.10
// step 1 end-to-end: writing one block leaves a byte buffered inside
// the encoder, and Muxer.Close alone (no separate call to the
// wrapper's own Close) must still flush it into its own data chunk.
func TestAudioStreamFlushesResidualOnMuxerClose(t *testing.T) {
	sink := riff.NewSeekableBuffer()
	m, err := avi.NewMuxer(sink, avi.Options{})
	if err != nil {
		t.Fatalf("NewMuxer: %v", err)
	}

	dst := avi.NewAudioStream(1, 8000, 8)
	enc := &fakeAudioEncoder{}
	stream, err := NewAudioStream(dst, enc)
	if err != nil {
		t.Fatalf("NewAudioStream: %v", err)
	}
	if _, err := m.AddAudioStream(dst); err != nil {
		t.Fatalf("AddAudioStream: %v", err)
	}

	if err := stream.WriteBlock(m, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := sink.Bytes()

	// The header's indx chunk and the stream's ix## chunk (written at
	// Close, after the data chunks) both carry the chunk id as a field,
	// so data chunks are searched for only between the movi list type
	// and the ix## chunk.
	moviAt := bytes.Index(got, []byte("movi"))
	ixAt := bytes.Index(got, []byte(riff.StandardIndexChunkID(dst.Index()).String()))
	if moviAt < 0 || ixAt < moviAt {
		t.Fatalf("movi list or index chunk not found in order, file: % x", got)
	}
	dataRegion := got[moviAt:ixAt]

	chunkTag := []byte(dst.ChunkID().String())
	if n := bytes.Count(dataRegion, chunkTag); n < 2 {
		t.Fatalf("expected at least 2 %q chunks (block + residual flush), got %d", chunkTag, n)
	}

	lastChunk := bytes.LastIndex(dataRegion, chunkTag)
	if lastChunk < 0 {
		t.Fatalf("chunk tag %q not found", chunkTag)
	}
	// The payload of the final data chunk starts 8 bytes past its tag
	// (4-byte tag, 4-byte size) and must be the residual byte.
	residualOffset := moviAt + lastChunk + 8
	if residualOffset >= len(got) || got[residualOffset] != 0x03 {
		t.Fatalf("expected residual byte 0x03 right after the final chunk header, file: % x", got)
	}
}
