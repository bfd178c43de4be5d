package riff

import (
	"encoding/binary"
	"testing"
)

func TestOpenChunkDeclaredSize(t *testing.T) {
	buf := NewSeekableBuffer()
	rw, err := NewWriter(buf)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	item, err := rw.OpenChunk(MakeFourCC("TEST"), 4)
	if err != nil {
		t.Fatalf("OpenChunk: %v", err)
	}
	if err := rw.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := rw.CloseItem(item); err != nil {
		t.Fatalf("CloseItem: %v", err)
	}

	got := buf.Bytes()
	if len(got) != 12 {
		t.Fatalf("expected 12 bytes, got %d", len(got))
	}
	if string(got[0:4]) != "TEST" {
		t.Fatalf("tag mismatch: %q", got[0:4])
	}
	if size := binary.LittleEndian.Uint32(got[4:8]); size != 4 {
		t.Fatalf("declared size mismatch: got %d want 4", size)
	}
}

func TestOpenChunkDeclaredSizeMismatchFails(t *testing.T) {
	buf := NewSeekableBuffer()
	rw, _ := NewWriter(buf)
	item, err := rw.OpenChunk(MakeFourCC("TEST"), 4)
	if err != nil {
		t.Fatalf("OpenChunk: %v", err)
	}
	_ = rw.Write([]byte{1, 2, 3})
	if err := rw.CloseItem(item); err == nil {
		t.Fatal("expected error for declared/actual size mismatch")
	}
}

func TestOpenChunkUndeclaredSizePatches(t *testing.T) {
	buf := NewSeekableBuffer()
	rw, _ := NewWriter(buf)
	item, err := rw.OpenChunk(MakeFourCC("TEST"), -1)
	if err != nil {
		t.Fatalf("OpenChunk: %v", err)
	}
	_ = rw.Write([]byte{1, 2, 3, 4, 5})
	if err := rw.CloseItem(item); err != nil {
		t.Fatalf("CloseItem: %v", err)
	}

	got := buf.Bytes()
	size := binary.LittleEndian.Uint32(got[4:8])
	if size != 5 {
		t.Fatalf("patched size mismatch: got %d want 5", size)
	}
	// odd data length (5) must be padded to an even total.
	if len(got) != 8+5+1 {
		t.Fatalf("expected pad byte, total len=%d", len(got))
	}
	if got[len(got)-1] != 0 {
		t.Fatalf("pad byte not zero")
	}
}

func TestOpenListNestsChunks(t *testing.T) {
	buf := NewSeekableBuffer()
	rw, _ := NewWriter(buf)

	list, err := rw.OpenList(MakeFourCC("movi"), -1)
	if err != nil {
		t.Fatalf("OpenList: %v", err)
	}
	chunk, err := rw.OpenChunk(MakeFourCC("00db"), 2)
	if err != nil {
		t.Fatalf("OpenChunk: %v", err)
	}
	_ = rw.Write([]byte{0xAA, 0xBB})
	if err := rw.CloseItem(chunk); err != nil {
		t.Fatalf("CloseItem(chunk): %v", err)
	}
	if err := rw.CloseItem(list); err != nil {
		t.Fatalf("CloseItem(list): %v", err)
	}

	got := buf.Bytes()
	if string(got[0:4]) != "LIST" {
		t.Fatalf("expected LIST tag, got %q", got[0:4])
	}
	listSize := binary.LittleEndian.Uint32(got[4:8])
	// listType(4) + chunk header(8) + data(2), no pad needed (even).
	if listSize != 4+8+2 {
		t.Fatalf("list size mismatch: got %d want %d", listSize, 4+8+2)
	}
	if string(got[8:12]) != "movi" {
		t.Fatalf("expected movi list type, got %q", got[8:12])
	}
}

func TestOversizedChunkRejectedAtOpen(t *testing.T) {
	buf := NewSeekableBuffer()
	rw, _ := NewWriter(buf)
	_, err := rw.OpenChunk(MakeFourCC("TEST"), int64(maxDeclarableSize)+1)
	if err == nil {
		t.Fatal("expected error opening oversized chunk")
	}
}

func TestFourCCRoundTrip(t *testing.T) {
	for _, s := range []string{"RIFF", "AVI ", "movi", "00db", "ix00"} {
		f := MakeFourCC(s)
		if f.String() != s {
			t.Fatalf("round trip failed: %q -> %q", s, f.String())
		}
		if got := FourCCFromUint32(f.Uint32()); got != f {
			t.Fatalf("uint32 round trip failed for %q", s)
		}
	}
}

func TestSkipBytesWritesZeros(t *testing.T) {
	buf := NewSeekableBuffer()
	rw, _ := NewWriter(buf)
	if err := rw.SkipBytes(2500); err != nil {
		t.Fatalf("SkipBytes: %v", err)
	}
	got := buf.Bytes()
	if len(got) != 2500 {
		t.Fatalf("expected 2500 bytes, got %d", len(got))
	}
	for i, b := range got {
		if b != 0 {
			t.Fatalf("byte %d not zero", i)
		}
	}
}
