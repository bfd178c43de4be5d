package riff

import (
	"encoding/binary"
	"fmt"
	"io"
)

// SizeUnknown is the all-ones 32-bit size value. Writer does not use
// it: OpenChunk and OpenList take -1 for an undeclared size, write a
// zero placeholder, and CloseItem patches in the real size.
const SizeUnknown = ^uint32(0)

// maxDeclarableSize is the largest data size an Item may declare; RIFF
// chunk size fields are 32-bit, and the header itself costs 8 bytes.
const maxDeclarableSize = ^uint32(0) - 8

// Item is the handle returned by OpenChunk/OpenList. dataStart is the
// absolute offset of the first byte of payload; for a chunk that is
// ItemStart+8, for a list it is ItemStart+12 (size field plus the
// 4-byte list-type that doubles as the first payload bytes).
type Item struct {
	tag           FourCC
	itemStart     int64 // offset of the tag's first byte
	sizeFieldAt   int64 // offset of the 4-byte size field
	dataStart     int64 // offset of the first byte after the header
	declaredSize  uint32
	sizeDeclared  bool
	isList        bool
}

// Tag returns the chunk or list tag.
func (it Item) Tag() FourCC { return it.tag }

// ItemStart returns the absolute offset of the chunk/list header.
func (it Item) ItemStart() int64 { return it.itemStart }

// DataStart returns the absolute offset of the first payload byte.
func (it Item) DataStart() int64 { return it.dataStart }

// Writer is a thin layer over a seekable byte sink implementing the
// RIFF chunk/list open-write-close protocol with two-phase size
// patching, modeled on the seek-and-patch dance in
// teocci/go-stream-av's format/mp4.Muxer.WriteTrailer, generalized
// into a reusable primitive usable at every nesting depth.
type Writer struct {
	w   io.WriteSeeker
	pos int64
	buf [8]byte
}

// NewWriter wraps a seekable sink. Item offsets the Writer hands out
// are absolute sink offsets, counted from the sink's start; the
// writer begins at the sink's current position.
func NewWriter(w io.WriteSeeker) (*Writer, error) {
	pos, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("riff: determine start position: %w", err)
	}
	return &Writer{w: w, pos: pos}, nil
}

// Position returns the writer's current absolute byte offset.
func (rw *Writer) Position() int64 { return rw.pos }

func (rw *Writer) write(p []byte) error {
	n, err := rw.w.Write(p)
	rw.pos += int64(n)
	if err != nil {
		return fmt.Errorf("riff: write: %w", err)
	}
	return nil
}

func (rw *Writer) writeUint32(v uint32) error {
	binary.LittleEndian.PutUint32(rw.buf[:4], v)
	return rw.write(rw.buf[:4])
}

// OpenChunk writes tag and a size field (expectedSize if given,
// otherwise a zero placeholder to be patched on Close) and returns a
// handle whose DataStart points just past the header.
//
// Pass expectedSize >= 0 to declare the size up front; CloseItem will
// then require the actual bytes written to match exactly. Pass -1 to
// leave the size undeclared; CloseItem seeks back and patches it.
func (rw *Writer) OpenChunk(tag FourCC, expectedSize int64) (Item, error) {
	itemStart := rw.pos
	b := tag.Bytes()
	if err := rw.write(b[:]); err != nil {
		return Item{}, err
	}
	sizeFieldAt := rw.pos

	declared, hasSize, err := rw.checkAndWriteSize(expectedSize)
	if err != nil {
		return Item{}, err
	}

	return Item{
		tag:          tag,
		itemStart:    itemStart,
		sizeFieldAt:  sizeFieldAt,
		dataStart:    rw.pos,
		declaredSize: declared,
		sizeDeclared: hasSize,
	}, nil
}

// OpenList writes "LIST" ("RIFF" for the "AVI " and "AVIX" form
// types), a size placeholder, then listType as the first 4 bytes of
// payload. The returned Item's DataStart therefore points 4 bytes past
// the size field, i.e. just after listType.
func (rw *Writer) OpenList(listType FourCC, expectedSize int64) (Item, error) {
	outer := TagLIST
	if listType.Equal(TagAVI) || listType.Equal(TagAVIX) {
		outer = TagRIFF
	}
	item, err := rw.OpenChunk(outer, addListTypeOverhead(expectedSize))
	if err != nil {
		return Item{}, err
	}
	item.isList = true
	b := listType.Bytes()
	if err := rw.write(b[:]); err != nil {
		return Item{}, err
	}
	item.dataStart = rw.pos
	return item, nil
}

func addListTypeOverhead(expectedSize int64) int64 {
	if expectedSize < 0 {
		return -1
	}
	return expectedSize + 4
}

func (rw *Writer) checkAndWriteSize(expectedSize int64) (uint32, bool, error) {
	if expectedSize < 0 {
		if err := rw.writeUint32(0); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}
	if uint64(expectedSize) > uint64(maxDeclarableSize) {
		return 0, false, fmt.Errorf("riff: declared size %d exceeds maximum %d", expectedSize, maxDeclarableSize)
	}
	size := uint32(expectedSize)
	if err := rw.writeUint32(size); err != nil {
		return 0, false, err
	}
	return size, true, nil
}

// Write appends raw payload bytes to the chunk currently being filled.
func (rw *Writer) Write(p []byte) error {
	return rw.write(p)
}

// CloseItem finishes a chunk or list: computes actualSize =
// currentPosition - item.DataStart, verifies it against any declared
// size, patches an undeclared size field in place, and emits a single
// zero pad byte if the resulting position is odd.
func (rw *Writer) CloseItem(item Item) error {
	actualSize := rw.pos - item.dataStart
	if actualSize < 0 || actualSize > int64(maxDeclarableSize) {
		return fmt.Errorf("riff: item %q size %d out of range", item.tag, actualSize)
	}

	if item.sizeDeclared {
		if uint32(actualSize) != item.declaredSize {
			return fmt.Errorf(
				"riff: item %q declared size %d but wrote %d bytes",
				item.tag, item.declaredSize, actualSize,
			)
		}
	} else {
		// A list's declared size covers listType too; chunks don't.
		sizeToPatch := uint32(actualSize)
		if item.isList {
			sizeToPatch = uint32(actualSize + 4)
		}
		if err := rw.patchSize(item.sizeFieldAt, sizeToPatch); err != nil {
			return err
		}
	}

	if rw.pos%2 != 0 {
		if err := rw.write([]byte{0}); err != nil {
			return fmt.Errorf("riff: pad item %q: %w", item.tag, err)
		}
	}
	return nil
}

func (rw *Writer) patchSize(sizeFieldAt int64, size uint32) error {
	savedPos := rw.pos
	if _, err := rw.w.Seek(sizeFieldAt, io.SeekStart); err != nil {
		return fmt.Errorf("riff: seek to patch size: %w", err)
	}
	binary.LittleEndian.PutUint32(rw.buf[:4], size)
	if _, err := rw.w.Write(rw.buf[:4]); err != nil {
		return fmt.Errorf("riff: patch size: %w", err)
	}
	if _, err := rw.w.Seek(savedPos, io.SeekStart); err != nil {
		return fmt.Errorf("riff: seek back after patch: %w", err)
	}
	return nil
}

// SkipBytes writes n zero bytes using a reusable 1KiB buffer, mirroring
// the JUNK-padding need of the AVI header list.
func (rw *Writer) SkipBytes(n int) error {
	if n < 0 {
		return fmt.Errorf("riff: SkipBytes negative count %d", n)
	}
	const bufSize = 1024
	var zero [bufSize]byte
	for n > 0 {
		chunk := n
		if chunk > bufSize {
			chunk = bufSize
		}
		if err := rw.write(zero[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Seek repositions the underlying sink and the writer's internal
// cursor together. Used by the multiplexer to rewind to the header
// for the final rewrite on Close.
func (rw *Writer) Seek(offset int64, whence int) (int64, error) {
	pos, err := rw.w.Seek(offset, whence)
	if err != nil {
		return 0, fmt.Errorf("riff: seek: %w", err)
	}
	rw.pos = pos
	return pos, nil
}

// WriteFull writes raw bytes with no chunk framing, advancing the
// cursor; used by the multiplexer to emit fixed-size header structs
// via encoding/binary without an intervening chunk wrapper.
func (rw *Writer) WriteFull(p []byte) error {
	return rw.write(p)
}
