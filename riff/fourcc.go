// Package riff implements the generic RIFF container primitive: chunks
// and lists over a seekable byte sink, with two-phase size patching.
//
// Created in the spirit of teocci/go-stream-av's format/mp4/mp4io
// atom helpers, adapted from mp4's big-endian box model to RIFF's
// little-endian chunk model.
package riff

import (
	"fmt"
)

// FourCC is a 4-byte RIFF tag, stored as the little-endian uint32 that
// appears on disk.
type FourCC uint32

// MakeFourCC builds a FourCC from an ASCII string of at most 4 bytes,
// right-padded with spaces.
func MakeFourCC(s string) FourCC {
	if len(s) > 4 {
		panic(fmt.Sprintf("riff: FourCC string %q longer than 4 bytes", s))
	}
	var b [4]byte
	copy(b[:], s)
	for i := len(s); i < 4; i++ {
		b[i] = ' '
	}
	return FourCC(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
}

// FourCCFromUint32 builds a FourCC from its little-endian-stored value.
func FourCCFromUint32(v uint32) FourCC {
	return FourCC(v)
}

// Uint32 returns the little-endian-stored value of the tag.
func (f FourCC) Uint32() uint32 {
	return uint32(f)
}

// Bytes returns the 4 raw bytes of the tag in file order.
func (f FourCC) Bytes() [4]byte {
	return [4]byte{
		byte(f),
		byte(f >> 8),
		byte(f >> 16),
		byte(f >> 24),
	}
}

// String renders the tag as a 4-character, space-padded ASCII string.
func (f FourCC) String() string {
	b := f.Bytes()
	return string(b[:])
}

// Equal reports whether two tags carry the same 32-bit value.
func (f FourCC) Equal(o FourCC) bool {
	return f == o
}

// StreamChunkID builds the two-digit-decimal-index chunk id used for
// data chunks inside movi, e.g. index 3 + "db" -> "03db".
func StreamChunkID(index int, twoCC string) FourCC {
	if index < 0 || index > 99 {
		panic(fmt.Sprintf("riff: stream index %d out of range [0,99]", index))
	}
	if len(twoCC) != 2 {
		panic(fmt.Sprintf("riff: twoCC %q must be exactly 2 characters", twoCC))
	}
	return MakeFourCC(fmt.Sprintf("%02d%s", index, twoCC))
}

// StandardIndexChunkID builds the "ix##" chunk id for a stream's
// standard index.
func StandardIndexChunkID(index int) FourCC {
	if index < 0 || index > 99 {
		panic(fmt.Sprintf("riff: stream index %d out of range [0,99]", index))
	}
	return MakeFourCC(fmt.Sprintf("ix%02d", index))
}

// Well-known FourCC constants used throughout the AVI container.
var (
	TagRIFF = MakeFourCC("RIFF")
	TagLIST = MakeFourCC("LIST")
	TagJUNK = MakeFourCC("JUNK")

	TagAVI  = MakeFourCC("AVI ")
	TagAVIX = MakeFourCC("AVIX")

	TagHdrl = MakeFourCC("hdrl")
	TagAvih = MakeFourCC("avih")
	TagStrl = MakeFourCC("strl")
	TagStrh = MakeFourCC("strh")
	TagStrf = MakeFourCC("strf")
	TagStrn = MakeFourCC("strn")
	TagIndx = MakeFourCC("indx")
	TagOdml = MakeFourCC("odml")
	TagDmlh = MakeFourCC("dmlh")
	TagMovi = MakeFourCC("movi")
	TagIdx1 = MakeFourCC("idx1")

	TagVids = MakeFourCC("vids")
	TagAuds = MakeFourCC("auds")
)
