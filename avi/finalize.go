package avi

import (
	"fmt"
	"io"

	"github.com/teocci/go-avimux/riff"
)

// rewriteHeader implements the last step of spec §4.3.10: seek back to
// the header list and patch every field that could only be known once
// writing finished — avih's totalFrames/maxBytesPerSec, each stream's
// strh, and the odml extension's totalFrames — without changing the
// header's on-disk length.
func (m *Muxer) rewriteHeader() error {
	if err := m.patchMainHeader(); err != nil {
		return err
	}
	for i, s := range m.streams {
		if err := m.patchStreamHeader(i, s); err != nil {
			return err
		}
		if err := m.patchSuperIndex(i, s); err != nil {
			return err
		}
	}
	if err := m.patchOpenDMLHeader(); err != nil {
		return err
	}
	if _, err := m.rw.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("avi: restore write position after header rewrite: %w", err)
	}
	return nil
}

func (m *Muxer) patchMainHeader() error {
	var maxBytesPerSec uint32
	var totalMaxChunk uint64
	for _, state := range m.states {
		totalMaxChunk += uint64(state.maxChunkDataSize)
	}
	if m.frameRateNum > 0 {
		// spec §9: "over-approximation, keep as-is for compatibility".
		maxBytesPerSec = uint32(float64(m.frameRateNum) / float64(m.frameRateDen) * float64(totalMaxChunk))
	}

	var width, height uint32
	for _, s := range m.streams {
		if v, ok := s.(*VideoStream); ok {
			width, height = uint32(v.Width()), uint32(v.Height())
			break
		}
	}

	flags := uint32(riff.AVIFIsInterleaved | riff.AVIFTrustChunkType)
	if m.opts.EmitIndex1 {
		flags |= riff.AVIFHasIndex
	}

	hdr := riff.MainHeader{
		MicroSecPerFrame:    mainHeaderMicroSecPerFrame(m.frameRateNum, m.frameRateDen),
		MaxBytesPerSec:      maxBytesPerSec,
		Flags:               flags,
		TotalFrames:         m.firstRiffFrameCount,
		Streams:             uint32(len(m.streams)),
		Width:               width,
		Height:              height,
	}
	payload, err := riff.MarshalBinary(hdr)
	if err != nil {
		return err
	}
	return m.patchAt(m.avihItemStart, payload)
}

func mainHeaderMicroSecPerFrame(num, den uint32) uint32 {
	if num == 0 {
		return 0
	}
	return uint32(roundDiv(1000000*uint64(den), uint64(num)))
}

func roundDiv(a, b uint64) uint64 {
	return (a + b/2) / b
}

func (m *Muxer) patchStreamHeader(index int, s Stream) error {
	payload, err := s.strhPayload(m.states[index], m.frameRateNum, m.frameRateDen)
	if err != nil {
		return err
	}
	return m.patchAt(m.strhDataStarts[index], payload)
}

func (m *Muxer) patchSuperIndex(index int, s Stream) error {
	state := m.states[index]
	header := riff.SuperIndexHeader{
		LongsPerEntry: 4,
		IndexSubType:  0,
		IndexType:     riff.AVIIndexOfIndexes,
		EntriesInUse:  uint32(len(state.superIndex)),
		ChunkID:       s.ChunkID().Uint32(),
	}
	headerBytes, err := riff.MarshalBinary(header)
	if err != nil {
		return err
	}
	if err := m.patchAt(m.strlIndxOffsets[index], headerBytes); err != nil {
		return err
	}

	entries := make([]byte, 0, len(state.superIndex)*16)
	for _, rec := range state.superIndex {
		e := riff.SuperIndexEntry{Offset: rec.chunkOffset, Size: rec.chunkSize, Duration: rec.duration}
		b, err := riff.MarshalBinary(e)
		if err != nil {
			return err
		}
		entries = append(entries, b...)
	}
	// Remaining slots (up to the 256 reserved) stay zero-filled, per
	// spec §8's boundary example: "254 slots are zero-filled".
	return m.patchAt(m.strlIndxOffsets[index]+24, entries)
}

func (m *Muxer) patchOpenDMLHeader() error {
	var totalFrames uint32
	for idx, s := range m.streams {
		if _, ok := s.(*VideoStream); ok {
			if fc := m.states[idx].frameCount; fc > totalFrames {
				totalFrames = fc
			}
		}
	}
	payload, err := riff.MarshalBinary(riff.OpenDMLHeader{TotalFrames: totalFrames})
	if err != nil {
		return err
	}
	return m.patchAt(m.dmlhDataStart, payload)
}

// patchAt seeks to an absolute offset, writes payload, without
// disturbing item bookkeeping (these writes never open/close a chunk;
// the surrounding size fields were already fixed at first write).
func (m *Muxer) patchAt(offset int64, payload []byte) error {
	if _, err := m.rw.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("avi: seek to patch offset %d: %w", offset, err)
	}
	if err := m.rw.WriteFull(payload); err != nil {
		return fmt.Errorf("avi: patch at offset %d: %w", offset, err)
	}
	return nil
}
