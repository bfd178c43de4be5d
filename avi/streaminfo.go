package avi

import "github.com/teocci/go-avimux/riff"

// standardIndexRecord is one pending entry of a stream's per-RIFF
// standard index, per spec §3 ("StandardIndex").
type standardIndexRecord struct {
	dataOffset uint64
	dataSize   uint32 // high bit set for non-key frames
}

// superIndexRecord points at one flushed "ix##" chunk, per spec §3
// ("SuperIndex").
type superIndexRecord struct {
	chunkOffset uint64
	chunkSize   uint32
	duration    uint32
}

// legacyIndexRecord is one pending entry for the "idx1" chunk, only
// collected while the first RIFF is open and legacy indexing is on.
type legacyIndexRecord struct {
	chunkID         riff.FourCC
	isKey           bool
	offsetRelToMovi uint32
	dataSize        uint32 // high bit set for non-key frames
}

// streamState holds everything the Muxer tracks per stream: running
// counters plus the three index flavors described in spec §3. It is
// owned exclusively by the Muxer; a Stream never sees it, matching the
// one-way ownership called out in spec §9.
type streamState struct {
	frameCount       uint32
	maxChunkDataSize uint32
	totalDataSize    uint32

	standardIndex []standardIndexRecord
	superIndex    []superIndexRecord
	legacyIndex   []legacyIndexRecord
}

// maxStandardIndexEntries is the flush threshold from spec §3
// ("standardIndex.size <= 15000").
const maxStandardIndexEntries = 15000

func (s *streamState) recordChunk(dataOffset uint64, dataSize uint32, isKeyFrame bool) {
	s.frameCount++
	if dataSize > s.maxChunkDataSize {
		s.maxChunkDataSize = dataSize
	}
	s.totalDataSize += dataSize

	entrySize := dataSize
	if !isKeyFrame {
		entrySize |= riff.NonKeyFrameBit
	}
	s.standardIndex = append(s.standardIndex, standardIndexRecord{
		dataOffset: dataOffset,
		dataSize:   entrySize,
	})
}

func (s *streamState) recordLegacyEntry(chunkID riff.FourCC, isKeyFrame bool, offsetRelToMovi, dataSize uint32) {
	entrySize := dataSize
	if !isKeyFrame {
		entrySize |= riff.NonKeyFrameBit
	}
	s.legacyIndex = append(s.legacyIndex, legacyIndexRecord{
		chunkID:         chunkID,
		isKey:           isKeyFrame,
		offsetRelToMovi: offsetRelToMovi,
		dataSize:        entrySize,
	})
}

// shouldFlush implements spec §4.3.8's shouldFlushStreamIndex.
func (s *streamState) shouldFlush(currentPosition int64) bool {
	if len(s.standardIndex) >= maxStandardIndexEntries {
		return true
	}
	if len(s.standardIndex) == 0 {
		return false
	}
	base := s.standardIndex[0].dataOffset
	span := uint64(currentPosition) - base
	return span > uint64(^uint32(0))
}

// hasSuperIndexCapacity reports whether one more flushed standard
// index can still be recorded (spec: "superIndex.size <= 256").
func (s *streamState) hasSuperIndexCapacity() bool {
	return len(s.superIndex) < riff.SuperIndexCapacity
}
