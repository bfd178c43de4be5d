package avi

import (
	"fmt"

	"github.com/teocci/go-avimux/riff"
)

// itemHeaderSize is the on-disk cost of a chunk/list tag+size pair.
const itemHeaderSize = 8

// createNewRiffIfNeeded implements spec §4.3.7: estimate the size the
// current RIFF would reach after writing approxNextSize more bytes
// (plus the pending idx1 chunk, if this is still the first RIFF and
// legacy indexing is on) and, if that would exceed the threshold,
// close out the current RIFF and open a new "AVIX" one.
func (m *Muxer) createNewRiffIfNeeded(approxNextSize int64) error {
	estimated := m.rw.Position() + approxNextSize - m.currentRiff.ItemStart()

	if m.isFirstRiff && m.opts.EmitIndex1 {
		legacyCount := m.totalPendingLegacyEntries()
		estimated += itemHeaderSize + int64(legacyCount)*16
	}

	if estimated <= m.riffThreshold {
		return nil
	}

	return m.rollToNewRiff()
}

func (m *Muxer) totalPendingLegacyEntries() int {
	total := 0
	for _, s := range m.states {
		total += len(s.legacyIndex)
	}
	return total
}

func (m *Muxer) rollToNewRiff() error {
	m.opts.logger().Printf("avi[%s]: rolling to new RIFF at offset %d", m.sessionID, m.rw.Position())

	if err := m.rw.CloseItem(m.currentMovi); err != nil {
		return fmt.Errorf("avi: close movi before roll: %w", err)
	}

	if m.isFirstRiff {
		if err := m.finishFirstRiff(); err != nil {
			return err
		}
	}

	if err := m.rw.CloseItem(m.currentRiff); err != nil {
		return fmt.Errorf("avi: close riff before roll: %w", err)
	}

	riffItem, err := m.rw.OpenList(riff.TagAVIX, -1)
	if err != nil {
		return fmt.Errorf("avi: open AVIX: %w", err)
	}
	m.currentRiff = riffItem
	m.isFirstRiff = false
	m.riffThreshold = subsequentRIFFThreshold

	moviItem, err := m.rw.OpenList(riff.TagMovi, -1)
	if err != nil {
		return fmt.Errorf("avi: open movi in AVIX: %w", err)
	}
	m.currentMovi = moviItem
	return nil
}

// flushStreamIndex implements spec §4.3.8's flushStreamIndex: emit the
// pending standard index as an "ix##" chunk and record a super-index
// entry pointing at it.
func (m *Muxer) flushStreamIndex(streamIdx int) error {
	state := m.states[streamIdx]
	if len(state.standardIndex) == 0 {
		return nil
	}

	m.opts.logger().Printf("avi[%s]: flushing stream %d index (%d entries)", m.sessionID, streamIdx, len(state.standardIndex))

	indexSize := 24 + len(state.standardIndex)*8
	if err := m.createNewRiffIfNeeded(int64(indexSize)); err != nil {
		return err
	}

	stream := m.streams[streamIdx]
	chunkID := riff.StandardIndexChunkID(streamIdx)

	item, err := m.rw.OpenChunk(chunkID, int64(indexSize))
	if err != nil {
		return fmt.Errorf("avi: open %s: %w", chunkID, err)
	}

	baseOffset := state.standardIndex[0].dataOffset
	header := riff.StandardIndexHeader{
		LongsPerEntry: 2,
		IndexSubType:  0,
		IndexType:     riff.AVIIndexOfChunks,
		EntriesInUse:  uint32(len(state.standardIndex)),
		ChunkID:       stream.ChunkID().Uint32(),
		BaseOffset:    baseOffset,
	}
	headerBytes, err := riff.MarshalBinary(header)
	if err != nil {
		return err
	}
	if err := m.rw.Write(headerBytes); err != nil {
		return err
	}

	for _, rec := range state.standardIndex {
		entry := riff.StandardIndexEntry{
			RelativeOffset: uint32(rec.dataOffset - baseOffset),
			DataSize:       rec.dataSize,
		}
		entryBytes, err := riff.MarshalBinary(entry)
		if err != nil {
			return err
		}
		if err := m.rw.Write(entryBytes); err != nil {
			return err
		}
	}

	if err := m.rw.CloseItem(item); err != nil {
		return err
	}

	entriesFlushed := uint32(len(state.standardIndex))
	state.superIndex = append(state.superIndex, superIndexRecord{
		chunkOffset: uint64(item.ItemStart()),
		chunkSize:   uint32(indexSize),
		duration:    entriesFlushed,
	})
	state.standardIndex = state.standardIndex[:0]
	return nil
}

// writeLegacyIndex implements spec §4.3.9: k-way merge every stream's
// pending legacy-index entries by ascending offset and emit "idx1".
func (m *Muxer) writeLegacyIndex() error {
	merged := m.mergeLegacyEntries()

	size := len(merged) * 16
	item, err := m.rw.OpenChunk(riff.TagIdx1, int64(size))
	if err != nil {
		return fmt.Errorf("avi: open idx1: %w", err)
	}

	for _, e := range merged {
		flags := uint32(0)
		if e.isKey {
			flags = riff.AVIIFKeyFrame
		}
		entry := riff.LegacyIndexEntry{
			ChunkID:  e.chunkID.Uint32(),
			Flags:    flags,
			Offset:   e.offsetRelToMovi,
			DataSize: e.dataSize,
		}
		entryBytes, err := riff.MarshalBinary(entry)
		if err != nil {
			return err
		}
		if err := m.rw.Write(entryBytes); err != nil {
			return err
		}
	}

	return m.rw.CloseItem(item)
}

// mergeLegacyEntries performs the k-way merge by dataOffset described
// in spec §4.3.9. Each stream's own list is already offset-ordered
// (entries are appended as writes happen, and writes within a stream
// only ever move forward), so this is a standard k-way merge over
// already-sorted lists rather than a full sort.
func (m *Muxer) mergeLegacyEntries() []legacyIndexRecord {
	type cursor struct {
		entries []legacyIndexRecord
		pos     int
	}
	cursors := make([]*cursor, 0, len(m.states))
	total := 0
	for _, s := range m.states {
		if len(s.legacyIndex) > 0 {
			cursors = append(cursors, &cursor{entries: s.legacyIndex})
			total += len(s.legacyIndex)
		}
	}

	merged := make([]legacyIndexRecord, 0, total)
	for len(cursors) > 0 {
		bestIdx := 0
		best := cursors[0].entries[cursors[0].pos]
		for i := 1; i < len(cursors); i++ {
			cand := cursors[i].entries[cursors[i].pos]
			if cand.offsetRelToMovi < best.offsetRelToMovi {
				best = cand
				bestIdx = i
			}
		}
		merged = append(merged, best)
		cursors[bestIdx].pos++
		if cursors[bestIdx].pos >= len(cursors[bestIdx].entries) {
			cursors = append(cursors[:bestIdx], cursors[bestIdx+1:]...)
		}
	}
	return merged
}
