package avi

import (
	"fmt"
	"math"

	"github.com/teocci/go-avimux/riff"
)

// prepareForWriting implements spec §4.3.2: freeze the frame rate and
// every stream, open the outer RIFF, write the header list, open movi,
// and pick the first RIFF's size threshold.
func (m *Muxer) prepareForWriting() error {
	m.frameRateNum, m.frameRateDen = decomposeFrameRate(m.frameRateSource())

	for i, s := range m.streams {
		s.freeze(i)
	}

	riffItem, err := m.rw.OpenList(riff.TagAVI, -1)
	if err != nil {
		return fmt.Errorf("avi: open first RIFF: %w", err)
	}
	m.currentRiff = riffItem
	m.isFirstRiff = true

	if err := m.writeHeaderList(); err != nil {
		return err
	}

	moviItem, err := m.rw.OpenList(riff.TagMovi, -1)
	if err != nil {
		return fmt.Errorf("avi: open movi: %w", err)
	}
	m.currentMovi = moviItem

	m.riffThreshold = firstRIFFThreshold
	m.started = true
	return nil
}

// frameRateSource picks the configured fps, defaulting from the first
// video stream if the caller left Options.FramesPerSecond unset.
func (m *Muxer) frameRateSource() float64 {
	if m.opts.FramesPerSecond > 0 {
		return m.opts.FramesPerSecond
	}
	for _, s := range m.streams {
		if v, ok := s.(*VideoStream); ok && v.FPS() > 0 {
			return v.FPS()
		}
	}
	return 1
}

// decomposeFrameRate implements the rational decomposition from spec
// §4.3.2: round fps to 3 decimal places to stabilize against floating
// point drift, pick denominator 1000, numerator = round(fps*1000),
// then normalize by their GCD.
func decomposeFrameRate(fps float64) (num, den uint32) {
	rounded := math.Round(fps*1000) / 1000
	denominator := uint32(1000)
	numerator := uint32(math.Round(rounded * 1000))
	if numerator == 0 {
		return 0, 1
	}
	g := gcd(numerator, denominator)
	return numerator / g, denominator / g
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

// writeHeaderList emits the "hdrl" LIST per spec §4.3.3: avih, one
// strl per stream (strh/strf/optional strn/indx), the odml/dmlh
// extension, and a trailing JUNK placeholder. All offsets that Close
// must later patch are recorded on m.
func (m *Muxer) writeHeaderList() error {
	m.headerListStart = m.rw.Position()

	hdrl, err := m.rw.OpenList(riff.TagHdrl, -1)
	if err != nil {
		return fmt.Errorf("avi: open hdrl: %w", err)
	}

	if err := m.writeMainHeader(); err != nil {
		return err
	}

	m.strhDataStarts = make([]int64, len(m.streams))
	m.strlIndxOffsets = make([]int64, len(m.streams))
	for i, s := range m.streams {
		if err := m.writeStreamList(i, s); err != nil {
			return err
		}
	}

	if err := m.writeOpenDMLHeader(); err != nil {
		return err
	}

	// See spec §4.3.3: a trailing JUNK chunk pads out any super-index
	// slots that go unused so the header's on-disk length never moves
	// between the provisional write and the final rewrite. Because
	// every stream always reserves the full 256-entry indx capacity up
	// front (spec §3 "superIndex.size <= 256... header reserves exactly
	// this many slots"), nothing here ever needs padding; the chunk is
	// kept for structural conformance with tools that expect it.
	junk, err := m.rw.OpenChunk(riff.TagJUNK, 0)
	if err != nil {
		return fmt.Errorf("avi: open trailing JUNK: %w", err)
	}
	if err := m.rw.CloseItem(junk); err != nil {
		return err
	}

	return m.rw.CloseItem(hdrl)
}

func (m *Muxer) writeMainHeader() error {
	flags := uint32(riff.AVIFIsInterleaved | riff.AVIFTrustChunkType)
	if m.opts.EmitIndex1 {
		flags |= riff.AVIFHasIndex
	}

	var width, height uint32
	for _, s := range m.streams {
		if v, ok := s.(*VideoStream); ok {
			width, height = uint32(v.Width()), uint32(v.Height())
			break
		}
	}

	microSecPerFrame := uint32(0)
	if m.frameRateNum > 0 {
		microSecPerFrame = uint32(math.Round(1000000.0 * float64(m.frameRateDen) / float64(m.frameRateNum)))
	}

	hdr := riff.MainHeader{
		MicroSecPerFrame: microSecPerFrame,
		Flags:            flags,
		Streams:          uint32(len(m.streams)),
		Width:            width,
		Height:           height,
	}
	payload, err := riff.MarshalBinary(hdr)
	if err != nil {
		return err
	}
	item, err := m.writeRawChunk(riff.TagAvih, payload)
	if err != nil {
		return err
	}
	m.avihItemStart = item.DataStart()
	return nil
}

// writeRawChunk wraps payload in a declared-size chunk, the common
// case throughout the header list, and returns the opened Item so
// callers can remember offsets for the final rewrite.
func (m *Muxer) writeRawChunk(tag riff.FourCC, payload []byte) (riff.Item, error) {
	item, err := m.rw.OpenChunk(tag, int64(len(payload)))
	if err != nil {
		return riff.Item{}, fmt.Errorf("avi: open %s chunk: %w", tag, err)
	}
	if err := m.rw.Write(payload); err != nil {
		return riff.Item{}, fmt.Errorf("avi: write %s payload: %w", tag, err)
	}
	if err := m.rw.CloseItem(item); err != nil {
		return riff.Item{}, err
	}
	return item, nil
}

func (m *Muxer) writeStreamList(index int, s Stream) error {
	strl, err := m.rw.OpenList(riff.TagStrl, -1)
	if err != nil {
		return fmt.Errorf("avi: open strl: %w", err)
	}

	strh, err := s.strhPayload(m.states[index], m.frameRateNum, m.frameRateDen)
	if err != nil {
		return err
	}
	strhItem, err := m.writeRawChunk(riff.TagStrh, strh)
	if err != nil {
		return err
	}
	m.strhDataStarts[index] = strhItem.DataStart()

	strf, err := s.strfPayload()
	if err != nil {
		return err
	}
	if _, err := m.writeRawChunk(riff.TagStrf, strf); err != nil {
		return err
	}

	if name := s.Name(); name != "" {
		if _, err := m.writeRawChunk(riff.TagStrn, append([]byte(name), 0)); err != nil {
			return err
		}
	}

	if err := m.writeSuperIndexPlaceholder(index, s); err != nil {
		return err
	}

	return m.rw.CloseItem(strl)
}

// writeSuperIndexPlaceholder reserves the "indx" chunk with all 256
// entries zero-filled (spec §4.3.3), recording the offset Close will
// later patch with the real entry count and contents.
func (m *Muxer) writeSuperIndexPlaceholder(index int, s Stream) error {
	size := 24 + riff.SuperIndexCapacity*16
	item, err := m.rw.OpenChunk(riff.TagIndx, int64(size))
	if err != nil {
		return fmt.Errorf("avi: open indx: %w", err)
	}
	m.strlIndxOffsets[index] = item.DataStart()

	header := riff.SuperIndexHeader{
		LongsPerEntry: 4,
		IndexSubType:  0,
		IndexType:     riff.AVIIndexOfIndexes,
		EntriesInUse:  0,
		ChunkID:       s.ChunkID().Uint32(),
	}
	headerBytes, err := riff.MarshalBinary(header)
	if err != nil {
		return err
	}
	if err := m.rw.Write(headerBytes); err != nil {
		return err
	}
	if err := m.rw.SkipBytes(riff.SuperIndexCapacity * 16); err != nil {
		return err
	}
	return m.rw.CloseItem(item)
}

func (m *Muxer) writeOpenDMLHeader() error {
	odml, err := m.rw.OpenList(riff.TagOdml, -1)
	if err != nil {
		return fmt.Errorf("avi: open odml: %w", err)
	}

	item, err := m.rw.OpenChunk(riff.TagDmlh, riff.OpenDMLHeaderReservedBytes)
	if err != nil {
		return fmt.Errorf("avi: open dmlh: %w", err)
	}
	m.dmlhDataStart = item.DataStart()
	if err := m.rw.SkipBytes(riff.OpenDMLHeaderReservedBytes); err != nil {
		return err
	}
	if err := m.rw.CloseItem(item); err != nil {
		return err
	}

	return m.rw.CloseItem(odml)
}
