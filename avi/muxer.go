// Package avi implements the AVI multiplexer described in spec §4.3:
// the file-layout state machine that turns registered video/audio
// streams and a sequence of frames/blocks into a byte-exact RIFF tree
// conforming to legacy AVI v1 and the OpenDML v2 extension.
//
// Structurally this mirrors teocci/go-stream-av's format/mp4.Muxer
// (WriteHeader/WritePacket/WriteTrailer over a buffered io.WriteSeeker,
// one Stream per track, deferred header patching at Close) adapted from
// mp4's box-tree-computed-then-written model to RIFF's placeholder-and-
// patch model, and from a single top-level box to AVI's chain of RIFF
// lists (spec §4.3.7).
package avi

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/teocci/go-avimux/riff"
)

// Muxer assembles one AVI (or AVI+AVIX chain) file. All exported
// methods are safe for concurrent use; per spec §5 they serialize on a
// single write mutex.
type Muxer struct {
	mu sync.Mutex

	sink      io.WriteSeeker
	bufw      *bufio.Writer
	rw        *riff.Writer
	opts      Options
	sessionID uuid.UUID

	streams []Stream
	states  []*streamState

	started bool
	closed  bool

	frameRateNum uint32
	frameRateDen uint32

	currentRiff riff.Item
	currentMovi riff.Item
	isFirstRiff bool
	riffThreshold int64

	headerListStart int64
	avihItemStart   int64
	strhDataStarts  []int64 // per-stream absolute offset of the strh chunk's data start
	strlIndxOffsets []int64 // per-stream absolute offset of the indx chunk's data start
	dmlhDataStart   int64

	firstRiffFrameCount uint32
}

// NewMuxer creates a Muxer over a seekable byte sink. No bytes are
// written until the first frame/block, per spec §4.3.2.
func NewMuxer(sink io.WriteSeeker, opts Options) (*Muxer, error) {
	bufw := bufio.NewWriter(sink)
	rw, err := riff.NewWriter(&flushingSeeker{w: bufw, seeker: sink})
	if err != nil {
		return nil, fmt.Errorf("avi: create muxer: %w", err)
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("avi: generate session id: %w", err)
	}
	return &Muxer{
		sink:      sink,
		bufw:      bufw,
		rw:        rw,
		opts:      opts,
		sessionID: id,
	}, nil
}

// SessionID returns the muxer's random per-instance identifier, used
// only for log correlation — it has no on-disk representation.
func (m *Muxer) SessionID() uuid.UUID { return m.sessionID }

// flushingSeeker adapts a bufio.Writer + the underlying io.Seeker into
// a single io.WriteSeeker, flushing buffered bytes before any seek so
// the header back-patch in riff.Writer always lands at the true file
// position. bufio.Writer alone can't seek; io.WriteSeeker alone can't
// buffer. Grounded on format/mp4.Muxer's own bufio.Writer-over-
// WriteSeeker pairing, generalized to support mid-stream seeks (mp4
// only seeks once, at WriteTrailer; the AVI writer seeks on every
// chunk close with an unknown declared size).
type flushingSeeker struct {
	w      *bufio.Writer
	seeker io.Seeker
}

func (fs *flushingSeeker) Write(p []byte) (int, error) { return fs.w.Write(p) }

func (fs *flushingSeeker) Seek(offset int64, whence int) (int64, error) {
	if err := fs.w.Flush(); err != nil {
		return 0, fmt.Errorf("avi: flush before seek: %w", err)
	}
	return fs.seeker.Seek(offset, whence)
}

// AddVideoStream registers a video stream. Fails once writing has
// started or 100 streams are already registered (spec §4.3.1).
func (m *Muxer) AddVideoStream(s *VideoStream) (int, error) {
	return m.addStream(s)
}

// AddAudioStream registers an audio stream.
func (m *Muxer) AddAudioStream(s *AudioStream) (int, error) {
	return m.addStream(s)
}

func (m *Muxer) addStream(s Stream) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return -1, ErrWritingStarted
	}
	if len(m.streams) >= 100 {
		return -1, ErrTooManyStreams
	}

	index := len(m.streams)
	m.streams = append(m.streams, s)
	m.states = append(m.states, &streamState{})
	return index, nil
}

// WriteVideoFrame writes one video frame to the given stream, per
// spec §4.3.6. Entry point for both raw and encoder-adapted producers.
func (m *Muxer) WriteVideoFrame(stream *VideoStream, isKeyFrame bool, data []byte) error {
	return m.writeStreamChunk(stream, isKeyFrame, data)
}

// WriteAudioBlock writes one audio block. Audio blocks are always
// treated as key frames (spec §4.3.6).
func (m *Muxer) WriteAudioBlock(stream *AudioStream, data []byte) error {
	return m.writeStreamChunk(stream, true, data)
}

func (m *Muxer) writeStreamChunk(stream Stream, isKeyFrame bool, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if !m.started {
		if err := m.prepareForWriting(); err != nil {
			return err
		}
	}

	idx := stream.Index()
	if idx < 0 || idx >= len(m.states) {
		return fmt.Errorf("avi: unknown stream")
	}
	state := m.states[idx]

	if !state.hasSuperIndexCapacity() {
		return ErrSuperIndexFull
	}

	if state.shouldFlush(m.rw.Position()) {
		if err := m.flushStreamIndex(idx); err != nil {
			return err
		}
	}

	legacyDue := m.opts.EmitIndex1 && m.isFirstRiff

	approxNextSize := int64(len(data))
	if legacyDue {
		approxNextSize += 16
	}
	if err := m.createNewRiffIfNeeded(approxNextSize); err != nil {
		return err
	}

	if len(data) > math.MaxInt32 {
		return ErrSizeExceedsLimit
	}

	chunkID := stream.ChunkID()
	item, err := m.rw.OpenChunk(chunkID, int64(len(data)))
	if err != nil {
		return fmt.Errorf("avi: open data chunk: %w", err)
	}
	if err := m.rw.Write(data); err != nil {
		return fmt.Errorf("avi: write chunk data: %w", err)
	}
	if err := m.rw.CloseItem(item); err != nil {
		return fmt.Errorf("avi: close data chunk: %w", err)
	}

	dataSize := uint32(len(data))
	state.recordChunk(uint64(item.DataStart()), dataSize, isKeyFrame)

	if legacyDue {
		offsetRelToMovi := uint32(item.ItemStart() - m.currentMovi.DataStart())
		state.recordLegacyEntry(chunkID, isKeyFrame, offsetRelToMovi, dataSize)
	}

	return nil
}

// Close implements spec §4.3.10: flush residual indices, close the
// current RIFF (and idx1 if this is still the first RIFF), rewrite the
// header with final counts, and optionally close the sink.
func (m *Muxer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	started := m.started
	streams := append([]Stream(nil), m.streams...)
	m.mu.Unlock()

	// FinishWriting is called with the lock released: a finisher may
	// loop back through WriteVideoFrame/WriteAudioBlock, which lock
	// m.mu themselves (spec §4.3.10 step 1).
	if started {
		for _, s := range streams {
			if err := s.FinishWriting(m); err != nil {
				return fmt.Errorf("avi: finish writing stream: %w", err)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	m.opts.logger().Printf("avi[%s]: closing muxer", m.sessionID)

	if !started {
		// Nothing was ever written; still honor LeaveOpen for symmetry.
		if !m.opts.LeaveOpen {
			if c, ok := m.sink.(io.Closer); ok {
				return c.Close()
			}
		}
		return nil
	}

	for idx := range m.streams {
		if state := m.states[idx]; len(state.standardIndex) > 0 {
			if err := m.flushStreamIndex(idx); err != nil {
				return err
			}
		}
	}

	if err := m.rw.CloseItem(m.currentMovi); err != nil {
		return fmt.Errorf("avi: close movi: %w", err)
	}

	if m.isFirstRiff {
		if err := m.finishFirstRiff(); err != nil {
			return err
		}
	}

	if err := m.rw.CloseItem(m.currentRiff); err != nil {
		return fmt.Errorf("avi: close riff: %w", err)
	}

	if err := m.rewriteHeader(); err != nil {
		return err
	}

	if err := m.bufw.Flush(); err != nil {
		return fmt.Errorf("avi: final flush: %w", err)
	}

	if !m.opts.LeaveOpen {
		if c, ok := m.sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				return fmt.Errorf("avi: close sink: %w", err)
			}
		}
	}
	return nil
}

// finishFirstRiff performs the first-RIFF-close actions from spec
// §4.3.9: capture the frame count that the main header reports, and
// emit "idx1" if enabled.
func (m *Muxer) finishFirstRiff() error {
	var maxVideoFrames uint32
	for idx, s := range m.streams {
		if _, ok := s.(*VideoStream); ok {
			if fc := m.states[idx].frameCount; fc > maxVideoFrames {
				maxVideoFrames = fc
			}
		}
	}
	m.firstRiffFrameCount = maxVideoFrames

	if m.opts.EmitIndex1 {
		if err := m.writeLegacyIndex(); err != nil {
			return err
		}
	}
	return nil
}
