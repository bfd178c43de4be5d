package avi

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/teocci/go-avimux/riff"
)

// Summary is the result of Probe: enough about a closed AVI file to
// assert the round-trip properties a muxer test cares about, without
// a full demuxer.
//
// Grounded on charlescerisier/avixer's avi.Reader/FileInfo walk
// (parseFile/parseChunks/parseHDRLList) and other_examples/
// wnielson-go-mediainfo__avi.go's header-walk shape, trimmed to a
// read-only summary since nothing in this package needs to read
// frame data back.
type Summary struct {
	StreamCount int
	Duration    time.Duration
	RIFFChain   int // number of top-level RIFF/AVIX lists
	HasIndex1   bool
	TotalFrames uint32
}

type chunkHeader struct {
	ID   uint32
	Size uint32
}

// Probe walks a just-closed (or externally supplied) AVI file far
// enough to report stream count, duration, and RIFF chain length. It
// does not read movi payload bytes, only chunk headers, so it costs
// one pass over the file's structural chunks regardless of movi size.
func Probe(r io.ReadSeeker, size int64) (*Summary, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("avi: probe seek to start: %w", err)
	}

	summary := &Summary{}
	var microSecPerFrame uint32

	pos := int64(0)
	for pos < size {
		var top chunkHeader
		if err := readHeader(r, &top); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("avi: probe read top-level chunk: %w", err)
		}
		pos += 8

		tag := riff.FourCCFromUint32(top.ID)
		if !tag.Equal(riff.TagRIFF) {
			return nil, fmt.Errorf("avi: probe expected RIFF at offset %d, found %q", pos-8, tag)
		}

		var listType [4]byte
		if err := binary.Read(r, binary.LittleEndian, &listType); err != nil {
			return nil, fmt.Errorf("avi: probe read RIFF form type: %w", err)
		}
		pos += 4

		form := string(listType[:])
		if form != "AVI " && form != "AVIX" {
			return nil, fmt.Errorf("avi: probe unrecognized RIFF form %q", form)
		}
		summary.RIFFChain++

		listEnd := pos + int64(top.Size) - 4
		if err := probeRIFFBody(r, listEnd, form == "AVI ", summary, &microSecPerFrame); err != nil {
			return nil, err
		}

		next := pos + int64(alignSize(top.Size-4))
		if _, err := r.Seek(next, io.SeekStart); err != nil {
			return nil, fmt.Errorf("avi: probe seek to next RIFF: %w", err)
		}
		pos = next
	}

	if microSecPerFrame > 0 {
		summary.Duration = time.Duration(summary.TotalFrames) * time.Duration(microSecPerFrame) * time.Microsecond
	}

	return summary, nil
}

// probeRIFFBody walks one RIFF's immediate children (hdrl, movi, idx1),
// stopping at listEnd. Only the first RIFF (isFirst) is expected to
// carry hdrl/idx1; subsequent AVIX RIFFs carry only movi, but the
// walk tolerates either shape.
func probeRIFFBody(r io.ReadSeeker, listEnd int64, isFirst bool, summary *Summary, microSecPerFrame *uint32) error {
	for {
		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("avi: probe position: %w", err)
		}
		if pos >= listEnd {
			return nil
		}

		var header chunkHeader
		if err := readHeader(r, &header); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("avi: probe read chunk in RIFF body: %w", err)
		}

		tag := riff.FourCCFromUint32(header.ID)
		switch {
		case tag.Equal(riff.TagLIST):
			var listType [4]byte
			if err := binary.Read(r, binary.LittleEndian, &listType); err != nil {
				return fmt.Errorf("avi: probe read list type: %w", err)
			}
			bodySize := header.Size - 4
			switch string(listType[:]) {
			case "hdrl":
				if err := probeHeaderList(r, bodySize, summary, microSecPerFrame); err != nil {
					return err
				}
			default:
				if err := skip(r, int64(alignSize(bodySize))); err != nil {
					return err
				}
			}
		case tag.Equal(riff.TagIdx1):
			summary.HasIndex1 = true
			if err := skip(r, int64(alignSize(header.Size))); err != nil {
				return err
			}
		default:
			if err := skip(r, int64(alignSize(header.Size))); err != nil {
				return err
			}
		}
	}
}

func probeHeaderList(r io.ReadSeeker, size uint32, summary *Summary, microSecPerFrame *uint32) error {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	end := start + int64(size)

	for {
		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		if pos >= end {
			return nil
		}

		var header chunkHeader
		if err := readHeader(r, &header); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		tag := riff.FourCCFromUint32(header.ID)
		switch {
		case tag.Equal(riff.TagAvih):
			var hdr riff.MainHeader
			if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
				return fmt.Errorf("avi: probe read avih: %w", err)
			}
			*microSecPerFrame = hdr.MicroSecPerFrame
			summary.TotalFrames = hdr.TotalFrames
			remaining := int64(header.Size) - 56
			if remaining > 0 {
				if err := skip(r, alignSize64(remaining)); err != nil {
					return err
				}
			}
		case tag.Equal(riff.TagLIST):
			var listType [4]byte
			if err := binary.Read(r, binary.LittleEndian, &listType); err != nil {
				return err
			}
			if string(listType[:]) == "strl" {
				summary.StreamCount++
			}
			if err := skip(r, int64(alignSize(header.Size-4))); err != nil {
				return err
			}
		default:
			if err := skip(r, int64(alignSize(header.Size))); err != nil {
				return err
			}
		}
	}
}

func readHeader(r io.Reader, h *chunkHeader) error {
	return binary.Read(r, binary.LittleEndian, h)
}

func skip(r io.ReadSeeker, n int64) error {
	_, err := r.Seek(n, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("avi: probe skip: %w", err)
	}
	return nil
}

func alignSize(n uint32) uint32 {
	if n%2 != 0 {
		return n + 1
	}
	return n
}

func alignSize64(n int64) int64 {
	if n%2 != 0 {
		return n + 1
	}
	return n
}
