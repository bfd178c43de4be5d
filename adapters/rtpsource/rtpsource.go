// Package rtpsource depacketizes an RTP/H.264 stream into access units
// suitable for avi.Muxer.WriteVideoFrame, and derives the picture size
// needed to construct the destination avi.VideoStream from the
// stream's SPS.
//
// The depacketization state machine (STAP-A aggregation, FU-A
// fragmentation reassembly, marker-bit access-unit grouping) is
// ported from SentryShot-sentryshot's
// pkg/video/gortsplib/pkg/rtph264.Decoder, trimmed to the subset this
// module needs: it drops timestamp decoding (spec §4.4's frame rate is
// supplied by the caller, not recovered from RTP timestamps) and the
// DecodeUntilMarker naluBuffer indirection collapses into Decoder
// itself since nothing else shares it.
package rtpsource

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pion/rtp"

	"github.com/teocci/go-avimux/avi"
)

var (
	ErrMorePacketsNeeded    = errors.New("rtpsource: need more packets")
	ErrShortPayload         = errors.New("rtpsource: payload too short")
	ErrSTAPInvalid          = errors.New("rtpsource: invalid STAP-A packet")
	ErrFUInvalidSize        = errors.New("rtpsource: invalid FU-A packet size")
	ErrFUInvalidNonStarting = errors.New("rtpsource: FU-A continuation without a start")
	ErrFUInvalidStarting    = errors.New("rtpsource: two FU-A start fragments in a row")
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// Decoder reassembles RTP/H.264 payloads (RFC 6184 STAP-A and FU-A
// packetization modes) into complete NAL units, and groups NAL units
// belonging to the same access unit using the RTP marker bit.
type Decoder struct {
	startingPacketReceived bool
	isDecodingFragmented   bool
	fragmentedBuffer       []byte

	auNALUs [][]byte
}

// NewDecoder returns an empty Decoder ready to process a packet
// stream from its first packet.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode depacketizes a single RTP packet, returning any NAL units it
// completed. FU-A continuation and middle fragments return
// (nil, ErrMorePacketsNeeded) until the final fragment arrives.
func (d *Decoder) Decode(pkt *rtp.Packet) ([][]byte, error) {
	if d.isDecodingFragmented {
		return d.decodeFragmented(pkt)
	}
	return d.decodeUnfragmented(pkt)
}

func (d *Decoder) decodeFragmented(pkt *rtp.Packet) ([][]byte, error) {
	if len(pkt.Payload) < 2 {
		d.isDecodingFragmented = false
		return nil, ErrFUInvalidSize
	}

	typ := naluType(pkt.Payload[0] & 0x1F)
	if typ != naluTypeFUA {
		d.isDecodingFragmented = false
		return nil, fmt.Errorf("rtpsource: expected FU-A continuation, got type %d", typ)
	}

	start := pkt.Payload[1] >> 7
	if start == 1 {
		d.isDecodingFragmented = false
		return nil, ErrFUInvalidStarting
	}

	d.fragmentedBuffer = append(d.fragmentedBuffer, pkt.Payload[2:]...)

	end := (pkt.Payload[1] >> 6) & 0x01
	if end != 1 {
		return nil, ErrMorePacketsNeeded
	}

	d.isDecodingFragmented = false
	d.startingPacketReceived = true
	return [][]byte{d.fragmentedBuffer}, nil
}

func (d *Decoder) decodeUnfragmented(pkt *rtp.Packet) ([][]byte, error) {
	if len(pkt.Payload) < 1 {
		return nil, ErrShortPayload
	}

	typ := naluType(pkt.Payload[0] & 0x1F)

	switch typ {
	case naluTypeSTAPA:
		nalus, err := splitSTAPA(pkt.Payload[1:])
		if err != nil {
			return nil, err
		}
		d.startingPacketReceived = true
		return nalus, nil

	case naluTypeFUA:
		if len(pkt.Payload) < 2 {
			return nil, ErrFUInvalidSize
		}
		start := pkt.Payload[1] >> 7
		if start != 1 {
			if !d.startingPacketReceived {
				return nil, ErrFUInvalidNonStarting
			}
			return nil, ErrFUInvalidNonStarting
		}

		nri := (pkt.Payload[0] >> 5) & 0x03
		innerType := pkt.Payload[1] & 0x1F
		d.fragmentedBuffer = append([]byte{(nri << 5) | innerType}, pkt.Payload[2:]...)

		d.isDecodingFragmented = true
		d.startingPacketReceived = true
		return nil, ErrMorePacketsNeeded
	}

	d.startingPacketReceived = true
	return [][]byte{pkt.Payload}, nil
}

func splitSTAPA(payload []byte) ([][]byte, error) {
	var nalus [][]byte
	for len(payload) > 0 {
		if len(payload) < 2 {
			return nil, ErrSTAPInvalid
		}
		size := int(payload[0])<<8 | int(payload[1])
		payload = payload[2:]
		if size == 0 {
			break
		}
		if size > len(payload) {
			return nil, ErrSTAPInvalid
		}
		nalus = append(nalus, payload[:size])
		payload = payload[size:]
	}
	if len(nalus) == 0 {
		return nil, ErrSTAPInvalid
	}
	return nalus, nil
}

// DecodeAccessUnit behaves like Decode but buffers completed NAL units
// across packets until pkt carries the RTP marker bit, at which point
// it returns every NAL unit belonging to that access unit.
func (d *Decoder) DecodeAccessUnit(pkt *rtp.Packet) ([][]byte, error) {
	nalus, err := d.Decode(pkt)
	if err != nil {
		if errors.Is(err, ErrMorePacketsNeeded) {
			return nil, ErrMorePacketsNeeded
		}
		return nil, err
	}

	d.auNALUs = append(d.auNALUs, nalus...)
	if !pkt.Marker {
		return nil, ErrMorePacketsNeeded
	}

	au := d.auNALUs
	d.auNALUs = nil
	return au, nil
}

// accessUnitIsKeyFrame reports whether any NAL unit in au is an IDR
// slice, per spec's "key frame" definition for WriteVideoFrame.
func accessUnitIsKeyFrame(au [][]byte) bool {
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		if naluType(nalu[0]&0x1F).isKeyFrame() {
			return true
		}
	}
	return false
}

// encodeAnnexB concatenates an access unit's NAL units into a single
// Annex-B byte stream (start code + NALU, repeated), the framing
// avi.Muxer.WriteVideoFrame expects for a compressed H.264 stream.
func encodeAnnexB(au [][]byte) []byte {
	var buf bytes.Buffer
	for _, nalu := range au {
		buf.Write(annexBStartCode)
		buf.Write(nalu)
	}
	return buf.Bytes()
}

// Source pulls RTP/H.264 packets through a Decoder and writes
// completed access units to an avi.Muxer as compressed video frames.
// Construct one with NewSource once SPS/PPS dimensions are known.
type Source struct {
	dec    *Decoder
	muxer  *avi.Muxer
	stream *avi.VideoStream
}

// NewSource wires a Decoder to stream's destination in m. stream must
// already be added to m via AddVideoStream and configured with an
// H.264 compressor FourCC via SetCodec.
func NewSource(m *avi.Muxer, stream *avi.VideoStream) *Source {
	return &Source{dec: NewDecoder(), muxer: m, stream: stream}
}

// WritePacket feeds one RTP packet through the depacketizer. When the
// packet completes an access unit (its marker bit is set), the
// reassembled frame is written to the muxer and WritePacket returns
// nil. ErrMorePacketsNeeded is returned (and is not a failure) while
// an access unit is still being assembled.
func (s *Source) WritePacket(pkt *rtp.Packet) error {
	au, err := s.dec.DecodeAccessUnit(pkt)
	if err != nil {
		if errors.Is(err, ErrMorePacketsNeeded) {
			return ErrMorePacketsNeeded
		}
		return fmt.Errorf("rtpsource: decode packet: %w", err)
	}
	if len(au) == 0 {
		return nil
	}

	frame := encodeAnnexB(au)
	if err := s.muxer.WriteVideoFrame(s.stream, accessUnitIsKeyFrame(au), frame); err != nil {
		return fmt.Errorf("rtpsource: write video frame: %w", err)
	}
	return nil
}

// ReadSPSPPS scans packets produced by next until both an SPS and a
// PPS NAL unit have been observed, and returns them. Use this before
// constructing the destination avi.VideoStream so its width/height
// can be taken from the SPS.
func ReadSPSPPS(next func() (*rtp.Packet, error)) (spsNALU, ppsNALU []byte, err error) {
	dec := NewDecoder()
	for {
		pkt, err := next()
		if err != nil {
			return nil, nil, err
		}

		nalus, err := dec.Decode(pkt)
		if err != nil {
			if errors.Is(err, ErrMorePacketsNeeded) {
				continue
			}
			return nil, nil, err
		}

		for _, nalu := range nalus {
			switch naluType(nalu[0] & 0x1F) {
			case naluTypeSPS:
				spsNALU = append([]byte(nil), nalu...)
			case naluTypePPS:
				ppsNALU = append([]byte(nil), nalu...)
			}
			if spsNALU != nil && ppsNALU != nil {
				return spsNALU, ppsNALU, nil
			}
		}
	}
}

// Dimensions parses spsNALU and returns the picture width and height
// it declares.
func Dimensions(spsNALU []byte) (width, height int, err error) {
	s, err := parseSPS(spsNALU)
	if err != nil {
		return 0, 0, err
	}
	return s.Width(), s.Height(), nil
}
