package rtpsource

import (
	"bytes"
	"fmt"

	"github.com/teocci/go-avimux/utils/bits"
)

// sps holds just enough of an H.264 sequence parameter set to compute
// picture width/height, per ISO/IEC 14496-10. Field layout and the
// width/height derivation are ported from
// SentryShot-sentryshot/pkg/video/gortsplib/pkg/h264.SPS, replacing
// its icza/bitio reader with utils/bits.GolombBitReader (already
// carried over from the teacher's codebase) since both expose the
// same ReadBit/ReadBits/exp-golomb primitives an SPS walk needs.
type sps struct {
	profileIdc uint8

	picWidthInMbsMinus1  uint
	picHeightInMbsMinus1 uint
	frameMbsOnlyFlag     bool

	hasCropping  bool
	cropLeft     uint
	cropRight    uint
	cropTop      uint
	cropBottom   uint
}

func parseSPS(nalu []byte) (*sps, error) {
	if len(nalu) < 4 {
		return nil, fmt.Errorf("rtpsource: SPS too short")
	}
	if naluType(nalu[0]&0x1F) != naluTypeSPS {
		return nil, fmt.Errorf("rtpsource: not a SPS nalu")
	}

	rbsp := removeEmulationPrevention(nalu[1:])
	s := &sps{profileIdc: rbsp[0]}

	r := &bits.GolombBitReader{R: bytes.NewReader(rbsp[3:])} // skip profile_idc, constraint flags, level_idc

	if _, err := r.ReadExponentialGolombCode(); err != nil { // seq_parameter_set_id
		return nil, err
	}

	switch s.profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		if err := s.skipProfileExtension(r); err != nil {
			return nil, err
		}
	}

	if _, err := r.ReadExponentialGolombCode(); err != nil { // log2_max_frame_num_minus4
		return nil, err
	}
	picOrderCntType, err := r.ReadExponentialGolombCode()
	if err != nil {
		return nil, err
	}
	if err := s.skipPicOrderCnt(r, picOrderCntType); err != nil {
		return nil, err
	}

	if _, err := r.ReadExponentialGolombCode(); err != nil { // max_num_ref_frames
		return nil, err
	}
	if _, err := r.ReadBit(); err != nil { // gaps_in_frame_num_value_allowed_flag
		return nil, err
	}

	w, err := r.ReadExponentialGolombCode()
	if err != nil {
		return nil, err
	}
	s.picWidthInMbsMinus1 = w

	h, err := r.ReadExponentialGolombCode()
	if err != nil {
		return nil, err
	}
	s.picHeightInMbsMinus1 = h

	frameMbsOnly, err := r.ReadBit()
	if err != nil {
		return nil, err
	}
	s.frameMbsOnlyFlag = frameMbsOnly == 1
	if !s.frameMbsOnlyFlag {
		if _, err := r.ReadBit(); err != nil { // mb_adaptive_frame_field_flag
			return nil, err
		}
	}
	if _, err := r.ReadBit(); err != nil { // direct_8x8_inference_flag
		return nil, err
	}

	croppingFlag, err := r.ReadBit()
	if err != nil {
		return nil, err
	}
	if croppingFlag == 1 {
		s.hasCropping = true
		if s.cropLeft, err = r.ReadExponentialGolombCode(); err != nil {
			return nil, err
		}
		if s.cropRight, err = r.ReadExponentialGolombCode(); err != nil {
			return nil, err
		}
		if s.cropTop, err = r.ReadExponentialGolombCode(); err != nil {
			return nil, err
		}
		if s.cropBottom, err = r.ReadExponentialGolombCode(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *sps) skipProfileExtension(r *bits.GolombBitReader) error {
	chromaFormatIdc, err := r.ReadExponentialGolombCode()
	if err != nil {
		return err
	}
	if chromaFormatIdc == 3 {
		if _, err := r.ReadBit(); err != nil { // separate_colour_plane_flag
			return err
		}
	}
	if _, err := r.ReadExponentialGolombCode(); err != nil { // bit_depth_luma_minus8
		return err
	}
	if _, err := r.ReadExponentialGolombCode(); err != nil { // bit_depth_chroma_minus8
		return err
	}
	if _, err := r.ReadBit(); err != nil { // qpprime_y_zero_transform_bypass_flag
		return err
	}
	scalingMatrixPresent, err := r.ReadBit()
	if err != nil {
		return err
	}
	if scalingMatrixPresent == 1 {
		lim := 8
		if chromaFormatIdc == 3 {
			lim = 12
		}
		for i := 0; i < lim; i++ {
			present, err := r.ReadBit()
			if err != nil {
				return err
			}
			if present == 1 {
				size := 16
				if i >= 6 {
					size = 64
				}
				if err := skipScalingList(r, size); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func skipScalingList(r *bits.GolombBitReader, size int) error {
	lastScale, nextScale := int32(8), int32(8)
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta, err := r.ReadSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + int32(delta) + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

func (s *sps) skipPicOrderCnt(r *bits.GolombBitReader, picOrderCntType uint) error {
	switch picOrderCntType {
	case 0:
		if _, err := r.ReadExponentialGolombCode(); err != nil { // log2_max_pic_order_cnt_lsb_minus4
			return err
		}
	case 1:
		if _, err := r.ReadBit(); err != nil { // delta_pic_order_always_zero_flag
			return err
		}
		if _, err := r.ReadSE(); err != nil { // offset_for_non_ref_pic
			return err
		}
		if _, err := r.ReadSE(); err != nil { // offset_for_top_to_bottom_field
			return err
		}
		n, err := r.ReadExponentialGolombCode()
		if err != nil {
			return err
		}
		for i := uint(0); i < n; i++ {
			if _, err := r.ReadSE(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Width returns the decoded picture width in pixels.
func (s *sps) Width() int {
	w := int(s.picWidthInMbsMinus1+1) * 16
	if s.hasCropping {
		w -= int(s.cropLeft+s.cropRight) * 2
	}
	return w
}

// Height returns the decoded picture height in pixels.
func (s *sps) Height() int {
	f := 0
	if s.frameMbsOnlyFlag {
		f = 1
	}
	h := (2 - f) * int(s.picHeightInMbsMinus1+1) * 16
	if s.hasCropping {
		h -= int(s.cropTop+s.cropBottom) * 2
	}
	return h
}
