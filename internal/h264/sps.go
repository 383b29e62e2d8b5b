package h264

import (
	"errors"
	"fmt"
)

// ErrShortSPS is returned when an SPS ends before the resolution fields.
var ErrShortSPS = errors.New("h264: SPS too short")

// SPS is the subset of a sequence parameter set camlink reports: the coded
// picture size after cropping and the profile/level identifiers.
type SPS struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
}

// CodecString returns the RFC 6381 codec parameter, e.g. "avc1.64001F".
func (s SPS) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// bitReader reads an RBSP MSB first. The first read past the end sets err;
// later reads return zero so callers can check once at the end.
type bitReader struct {
	buf []byte
	pos int // bit offset
	err error
}

func (r *bitReader) u(n int) uint {
	var v uint
	for i := 0; i < n; i++ {
		if r.err != nil {
			return 0
		}
		if r.pos>>3 >= len(r.buf) {
			r.err = ErrShortSPS
			return 0
		}
		bit := (r.buf[r.pos>>3] >> (7 - uint(r.pos&7))) & 1
		v = v<<1 | uint(bit)
		r.pos++
	}
	return v
}

func (r *bitReader) flag() bool { return r.u(1) == 1 }

// ue reads an Exp-Golomb unsigned value.
func (r *bitReader) ue() uint {
	zeros := 0
	for r.u(1) == 0 {
		if r.err != nil {
			return 0
		}
		zeros++
		if zeros > 31 {
			r.err = ErrShortSPS
			return 0
		}
	}
	return (1 << zeros) - 1 + r.u(zeros)
}

func (r *bitReader) se() int {
	v := r.ue()
	if v&1 == 0 {
		return -int(v >> 1)
	}
	return int((v + 1) >> 1)
}

func (r *bitReader) scalingList(size int) {
	last, next := 8, 8
	for j := 0; j < size && r.err == nil; j++ {
		if next != 0 {
			next = (last + r.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// profiles that carry chroma_format_idc and friends in the SPS
var highProfiles = map[uint]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// ParseSPS decodes the picture size from an SPS NAL unit given without its
// start code (first byte is the NAL header). VUI is not read.
func ParseSPS(nal []byte) (SPS, error) {
	if len(nal) < 4 {
		return SPS{}, ErrShortSPS
	}
	r := &bitReader{buf: unescapeRBSP(nal[1:])}

	var s SPS
	profile := r.u(8)
	s.ProfileIDC = byte(profile)
	s.ConstraintFlags = byte(r.u(8))
	s.LevelIDC = byte(r.u(8))
	r.ue() // seq_parameter_set_id

	chroma := uint(1)
	separatePlanes := false
	if highProfiles[profile] {
		chroma = r.ue()
		if chroma == 3 {
			separatePlanes = r.flag()
		}
		r.ue() // bit_depth_luma_minus8
		r.ue() // bit_depth_chroma_minus8
		r.u(1) // qpprime_y_zero_transform_bypass_flag
		if r.flag() {
			lists := 8
			if chroma == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if !r.flag() {
					continue
				}
				if i < 6 {
					r.scalingList(16)
				} else {
					r.scalingList(64)
				}
			}
		}
	}

	r.ue() // log2_max_frame_num_minus4
	switch r.ue() {
	case 0:
		r.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		r.u(1)
		r.se()
		r.se()
		for n := r.ue(); n > 0 && r.err == nil; n-- {
			r.se()
		}
	}
	r.ue() // max_num_ref_frames
	r.u(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs := r.ue() + 1
	heightUnits := r.ue() + 1
	frameMbsOnly := r.u(1)
	if frameMbsOnly == 0 {
		r.u(1) // mb_adaptive_frame_field_flag
	}
	r.u(1) // direct_8x8_inference_flag

	var cropL, cropR, cropT, cropB uint
	if r.flag() {
		cropL, cropR, cropT, cropB = r.ue(), r.ue(), r.ue(), r.ue()
	}
	if r.err != nil {
		return SPS{}, r.err
	}

	subW, subH := uint(2), uint(2)
	if separatePlanes {
		chroma = 0
	}
	switch chroma {
	case 0, 3:
		subW, subH = 1, 1
	case 2:
		subW, subH = 2, 1
	}
	fieldMul := 2 - frameMbsOnly

	s.Width = int(widthMbs*16 - subW*(cropL+cropR))
	s.Height = int(heightUnits*16*fieldMul - subH*fieldMul*(cropT+cropB))
	return s, nil
}

// FindSPS parses the first SPS found in an Annex B access unit.
func FindSPS(au []byte) (SPS, bool) {
	for _, u := range ParseAnnexB(au) {
		if u.Type != NALTypeSPS {
			continue
		}
		s, err := ParseSPS(u.Data)
		if err != nil {
			return SPS{}, false
		}
		return s, true
	}
	return SPS{}, false
}

// unescapeRBSP strips emulation prevention bytes (00 00 03 -> 00 00).
func unescapeRBSP(b []byte) []byte {
	out := make([]byte, 0, len(b))
	zeros := 0
	for _, c := range b {
		if zeros >= 2 && c == 3 {
			zeros = 0
			continue
		}
		if c == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, c)
	}
	return out
}
