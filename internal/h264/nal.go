// Package h264 holds the small amount of H.264 bitstream knowledge camlink
// needs: Annex B NAL scanning, access-unit classification and splitting,
// and SPS resolution parsing.
package h264

import "github.com/zsiec/camlink/media"

// NAL unit types from ITU-T H.264 Table 7-1.
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// NALUnit is one NAL unit without its start code.
type NALUnit struct {
	Type   byte
	Data   []byte // starts with the NAL header byte
	Offset int    // offset of the start code in the scanned buffer
}

// ParseAnnexB splits an Annex B byte stream at 3- and 4-byte start codes.
// Bytes before the first start code are ignored. The returned Data slices
// alias the input.
func ParseAnnexB(data []byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type mark struct{ sc, body int }
	var marks []mark
	for i := 0; i+2 < n; {
		if data[i] != 0 || data[i+1] != 0 {
			i++
			continue
		}
		if i+3 < n && data[i+2] == 0 && data[i+3] == 1 {
			marks = append(marks, mark{i, i + 4})
			i += 4
			continue
		}
		if data[i+2] == 1 {
			marks = append(marks, mark{i, i + 3})
			i += 3
			continue
		}
		i++
	}

	var units []NALUnit
	for k, m := range marks {
		end := n
		if k+1 < len(marks) {
			end = marks[k+1].sc
		}
		if m.body >= end {
			continue
		}
		body := data[m.body:end]
		units = append(units, NALUnit{Type: body[0] & 0x1F, Data: body, Offset: m.sc})
	}
	return units
}

// IsKeyframe reports whether the NAL type is an IDR slice.
func IsKeyframe(nalType byte) bool { return nalType == NALTypeIDR }

// IsParameterSet reports whether the NAL type is an SPS or PPS.
func IsParameterSet(nalType byte) bool {
	return nalType == NALTypeSPS || nalType == NALTypePPS
}

// Classify derives the frame kind of an access unit from its NAL units:
// any IDR slice makes it a keyframe, a unit made only of parameter sets
// (and SEI/AUD) is config, anything else is a delta picture. Payloads that
// carry no start code at all are treated as delta pictures.
func Classify(au []byte) media.Kind {
	units := ParseAnnexB(au)
	if len(units) == 0 {
		return media.KindDeltaFrame
	}
	hasParamSet := false
	for _, u := range units {
		switch {
		case IsKeyframe(u.Type):
			return media.KindKeyFrame
		case IsParameterSet(u.Type):
			hasParamSet = true
		case u.Type == NALTypeSEI || u.Type == NALTypeAUD:
		default:
			return media.KindDeltaFrame
		}
	}
	if hasParamSet {
		return media.KindConfig
	}
	return media.KindDeltaFrame
}
