package h264

import "github.com/zsiec/camlink/media"

// AccessUnit is a run of NAL units the encoder would hand over as one
// buffer: either the SPS/PPS parameter sets or one coded picture. Data keeps
// the original start codes and aliases the scanned stream.
type AccessUnit struct {
	Kind media.Kind
	Data []byte
}

func isVCL(t byte) bool { return t >= NALTypeSlice && t <= NALTypeIDR }

// firstSliceOfPicture reports whether first_mb_in_slice is zero, which is
// ue(v) "1" and therefore just the top bit after the NAL header.
func firstSliceOfPicture(u NALUnit) bool {
	return len(u.Data) > 1 && u.Data[1]&0x80 != 0
}

// SplitAccessUnits groups an Annex B elementary stream into access units.
// Parameter sets are collected into a config unit; a new picture starts at
// an AUD, an SEI or a slice with first_mb_in_slice == 0 once the current
// unit already holds a slice. Leading bytes before the first start code and
// trailing SEI/AUD without a picture are dropped.
func SplitAccessUnits(stream []byte) []AccessUnit {
	var (
		out    []AccessUnit
		start  = -1
		hasVCL bool
		hasPS  bool
		key    bool
	)
	flush := func(end int) {
		if start >= 0 && (hasVCL || hasPS) {
			kind := media.KindConfig
			if hasVCL {
				kind = media.KindDeltaFrame
				if key {
					kind = media.KindKeyFrame
				}
			}
			out = append(out, AccessUnit{Kind: kind, Data: stream[start:end]})
		}
		start, hasVCL, hasPS, key = -1, false, false, false
	}

	for _, u := range ParseAnnexB(stream) {
		switch {
		case IsParameterSet(u.Type):
			if hasVCL {
				flush(u.Offset)
			}
		case isVCL(u.Type):
			if (hasVCL && firstSliceOfPicture(u)) || (!hasVCL && hasPS) {
				flush(u.Offset)
			}
		case u.Type == NALTypeAUD || u.Type == NALTypeSEI:
			if hasVCL {
				flush(u.Offset)
			}
		}
		if start < 0 {
			start = u.Offset
		}
		hasPS = hasPS || IsParameterSet(u.Type)
		hasVCL = hasVCL || isVCL(u.Type)
		key = key || IsKeyframe(u.Type)
	}
	flush(len(stream))
	return out
}
