package h264

import (
	"bytes"
	"testing"

	"github.com/zsiec/camlink/media"
)

var sps720p = []byte{
	0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
	0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
	0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
	0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
}

var sc4 = []byte{0x00, 0x00, 0x00, 0x01}

func annexB(nals ...[]byte) []byte {
	var b []byte
	for _, n := range nals {
		b = append(b, sc4...)
		b = append(b, n...)
	}
	return b
}

func TestParseAnnexBMixedStartCodes(t *testing.T) {
	t.Parallel()
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42,
		0x00, 0x00, 0x01, 0x68, 0xCE,
		0x00, 0x00, 0x01, 0x06, 0x05, 0x01,
		0x00, 0x00, 0x00, 0x01, 0x65, 0x88,
	}
	units := ParseAnnexB(data)
	want := []byte{NALTypeSPS, NALTypePPS, NALTypeSEI, NALTypeIDR}
	if len(units) != len(want) {
		t.Fatalf("got %d NAL units, want %d", len(units), len(want))
	}
	for i, w := range want {
		if units[i].Type != w {
			t.Errorf("unit %d: got type %d, want %d", i, units[i].Type, w)
		}
	}
	if units[1].Offset != 6 {
		t.Errorf("PPS offset: got %d, want 6", units[1].Offset)
	}
	if len(units[2].Data) != 3 {
		t.Errorf("SEI length: got %d, want 3", len(units[2].Data))
	}
}

func TestParseAnnexBEmpty(t *testing.T) {
	t.Parallel()
	if got := ParseAnnexB(nil); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
	if got := ParseAnnexB([]byte{0x01, 0x02, 0x03, 0x04, 0x05}); len(got) != 0 {
		t.Fatalf("got %d units from data without start codes", len(got))
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		au   []byte
		want media.Kind
	}{
		{"parameter sets", annexB(sps720p, []byte{0x68, 0xce, 0x38, 0x80}), media.KindConfig},
		{"idr", annexB([]byte{0x65, 0x88, 0x84}), media.KindKeyFrame},
		{"sei then idr", annexB([]byte{0x06, 0x05, 0x01}, []byte{0x65, 0x88}), media.KindKeyFrame},
		{"non-idr slice", annexB([]byte{0x41, 0x9a, 0x02}), media.KindDeltaFrame},
		{"no start code", []byte{0x41, 0x9a, 0x02, 0x03}, media.KindDeltaFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.au); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseSPS720p(t *testing.T) {
	t.Parallel()
	s, err := ParseSPS(sps720p)
	if err != nil {
		t.Fatalf("ParseSPS: %v", err)
	}
	if s.Width != 1280 || s.Height != 720 {
		t.Errorf("got %dx%d, want 1280x720", s.Width, s.Height)
	}
	if got := s.CodecString(); got != "avc1.64001F" {
		t.Errorf("codec: got %q, want %q", got, "avc1.64001F")
	}
}

func TestParseSPS256x192(t *testing.T) {
	t.Parallel()
	nal := []byte{
		0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
		0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
		0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
		0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
		0x3a, 0x8e, 0x18, 0xc9,
	}
	s, err := ParseSPS(nal)
	if err != nil {
		t.Fatalf("ParseSPS: %v", err)
	}
	if s.Width != 256 || s.Height != 192 {
		t.Errorf("got %dx%d, want 256x192", s.Width, s.Height)
	}
}

func TestParseSPSTruncated(t *testing.T) {
	t.Parallel()
	if _, err := ParseSPS([]byte{0x67, 0x64, 0x00}); err == nil {
		t.Fatal("expected error for 3-byte SPS")
	}
	if _, err := ParseSPS(sps720p[:6]); err == nil {
		t.Fatal("expected error for SPS cut before picture size")
	}
}

func TestFindSPS(t *testing.T) {
	t.Parallel()
	au := annexB(sps720p, []byte{0x68, 0xce, 0x38, 0x80})
	s, ok := FindSPS(au)
	if !ok {
		t.Fatal("FindSPS: not found")
	}
	if s.Width != 1280 {
		t.Errorf("width: got %d, want 1280", s.Width)
	}
	if _, ok := FindSPS(annexB([]byte{0x65, 0x88})); ok {
		t.Error("FindSPS found an SPS in an IDR-only unit")
	}
}

func TestSplitAccessUnits(t *testing.T) {
	t.Parallel()
	pps := []byte{0x68, 0xce, 0x38, 0x80}
	idr := []byte{0x65, 0x88, 0x84}
	slice1a := []byte{0x41, 0x9a, 0x02}
	slice1b := []byte{0x41, 0x40, 0x11} // first_mb_in_slice != 0
	slice2 := []byte{0x41, 0x9a, 0x05}

	stream := append([]byte{0xff}, annexB(sps720p, pps, idr, slice1a, slice1b, slice2)...)
	aus := SplitAccessUnits(stream)

	want := []struct {
		kind media.Kind
		data []byte
	}{
		{media.KindConfig, annexB(sps720p, pps)},
		{media.KindKeyFrame, annexB(idr)},
		{media.KindDeltaFrame, annexB(slice1a, slice1b)},
		{media.KindDeltaFrame, annexB(slice2)},
	}
	if len(aus) != len(want) {
		t.Fatalf("got %d access units, want %d", len(aus), len(want))
	}
	for i, w := range want {
		if aus[i].Kind != w.kind {
			t.Errorf("au %d: kind %v, want %v", i, aus[i].Kind, w.kind)
		}
		if !bytes.Equal(aus[i].Data, w.data) {
			t.Errorf("au %d: data %x, want %x", i, aus[i].Data, w.data)
		}
		if got := Classify(aus[i].Data); got != w.kind {
			t.Errorf("au %d: Classify %v, want %v", i, got, w.kind)
		}
	}
}

func TestSplitAccessUnitsAUDStartsPicture(t *testing.T) {
	t.Parallel()
	aud := []byte{0x09, 0xf0}
	stream := annexB(aud, []byte{0x41, 0x9a}, aud, []byte{0x41, 0x9b})
	aus := SplitAccessUnits(stream)
	if len(aus) != 2 {
		t.Fatalf("got %d access units, want 2", len(aus))
	}
	if !bytes.Equal(aus[1].Data, annexB(aud, []byte{0x41, 0x9b})) {
		t.Errorf("second unit: got %x", aus[1].Data)
	}
}
