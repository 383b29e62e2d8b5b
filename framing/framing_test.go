package framing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/zsiec/camlink/media"
)

var (
	configAU = []byte{0, 0, 0, 1, 0x67, 0x42, 0xc0, 0x1e, 0, 0, 0, 1, 0x68, 0xce, 0x38, 0x80}
	idrAU    = []byte{0, 0, 0, 1, 0x65, 0x88, 0x84, 0x00, 0x21}
	sliceAU  = []byte{0, 0, 0, 1, 0x41, 0x9a, 0x02, 0x03}
)

type countingWriter struct {
	bytes.Buffer
	writes int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.writes++
	return c.Buffer.Write(p)
}

func TestWriteFramePlainLayout(t *testing.T) {
	t.Parallel()
	var out countingWriter
	w := NewWriter(&out, ModePlain)

	payload := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	if err := w.WriteFrame(media.Frame{Kind: media.KindDeltaFrame, Payload: payload}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	want := append([]byte{5, 0, 0, 0}, payload...)
	if !bytes.Equal(out.Bytes(), want) {
		t.Fatalf("got %x, want %x", out.Bytes(), want)
	}
	if out.writes != 1 {
		t.Fatalf("got %d Write calls, want 1", out.writes)
	}
}

func TestWriteFrameTaggedLayout(t *testing.T) {
	t.Parallel()
	var out countingWriter
	w := NewWriter(&out, ModeTagged)

	frames := []media.Frame{
		{Kind: media.KindConfig, Payload: []byte{0xaa}},
		{Kind: media.KindKeyFrame, Payload: []byte{0xbb, 0xcc}},
		MotionFrame(42),
		AlarmFrame(),
		{Kind: media.KindDeltaFrame, Payload: nil},
	}
	for _, f := range frames {
		if err := w.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame(%s): %v", f.Kind, err)
		}
	}
	want := []byte{
		0, 1, 0, 0, 0, 0xaa,
		4, 2, 0, 0, 0, 0xbb, 0xcc,
		2, 42,
		3,
		1, 0, 0, 0, 0,
	}
	if !bytes.Equal(out.Bytes(), want) {
		t.Fatalf("got %x, want %x", out.Bytes(), want)
	}
	if out.writes != len(frames) {
		t.Fatalf("got %d Write calls, want %d", out.writes, len(frames))
	}
}

func TestWriteFramePlainRejectsTelemetry(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	w := NewWriter(&out, ModePlain)
	if err := w.WriteFrame(MotionFrame(3)); !errors.Is(err, ErrNotMultiplexed) {
		t.Fatalf("motion: got %v, want ErrNotMultiplexed", err)
	}
	if err := w.WriteFrame(AlarmFrame()); !errors.Is(err, ErrNotMultiplexed) {
		t.Fatalf("alarm: got %v, want ErrNotMultiplexed", err)
	}
	if out.Len() != 0 {
		t.Fatalf("wrote %d bytes for rejected records", out.Len())
	}
}

func TestWriteFrameBadMotionPayload(t *testing.T) {
	t.Parallel()
	w := NewWriter(io.Discard, ModeTagged)
	err := w.WriteFrame(media.Frame{Kind: media.KindMotionVectors, Payload: []byte{1, 2}})
	var pe *ProtocolError
	if !errors.As(err, &pe) || !errors.Is(err, ErrBadMotion) {
		t.Fatalf("got %v, want ProtocolError wrapping ErrBadMotion", err)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mode   Mode
		frames []media.Frame
	}{
		{
			name: "plain",
			mode: ModePlain,
			frames: []media.Frame{
				{Kind: media.KindConfig, Payload: configAU},
				{Kind: media.KindKeyFrame, Payload: idrAU},
				{Kind: media.KindDeltaFrame, Payload: sliceAU},
			},
		},
		{
			name: "tagged",
			mode: ModeTagged,
			frames: []media.Frame{
				{Kind: media.KindConfig, Payload: configAU},
				{Kind: media.KindKeyFrame, Payload: idrAU},
				MotionFrame(7),
				{Kind: media.KindDeltaFrame, Payload: sliceAU},
				MotionFrame(200),
				AlarmFrame(),
				{Kind: media.KindDeltaFrame, Payload: []byte{}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			w := NewWriter(&buf, tt.mode)
			for _, f := range tt.frames {
				if err := w.WriteFrame(f); err != nil {
					t.Fatalf("WriteFrame: %v", err)
				}
			}

			r := NewReader(iotest.OneByteReader(&buf), tt.mode, media.MaxFrameSizeReceiver)
			for i, want := range tt.frames {
				got, err := r.ReadFrame()
				if err != nil {
					t.Fatalf("frame %d: ReadFrame: %v", i, err)
				}
				if got.Kind != want.Kind {
					t.Errorf("frame %d: kind %s, want %s", i, got.Kind, want.Kind)
				}
				if !bytes.Equal(got.Payload, want.Payload) {
					t.Errorf("frame %d: payload %x, want %x", i, got.Payload, want.Payload)
				}
			}
			if _, err := r.ReadFrame(); !errors.Is(err, io.EOF) {
				t.Fatalf("after last frame: got %v, want io.EOF", err)
			}
		})
	}
}

func TestReadFrameRejectsOversizeBeforeAllocating(t *testing.T) {
	t.Parallel()
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], 2000001)

	r := NewReader(bytes.NewReader(hdr[:]), ModePlain, media.MaxFrameSizeReceiver)
	_, err := r.ReadFrame()
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("got %v, want ErrFrameTooLarge", err)
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Field != "length" {
		t.Fatalf("got %v, want ProtocolError on length", err)
	}
	if r.scratch != nil {
		t.Fatalf("scratch allocated %d bytes for a rejected record", cap(r.scratch))
	}
}

func TestReadFrameAcceptsMaxSize(t *testing.T) {
	t.Parallel()
	const max = 64
	var buf bytes.Buffer
	if err := NewWriter(&buf, ModeTagged).WriteFrame(media.Frame{Kind: media.KindKeyFrame, Payload: make([]byte, max)}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	f, err := NewReader(&buf, ModeTagged, max).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(f.Payload) != max {
		t.Fatalf("payload length %d, want %d", len(f.Payload), max)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mode Mode
		data []byte
	}{
		{"short length", ModePlain, []byte{10, 0}},
		{"short payload", ModePlain, []byte{10, 0, 0, 0, 1, 2, 3}},
		{"tag without length", ModeTagged, []byte{1}},
		{"motion without score", ModeTagged, []byte{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewReader(bytes.NewReader(tt.data), tt.mode, 0).ReadFrame()
			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Fatalf("got %v, want io.ErrUnexpectedEOF", err)
			}
			var pe *ProtocolError
			if errors.As(err, &pe) {
				t.Fatalf("truncation reported as protocol error: %v", err)
			}
		})
	}
}

func TestReadFrameUnknownTag(t *testing.T) {
	t.Parallel()
	_, err := NewReader(bytes.NewReader([]byte{9, 0, 0, 0, 0}), ModeTagged, 0).ReadFrame()
	if !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("got %v, want ErrUnknownTag", err)
	}
}

func TestReadFrameReusesScratch(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewWriter(&buf, ModePlain)
	for _, p := range [][]byte{idrAU, sliceAU} {
		if err := w.WriteFrame(media.Frame{Kind: media.KindDeltaFrame, Payload: p}); err != nil {
			t.Fatal(err)
		}
	}
	r := NewReader(&buf, ModePlain, 0)
	first, err := r.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if &first.Payload[0] != &second.Payload[0] {
		t.Fatal("second payload did not reuse the scratch buffer")
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Mode
	}{
		{"raw_tcp", ModePlain},
		{"android", ModePlain},
		{"plain", ModePlain},
		{"android_motion", ModeTagged},
		{"ANDROID_DIMON", ModeTagged},
		{"tagged", ModeTagged},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if err != nil {
			t.Fatalf("ParseMode(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if _, err := ParseMode("mjpeg"); err == nil {
		t.Fatal("ParseMode accepted an unknown mode")
	}
}

func FuzzReadFrame(f *testing.F) {
	var seed bytes.Buffer
	w := NewWriter(&seed, ModeTagged)
	_ = w.WriteFrame(media.Frame{Kind: media.KindConfig, Payload: configAU})
	_ = w.WriteFrame(MotionFrame(9))
	_ = w.WriteFrame(AlarmFrame())
	f.Add(seed.Bytes(), true)
	f.Add([]byte{0xff, 0xff, 0xff, 0xff}, false)

	f.Fuzz(func(t *testing.T, data []byte, tagged bool) {
		mode := ModePlain
		if tagged {
			mode = ModeTagged
		}
		r := NewReader(bytes.NewReader(data), mode, 1024)
		for {
			fr, err := r.ReadFrame()
			if err != nil {
				return
			}
			if len(fr.Payload) > 1024 {
				t.Fatalf("payload of %d bytes exceeds limit", len(fr.Payload))
			}
		}
	})
}

func BenchmarkWriteFrame(b *testing.B) {
	w := NewWriter(io.Discard, ModeTagged)
	f := media.Frame{Kind: media.KindDeltaFrame, Payload: make([]byte, 32*1024)}
	b.SetBytes(int64(len(f.Payload)))
	b.ReportAllocs()
	for b.Loop() {
		if err := w.WriteFrame(f); err != nil {
			b.Fatal(err)
		}
	}
}
