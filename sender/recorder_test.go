package sender

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/camlink/framing"
	"github.com/zsiec/camlink/media"
	"github.com/zsiec/camlink/motion"
	"github.com/zsiec/camlink/session"
)

func picture(tag byte) []byte {
	return append(bytes.Clone(sliceAU), tag)
}

func TestRecorderKeepsPicturesWithMotion(t *testing.T) {
	t.Parallel()
	g := motion.Grid{MBX: 2, MBY: 2}
	sess := session.New(0)
	sess.SetMotion(true)
	var wire, rec bytes.Buffer
	s := New(&wire, nil, sess, Config{Mode: framing.ModeTagged, Grid: g, Recorder: NewRecorder(&rec)}, nil)

	still, moving, unscored := picture(1), picture(2), picture(3)
	for _, b := range []media.Buffer{
		{Data: configAU, Flags: media.FlagConfig},
		{Data: configAU, Flags: media.FlagConfig},
		{Data: idrAU, Flags: media.FlagFrameEnd | media.FlagKeyFrame},
		{Data: vectors(g, -9), Flags: media.FlagSideInfo},
		{Data: still, Flags: media.FlagFrameEnd},
		{Data: vectors(g, 0), Flags: media.FlagSideInfo},
		{Data: moving[:3], Flags: media.FlagFrameStart},
		{Data: moving[3:], Flags: media.FlagFrameEnd},
		{Data: vectors(g, -3), Flags: media.FlagSideInfo},
		{Data: unscored, Flags: media.FlagFrameEnd},
		{Data: idrAU, Flags: media.FlagFrameEnd | media.FlagKeyFrame},
	} {
		if err := s.OnBufferReady(b); err != nil {
			t.Fatalf("OnBufferReady: %v", err)
		}
	}

	want := bytes.Join([][]byte{configAU, idrAU, moving, idrAU}, nil)
	if !bytes.Equal(rec.Bytes(), want) {
		t.Fatalf("recording:\n got %x\nwant %x", rec.Bytes(), want)
	}
	st := s.Stats()
	if st.Skipped != 2 || st.Recorded != 4 {
		t.Errorf("stats: recorded %d skipped %d, want 4 and 2", st.Recorded, st.Skipped)
	}
	if n := len(readAll(t, wire.Bytes(), framing.ModeTagged)); n != 10 {
		t.Errorf("wire carried %d records, want 10", n)
	}
}

func TestRecorderScoresVectorsInPlainMode(t *testing.T) {
	t.Parallel()
	g := motion.Grid{MBX: 2, MBY: 2}
	sess := session.New(0)
	sess.SetMotion(true)
	var wire, rec bytes.Buffer
	s := New(&wire, nil, sess, Config{Mode: framing.ModePlain, Grid: g, Recorder: NewRecorder(&rec)}, nil)

	for _, b := range []media.Buffer{
		{Data: sliceAU, Flags: media.FlagFrameEnd},
		{Data: vectors(g, -4), Flags: media.FlagSideInfo},
	} {
		if err := s.OnBufferReady(b); err != nil {
			t.Fatalf("OnBufferReady: %v", err)
		}
	}
	if !bytes.Equal(rec.Bytes(), sliceAU) {
		t.Fatalf("recording: got %x, want %x", rec.Bytes(), sliceAU)
	}
	got := readAll(t, wire.Bytes(), framing.ModePlain)
	if len(got) != 1 || got[0].Kind != media.KindDeltaFrame {
		t.Fatalf("plain wire carried %d records, want the picture only", len(got))
	}
	if st := s.Stats(); st.LastScore != 4 {
		t.Errorf("last score: got %d, want 4", st.LastScore)
	}
}

func TestRecorderWriteFailureIsFatal(t *testing.T) {
	t.Parallel()
	s := New(io.Discard, nil, session.New(0), Config{Mode: framing.ModeTagged, Recorder: NewRecorder(failingWriter{})}, nil)
	err := s.OnBufferReady(media.Buffer{Data: idrAU, Flags: media.FlagFrameEnd | media.FlagKeyFrame})
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("got %v, want ErrClosedPipe", err)
	}
}

func TestNilRecorderCountsNothing(t *testing.T) {
	t.Parallel()
	var r *Recorder
	if err := r.Picture(media.KindDeltaFrame, sliceAU); err != nil {
		t.Fatal(err)
	}
	if err := r.Motion(3); err != nil {
		t.Fatal(err)
	}
	if r.Skipped() != 0 || r.Written() != 0 {
		t.Fatal("nil recorder reported activity")
	}
}

func TestOverlayShowsFrameIntervalRate(t *testing.T) {
	t.Parallel()
	cam := &recordingCamera{}
	sess := session.New(0)
	sess.SetShowStats(true)
	s := New(io.Discard, cam, sess, Config{Mode: framing.ModeTagged}, nil)

	t0 := time.Now()
	s.tick(t0)
	s.tick(t0.Add(100 * time.Millisecond))
	if len(cam.annotations) != 2 {
		t.Fatalf("got %d overlay updates, want 2", len(cam.annotations))
	}
	if got := cam.annotations[0]; !strings.HasPrefix(got, "FPS=0.0,") {
		t.Errorf("first overlay: %q", got)
	}
	if got := cam.annotations[1]; got != "FPS=10.0, 0, 0, 0" {
		t.Errorf("second overlay: got %q, want %q", got, "FPS=10.0, 0, 0, 0")
	}
}
