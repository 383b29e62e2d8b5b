package control

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/zsiec/camlink/session"
)

type applied struct{ key, value string }

type fakeCamera struct {
	mu    sync.Mutex
	calls []applied
	err   error
}

func (c *fakeCamera) ApplyCameraControl(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, applied{key, value})
	return c.err
}

func (c *fakeCamera) got() []applied {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]applied(nil), c.calls...)
}

func TestParseLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		line string
		want Command
		ok   bool
	}{
		{"iso=800\n", Command{"iso", "800"}, true},
		{"ss=20000\r\n", Command{"ss", "20000"}, true},
		{"move=R", Command{"move", "R"}, true},
		{"mot_alarm=25\n", Command{"mot_alarm", "25"}, true},
		{"stat=\n", Command{"stat", ""}, true},
		{"motion=1=2\n", Command{"motion", "1=2"}, true},
		{"zoom=2\n", Command{}, false},
		{"iso\n", Command{}, false},
		{"\n", Command{}, false},
		{"ISO=100\n", Command{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseLine(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseLine(%q) = %+v, %v; want %+v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestServeISOAppliesOnce(t *testing.T) {
	t.Parallel()
	cam := &fakeCamera{}
	d := NewDispatcher(cam, session.New(0), nil)

	r := iotest.OneByteReader(strings.NewReader("iso=800\n"))
	if err := Serve(context.Background(), r, d, nil); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	calls := cam.got()
	if len(calls) != 1 || calls[0] != (applied{"iso", "800"}) {
		t.Fatalf("camera calls %v, want exactly iso=800", calls)
	}
}

func TestServeIgnoresMalformedLines(t *testing.T) {
	t.Parallel()
	cam := &fakeCamera{}
	d := NewDispatcher(cam, session.New(0), nil)

	input := "garbage\niso=abc\nmove=x\n" + strings.Repeat("z", 3000) + "\nss=100\nstat=1"
	if err := Serve(context.Background(), strings.NewReader(input), d, nil); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	calls := cam.got()
	if len(calls) != 1 || calls[0] != (applied{"ss", "100"}) {
		t.Fatalf("camera calls %v, want only ss=100", calls)
	}
}

func TestServeReturnsReadError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	r := io.MultiReader(strings.NewReader("stat=1\n"), iotest.ErrReader(boom))
	sess := session.New(0)
	err := Serve(context.Background(), r, NewDispatcher(&fakeCamera{}, sess, nil), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if !sess.ShowStats() {
		t.Fatal("line before the error was not handled")
	}
}

func TestDispatcher(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		threshold uint8
		lines     []string
		calls     []applied
		motion    bool
		alarm     uint8
		stats     bool
	}{
		{
			name:  "shutter speed",
			lines: []string{"ss=10000"},
			calls: []applied{{"ss", "10000"}},
		},
		{
			name:  "move",
			lines: []string{"move=l", "move=R"},
			calls: []applied{{"move", "l"}, {"move", "R"}},
		},
		{
			name:   "motion toggle",
			lines:  []string{"motion=1"},
			calls:  []applied{{"motion", "1"}},
			motion: true,
		},
		{
			name:      "motion ignored while alarm armed",
			threshold: 10,
			lines:     []string{"motion=0"},
			motion:    true,
			alarm:     10,
		},
		{
			name:   "alarm arms vectors",
			lines:  []string{"mot_alarm=40"},
			calls:  []applied{{"motion", "1"}},
			motion: true,
			alarm:  40,
		},
		{
			name:      "alarm disarm stops vectors",
			threshold: 40,
			lines:     []string{"mot_alarm=0"},
			calls:     []applied{{"motion", "0"}},
		},
		{
			name:  "stats on then off clears overlay",
			lines: []string{"stat=1", "stat=0"},
			calls: []applied{{"annotate", ""}},
		},
		{
			name:  "stats on",
			lines: []string{"stat=1"},
			stats: true,
		},
		{
			name:  "out of range alarm",
			lines: []string{"mot_alarm=300", "iso=-5"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cam := &fakeCamera{}
			sess := session.New(tt.threshold)
			d := NewDispatcher(cam, sess, nil)
			for _, l := range tt.lines {
				cmd, ok := ParseLine(l)
				if !ok {
					t.Fatalf("ParseLine(%q) failed", l)
				}
				_ = d.HandleCommand(context.Background(), cmd)
			}
			calls := cam.got()
			if len(calls) != len(tt.calls) {
				t.Fatalf("camera calls %v, want %v", calls, tt.calls)
			}
			for i := range calls {
				if calls[i] != tt.calls[i] {
					t.Errorf("call %d: %v, want %v", i, calls[i], tt.calls[i])
				}
			}
			snap := sess.Snapshot()
			if snap.Motion != tt.motion || snap.AlarmThreshold != tt.alarm || snap.ShowStats != tt.stats {
				t.Errorf("session %+v, want motion=%v alarm=%d stats=%v", snap, tt.motion, tt.alarm, tt.stats)
			}
		})
	}
}

func TestDispatcherInvalidValue(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(&fakeCamera{}, session.New(0), nil)
	err := d.HandleCommand(context.Background(), Command{Key: KeyISO, Value: "high"})
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("got %v, want ErrInvalidValue", err)
	}
}

func TestDispatcherSwallowsCameraErrors(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(&fakeCamera{err: errors.New("mmal: busy")}, session.New(0), nil)
	if err := d.HandleCommand(context.Background(), Command{Key: KeyISO, Value: "400"}); err != nil {
		t.Fatalf("got %v, want nil", err)
	}
}

func TestClientHelpers(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := NewClient(&buf)
	steps := []func() error{
		func() error { return c.SetISO(800) },
		func() error { return c.SetShutterSpeed(16000) },
		func() error { return c.SetMotion(true) },
		func() error { return c.ZoomIn() },
		func() error { return c.ZoomOut() },
		func() error { return c.Move(MoveReset) },
		func() error { return c.SetMotionAlarm(12) },
		func() error { return c.SetStats(false) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	want := "iso=800\nss=16000\nmotion=1\nmove=i\nmove=o\nmove=R\nmot_alarm=12\nstat=0\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestClientRejectsBadInput(t *testing.T) {
	t.Parallel()
	c := NewClient(io.Discard)
	if err := c.Send("zoom", "1"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("unknown key: got %v", err)
	}
	if err := c.Send(KeyISO, "1\nss=2"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("embedded newline: got %v", err)
	}
	if err := c.Move('x'); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("bad direction: got %v", err)
	}
}

func TestClientRoundTripThroughServe(t *testing.T) {
	t.Parallel()
	pr, pw := io.Pipe()
	cam := &fakeCamera{}
	sess := session.New(0)
	done := make(chan error, 1)
	go func() { done <- Serve(context.Background(), pr, NewDispatcher(cam, sess, nil), nil) }()

	c := NewClient(pw)
	if err := c.SetISO(200); err != nil {
		t.Fatal(err)
	}
	if err := c.SetMotionAlarm(9); err != nil {
		t.Fatal(err)
	}
	pw.Close()
	if err := <-done; err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if sess.AlarmThreshold() != 9 {
		t.Fatalf("threshold %d, want 9", sess.AlarmThreshold())
	}
	if calls := cam.got(); len(calls) != 2 || calls[0] != (applied{"iso", "200"}) {
		t.Fatalf("camera calls %v", calls)
	}
}

func TestMQTTPayloadDispatch(t *testing.T) {
	t.Parallel()
	cam := &fakeCamera{}
	b := NewMQTTBridge(MQTTConfig{Topic: "camlink/control"}, NewDispatcher(cam, session.New(0), nil), nil)
	b.handlePayload(context.Background(), []byte("iso=100\r\nbogus\nmove=u"))
	calls := cam.got()
	if len(calls) != 2 || calls[0] != (applied{"iso", "100"}) || calls[1] != (applied{"move", "u"}) {
		t.Fatalf("camera calls %v", calls)
	}
}
