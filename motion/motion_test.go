package motion

import (
	"errors"
	"testing"

	"github.com/zsiec/camlink/session"
)

func TestGridFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		w, h     int
		mbx, mby int
		cells    int
	}{
		{640, 480, 40, 30, 41 * 30},
		{1280, 720, 80, 45, 81 * 45},
		{1920, 1080, 120, 68, 121 * 68},
		{17, 1, 2, 1, 3},
	}
	for _, tt := range tests {
		g := GridFor(tt.w, tt.h)
		if g.MBX != tt.mbx || g.MBY != tt.mby {
			t.Errorf("GridFor(%d, %d) = %s, want %dx%d", tt.w, tt.h, g, tt.mbx, tt.mby)
		}
		if g.Cells() != tt.cells {
			t.Errorf("GridFor(%d, %d).Cells() = %d, want %d", tt.w, tt.h, g.Cells(), tt.cells)
		}
	}
}

func TestMaxMagnitude(t *testing.T) {
	t.Parallel()
	g := GridFor(64, 32) // 4x2
	raw := make([]byte, g.Size())

	g.Put(raw, 1, 0, Vector{X: 3, Y: 4})
	g.Put(raw, 3, 1, Vector{X: -6, Y: 8, SAD: 900})
	got, err := MaxMagnitude(g, raw)
	if err != nil {
		t.Fatalf("MaxMagnitude: %v", err)
	}
	if got != 10 {
		t.Fatalf("got %d, want 10", got)
	}

	// The padding column must not count.
	g.Put(raw, g.MBX, 0, Vector{X: 100, Y: 100})
	if got, _ := MaxMagnitude(g, raw); got != 10 {
		t.Fatalf("padding column scored: got %d, want 10", got)
	}
}

func TestMagnitudeTruncates(t *testing.T) {
	t.Parallel()
	if got := (Vector{X: 1, Y: 1}).Magnitude(); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
	if got := (Vector{X: -128, Y: -128}).Magnitude(); got != 181 {
		t.Fatalf("got %d, want 181", got)
	}
}

func TestMaxMagnitudeShort(t *testing.T) {
	t.Parallel()
	g := GridFor(64, 32)
	if _, err := MaxMagnitude(g, make([]byte, g.Size()-1)); !errors.Is(err, ErrShortVectors) {
		t.Fatalf("got %v, want ErrShortVectors", err)
	}
}

func TestDetectorAlarm(t *testing.T) {
	t.Parallel()
	g := GridFor(32, 16)
	raw := make([]byte, g.Size())
	g.Put(raw, 0, 0, Vector{X: 0, Y: 20})

	sess := session.New(0)
	d := NewDetector(g, sess)

	tests := []struct {
		threshold uint8
		alarm     bool
	}{
		{0, false},
		{19, true},
		{20, false},
		{50, false},
	}
	for _, tt := range tests {
		sess.SetAlarmThreshold(tt.threshold)
		res, err := d.Evaluate(raw)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if res.Score != 20 || res.Alarm != tt.alarm {
			t.Errorf("threshold %d: got %+v, want score 20 alarm %v", tt.threshold, res, tt.alarm)
		}
	}
}
