package sender

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/zsiec/camlink/media"
)

// Recorder writes a local Annex B copy of the stream that keeps only what
// matters for review: the first parameter sets, every keyframe, and the
// delta pictures whose motion score is non-zero.
//
// A delta picture is held until the vectors computed for it are scored. A
// picture that is superseded before it is scored counts as skipped, so
// with motion vectors off only keyframes are kept.
type Recorder struct {
	w           io.Writer
	headerSaved bool
	held        []byte
	holding     bool

	written atomic.Uint64
	skipped atomic.Uint64
}

func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w}
}

// Picture takes one reassembled video record. payload is copied when held.
func (r *Recorder) Picture(kind media.Kind, payload []byte) error {
	if r == nil {
		return nil
	}
	switch kind {
	case media.KindConfig:
		if r.headerSaved {
			return nil
		}
		r.headerSaved = true
		return r.write(payload)
	case media.KindKeyFrame:
		r.drop()
		return r.write(payload)
	case media.KindDeltaFrame:
		r.drop()
		r.held = append(r.held[:0], payload...)
		r.holding = true
	}
	return nil
}

// Motion scores the held picture: written when score is non-zero, skipped
// otherwise. Scores with nothing held, such as a keyframe's, are ignored.
func (r *Recorder) Motion(score uint8) error {
	if r == nil || !r.holding {
		return nil
	}
	if score == 0 {
		r.drop()
		return nil
	}
	r.holding = false
	return r.write(r.held)
}

// Skipped counts delta pictures left out of the recording.
func (r *Recorder) Skipped() uint64 {
	if r == nil {
		return 0
	}
	return r.skipped.Load()
}

// Written counts records written to the recording.
func (r *Recorder) Written() uint64 {
	if r == nil {
		return 0
	}
	return r.written.Load()
}

func (r *Recorder) drop() {
	if r.holding {
		r.holding = false
		r.skipped.Add(1)
	}
}

func (r *Recorder) write(p []byte) error {
	if _, err := r.w.Write(p); err != nil {
		return fmt.Errorf("sender: record: %w", err)
	}
	r.written.Add(1)
	return nil
}
