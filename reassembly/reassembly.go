// Package reassembly turns encoder output buffers into whole frames. The
// encoder may deliver a large picture as a begin chunk (no FRAME_END flag)
// followed by a terminating chunk; the pair is joined before it is framed.
package reassembly

import (
	"errors"
	"fmt"

	"github.com/zsiec/camlink/media"
)

var (
	// ErrDoubleStart means a second begin chunk arrived while one was
	// pending. The encoder contract allows at most one.
	ErrDoubleStart = errors.New("reassembly: begin chunk while another is pending")
	// ErrFrameTooLarge means a joined picture would exceed the scratch bound.
	ErrFrameTooLarge = errors.New("reassembly: frame exceeds maximum size")
)

// Buffer accumulates at most one pending begin chunk. It is owned by the
// encoder callback and is not safe for concurrent use.
type Buffer struct {
	max     int
	scratch []byte
	pending bool
	key     bool
}

// New returns a Buffer whose joined frames may not exceed maxFrameSize.
// A non-positive value selects media.MaxFrameSizeSender.
func New(maxFrameSize int) *Buffer {
	if maxFrameSize <= 0 {
		maxFrameSize = media.MaxFrameSizeSender
	}
	return &Buffer{max: maxFrameSize}
}

// Accept consumes one encoder buffer. It returns the completed frame and
// true when the buffer finishes one; false when the buffer was empty or only
// began a picture.
//
// Side information buffers are motion vector arrays and come back as
// KindMotionVectors frames. A frame's Payload aliases either b.Data or the
// internal scratch area and is valid until the next call.
func (rb *Buffer) Accept(b media.Buffer) (media.Frame, bool, error) {
	if len(b.Data) == 0 {
		return media.Frame{}, false, nil
	}

	switch {
	case b.Flags.Has(media.FlagSideInfo):
		return media.Frame{Kind: media.KindMotionVectors, Payload: b.Data, PTS: b.PTS}, true, nil
	case b.Flags.Has(media.FlagConfig):
		return media.Frame{Kind: media.KindConfig, Payload: b.Data, PTS: b.PTS}, true, nil
	}

	if !b.Flags.Has(media.FlagFrameEnd) {
		if rb.pending {
			return media.Frame{}, false, fmt.Errorf("%w (%d bytes pending, %d arriving)",
				ErrDoubleStart, len(rb.scratch), len(b.Data))
		}
		if len(b.Data) > rb.max {
			return media.Frame{}, false, fmt.Errorf("%w: begin chunk of %d bytes, limit %d",
				ErrFrameTooLarge, len(b.Data), rb.max)
		}
		rb.scratch = append(rb.scratch[:0], b.Data...)
		rb.pending = true
		rb.key = b.Flags.Has(media.FlagKeyFrame)
		return media.Frame{}, false, nil
	}

	key := b.Flags.Has(media.FlagKeyFrame)
	payload := b.Data
	if rb.pending {
		total := len(rb.scratch) + len(b.Data)
		if total > rb.max {
			rb.Reset()
			return media.Frame{}, false, fmt.Errorf("%w: joined frame of %d bytes, limit %d",
				ErrFrameTooLarge, total, rb.max)
		}
		rb.scratch = append(rb.scratch, b.Data...)
		payload = rb.scratch
		key = key || rb.key
		rb.pending = false
		rb.key = false
	}

	kind := media.KindDeltaFrame
	if key {
		kind = media.KindKeyFrame
	}
	return media.Frame{Kind: kind, Payload: payload, PTS: b.PTS}, true, nil
}

// Pending returns the bytes of the unterminated begin chunk, if any.
func (rb *Buffer) Pending() []byte {
	if !rb.pending {
		return nil
	}
	return rb.scratch
}

// Reset discards any pending chunk, as on connection teardown.
func (rb *Buffer) Reset() {
	rb.scratch = rb.scratch[:0]
	rb.pending = false
	rb.key = false
}
