package framing

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zsiec/camlink/internal/h264"
	"github.com/zsiec/camlink/media"
)

// Reader decodes records from a byte stream. Payloads are read into a
// scratch buffer that is reused across calls: a returned Frame's Payload
// is only valid until the next ReadFrame.
type Reader struct {
	r       io.Reader
	mode    Mode
	max     int
	hdr     [lengthSize]byte
	scratch []byte
}

// NewReader returns a Reader that rejects records longer than maxFrameSize.
// A non-positive maxFrameSize selects media.MaxFrameSizeReceiver.
func NewReader(r io.Reader, mode Mode, maxFrameSize int) *Reader {
	if maxFrameSize <= 0 {
		maxFrameSize = media.MaxFrameSizeReceiver
	}
	return &Reader{r: r, mode: mode, max: maxFrameSize}
}

// MaxFrameSize returns the configured length limit.
func (r *Reader) MaxFrameSize() int { return r.max }

// ReadFrame reads the next record. I/O failures, including a peer closing
// mid-record (io.ErrUnexpectedEOF), are returned wrapped; a clean close at a
// record boundary yields an error matching io.EOF. Oversized lengths and
// unknown tags are *ProtocolError values.
func (r *Reader) ReadFrame() (media.Frame, error) {
	kind := media.KindDeltaFrame
	if r.mode == ModeTagged {
		if _, err := io.ReadFull(r.r, r.hdr[:1]); err != nil {
			return media.Frame{}, fmt.Errorf("framing: read tag: %w", err)
		}
		tag := Tag(r.hdr[0])
		k, ok := kindFor(tag)
		if !ok {
			return media.Frame{}, &ProtocolError{Field: "tag", Err: fmt.Errorf("%w: %d", ErrUnknownTag, tag)}
		}
		kind = k

		switch tag {
		case TagMotion:
			if _, err := io.ReadFull(r.r, r.hdr[:1]); err != nil {
				return media.Frame{}, fmt.Errorf("framing: read motion score: %w", noEOF(err))
			}
			return MotionFrame(r.hdr[0]), nil
		case TagMotionAlarm:
			return AlarmFrame(), nil
		}
	}

	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		if r.mode == ModeTagged {
			err = noEOF(err)
		}
		return media.Frame{}, fmt.Errorf("framing: read length: %w", err)
	}
	n := binary.LittleEndian.Uint32(r.hdr[:])
	if uint64(n) > uint64(r.max) {
		return media.Frame{}, &ProtocolError{
			Field: "length",
			Err:   fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, r.max),
		}
	}

	if cap(r.scratch) < int(n) {
		r.scratch = make([]byte, n)
	}
	payload := r.scratch[:n]
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return media.Frame{}, fmt.Errorf("framing: read %d-byte payload: %w", n, noEOF(err))
	}

	if r.mode == ModePlain {
		kind = h264.Classify(payload)
	}
	return media.Frame{Kind: kind, Payload: payload}, nil
}

// noEOF turns a clean EOF inside a record into io.ErrUnexpectedEOF.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
