package framing

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/zsiec/camlink/media"
)

// Writer encodes frames onto a byte stream. It is not safe for concurrent
// use; the sender's data loop owns it.
type Writer struct {
	w    io.Writer
	mode Mode
	buf  []byte
}

// NewWriter returns a Writer emitting records in the given mode.
func NewWriter(w io.Writer, mode Mode) *Writer {
	return &Writer{w: w, mode: mode}
}

// Mode returns the record layout the writer emits.
func (w *Writer) Mode() Mode { return w.mode }

// WriteFrame encodes f as one record and hands it to the underlying writer
// in a single Write call, so a record is never interleaved with another
// writer's bytes on a shared connection.
//
// Motion records carry their score as a one-byte payload; alarm records
// carry none. In plain mode both are rejected with ErrNotMultiplexed.
func (w *Writer) WriteFrame(f media.Frame) error {
	buf, err := w.appendRecord(w.buf[:0], f)
	if err != nil {
		return err
	}
	w.buf = buf

	n, err := w.w.Write(buf)
	if err != nil {
		return fmt.Errorf("framing: write %s record: %w", f.Kind, err)
	}
	if n != len(buf) {
		return fmt.Errorf("framing: write %s record: %w", f.Kind, io.ErrShortWrite)
	}
	return nil
}

func (w *Writer) appendRecord(buf []byte, f media.Frame) ([]byte, error) {
	tag, ok := tagFor(f.Kind)
	if !ok {
		return nil, &ProtocolError{Field: "kind", Err: fmt.Errorf("%w: %s", ErrUnknownTag, f.Kind)}
	}

	if w.mode == ModePlain {
		if !f.Kind.IsVideo() {
			return nil, ErrNotMultiplexed
		}
		return appendLengthPrefixed(buf, f.Payload)
	}

	buf = append(buf, byte(tag))
	switch tag {
	case TagMotion:
		if len(f.Payload) != 1 {
			return nil, &ProtocolError{Field: "motion score", Err: ErrBadMotion}
		}
		return append(buf, f.Payload[0]), nil
	case TagMotionAlarm:
		return buf, nil
	}
	return appendLengthPrefixed(buf, f.Payload)
}

func appendLengthPrefixed(buf, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, &ProtocolError{Field: "length", Err: ErrFrameTooLarge}
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	return append(buf, payload...), nil
}

// MotionFrame builds the telemetry record for a motion score.
func MotionFrame(score uint8) media.Frame {
	return media.Frame{Kind: media.KindMotionVectors, Payload: []byte{score}}
}

// AlarmFrame builds the body-less motion alarm record.
func AlarmFrame() media.Frame {
	return media.Frame{Kind: media.KindMotionAlarm}
}
