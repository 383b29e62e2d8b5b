// Package media defines the frame and encoder-buffer types that flow through
// camlink, from the encoder callback on the sender to the decoder on the
// receiver.
package media

import "fmt"

// Maximum frame sizes for the two endpoint profiles. The sender bounds its
// reassembly scratch area to a single large picture; the receiver is more
// permissive because it cannot choose the encoder's settings.
const (
	MaxFrameSizeSender   = 256000
	MaxFrameSizeReceiver = 2000000
)

// Kind identifies how a receiver must handle a frame.
type Kind uint8

// Frame kinds. KindMotionAlarm is never produced by an encoder; the sidecar
// emits it after a motion record whose score crossed the alarm threshold.
const (
	KindConfig Kind = iota
	KindKeyFrame
	KindDeltaFrame
	KindMotionVectors
	KindMotionAlarm
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindKeyFrame:
		return "keyframe"
	case KindDeltaFrame:
		return "delta"
	case KindMotionVectors:
		return "motion"
	case KindMotionAlarm:
		return "alarm"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsVideo reports whether frames of this kind carry H.264 data for the
// decoder.
func (k Kind) IsVideo() bool {
	return k == KindConfig || k == KindKeyFrame || k == KindDeltaFrame
}

// Frame is the unit of video data exchanged on the wire: one access unit
// (SPS/PPS or a coded picture), or a telemetry record.
type Frame struct {
	Kind    Kind
	Payload []byte
	PTS     int64 // microseconds, assigned by the receiver
}

// Len returns the payload length as sent in the 32-bit length prefix.
func (f Frame) Len() uint32 {
	return uint32(len(f.Payload))
}
