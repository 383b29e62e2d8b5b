// Package device defines the hardware collaborators camlink drives (the
// encoder feeding the sender, the decoder behind the receiver, the camera
// accepting control changes) and file-backed implementations of each for
// hosts without camera hardware.
package device

import (
	"context"

	"github.com/zsiec/camlink/media"
)

// Encoder yields encoder output buffers in order. Produce blocks until the
// next buffer is ready and returns io.EOF when the stream ends.
type Encoder interface {
	Produce(ctx context.Context) (media.Buffer, error)
}

// Decoder consumes complete decode units on the receiver. payload is only
// valid for the duration of the call.
type Decoder interface {
	SubmitDecodeUnit(payload []byte, kind media.Kind, pts int64) error
}

// Camera applies a control change such as "iso"/"800". Implementations must
// be safe for concurrent use.
type Camera interface {
	ApplyCameraControl(key, value string) error
}

// VectorSwitch turns the encoder's motion vector output on or off.
type VectorSwitch interface {
	SetVectors(on bool)
}
