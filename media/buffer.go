package media

import "strings"

// BufferFlags annotates an encoder output buffer. The bit values match the
// ones reported by the camera encoder so they can be passed through as-is.
type BufferFlags uint32

const (
	FlagEOS        BufferFlags = 1 << 0
	FlagFrameStart BufferFlags = 1 << 1
	FlagFrameEnd   BufferFlags = 1 << 2
	FlagKeyFrame   BufferFlags = 1 << 3
	FlagConfig     BufferFlags = 1 << 5
	FlagSideInfo   BufferFlags = 1 << 7 // inline motion vectors
)

// Has reports whether all bits of f are set.
func (b BufferFlags) Has(f BufferFlags) bool {
	return b&f == f
}

func (b BufferFlags) String() string {
	if b == 0 {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		bit  BufferFlags
		name string
	}{
		{FlagEOS, "EOS"},
		{FlagFrameStart, "FRAME_START"},
		{FlagFrameEnd, "FRAME_END"},
		{FlagKeyFrame, "KEYFRAME"},
		{FlagConfig, "CONFIG"},
		{FlagSideInfo, "SIDEINFO"},
	} {
		if b&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// Buffer is one physical buffer handed over by the encoder. A logical
// picture may span two buffers: a begin chunk without FlagFrameEnd followed
// by a terminating chunk with it.
type Buffer struct {
	Data  []byte
	Flags BufferFlags
	PTS   int64
}
