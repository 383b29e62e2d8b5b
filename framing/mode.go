// Package framing encodes and decodes the camlink wire format: a stream of
// length-prefixed H.264 access units, optionally multiplexed with motion
// telemetry by a one-byte tag in front of every record.
//
//	plain:  [len u32 LE][payload]
//	tagged: [tag][len u32 LE][payload] | [TagMotion][score] | [TagMotionAlarm]
package framing

import (
	"fmt"
	"strings"

	"github.com/zsiec/camlink/media"
)

// Mode selects the record layout. Both ends must agree; nothing on the wire
// identifies it.
type Mode uint8

const (
	ModePlain Mode = iota
	ModeTagged
)

// ParseMode accepts the mode names used by camera apps as aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "plain", "raw_tcp", "android":
		return ModePlain, nil
	case "tagged", "android_motion", "android_dimon":
		return ModeTagged, nil
	}
	return 0, fmt.Errorf("framing: unknown mode %q", s)
}

func (m Mode) String() string {
	switch m {
	case ModePlain:
		return "plain"
	case ModeTagged:
		return "tagged"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Tag is the first byte of a record in tagged mode.
type Tag byte

const (
	TagConfig      Tag = 0
	TagFrame       Tag = 1
	TagMotion      Tag = 2
	TagMotionAlarm Tag = 3
	TagKeyFrame    Tag = 4
)

func tagFor(k media.Kind) (Tag, bool) {
	switch k {
	case media.KindConfig:
		return TagConfig, true
	case media.KindKeyFrame:
		return TagKeyFrame, true
	case media.KindDeltaFrame:
		return TagFrame, true
	case media.KindMotionVectors:
		return TagMotion, true
	case media.KindMotionAlarm:
		return TagMotionAlarm, true
	}
	return 0, false
}

func kindFor(t Tag) (media.Kind, bool) {
	switch t {
	case TagConfig:
		return media.KindConfig, true
	case TagKeyFrame:
		return media.KindKeyFrame, true
	case TagFrame:
		return media.KindDeltaFrame, true
	case TagMotion:
		return media.KindMotionVectors, true
	case TagMotionAlarm:
		return media.KindMotionAlarm, true
	}
	return 0, false
}

const lengthSize = 4
