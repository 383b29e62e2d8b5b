// Package control implements the line-based side channel through which a
// viewer adjusts the camera: one "key=value\n" line per command, no
// acknowledgement.
package control

import (
	"errors"
	"strings"
)

// Command keys.
const (
	KeyISO          = "iso"
	KeyShutterSpeed = "ss"
	KeyMotion       = "motion"
	KeyMove         = "move"
	KeyMotionAlarm  = "mot_alarm"
	KeyStats        = "stat"
)

// Move directions accepted by KeyMove.
const (
	MoveZoomIn  byte = 'i'
	MoveZoomOut byte = 'o'
	MoveLeft    byte = 'l'
	MoveRight   byte = 'r'
	MoveUp      byte = 'u'
	MoveDown    byte = 'd'
	MoveReset   byte = 'R'
)

const moveDirections = "iolrudR"

var (
	ErrUnknownKey   = errors.New("control: unknown key")
	ErrInvalidValue = errors.New("control: invalid value")
)

// Command is one parsed control line.
type Command struct {
	Key   string
	Value string
}

func (c Command) String() string { return c.Key + "=" + c.Value }

// KnownKey reports whether k is a command key.
func KnownKey(k string) bool {
	switch k {
	case KeyISO, KeyShutterSpeed, KeyMotion, KeyMove, KeyMotionAlarm, KeyStats:
		return true
	}
	return false
}

// ParseLine parses "key=value" with an optional trailing CR/LF. Lines
// without '=' or with an unknown key yield false.
func ParseLine(line string) (Command, bool) {
	line = strings.TrimRight(line, "\r\n")
	key, value, ok := strings.Cut(line, "=")
	if !ok || !KnownKey(key) {
		return Command{}, false
	}
	return Command{Key: key, Value: value}, true
}
