package framing

import (
	"errors"
	"fmt"
)

// Sentinel errors for the record codec. Protocol faults leave the stream
// desynchronised and are fatal to the connection.
var (
	ErrFrameTooLarge  = errors.New("framing: frame exceeds maximum size")
	ErrUnknownTag     = errors.New("framing: unknown record tag")
	ErrNotMultiplexed = errors.New("framing: record kind needs tagged mode")
	ErrBadMotion      = errors.New("framing: motion record must carry one score byte")
)

// ProtocolError records which part of a record was malformed.
type ProtocolError struct {
	Field string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("framing: %s: %v", e.Field, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
