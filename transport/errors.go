package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
)

var (
	// ErrConnectionClosed wraps every mid-stream I/O fault: a peer close, a
	// write that made no progress, or a read timeout. The connection is
	// unusable afterwards.
	ErrConnectionClosed = errors.New("transport: connection closed")
	// ErrPeerUnavailable marks dial failures worth retrying.
	ErrPeerUnavailable = errors.New("transport: peer unavailable")
	// ErrNoControlChannel is returned when a transport cannot carry the
	// reverse control direction on the data connection.
	ErrNoControlChannel = errors.New("transport: no control channel on this connection")
	// ErrBadPreface means a QUIC stream began with an unknown role byte.
	ErrBadPreface = errors.New("transport: unknown stream preface")
)

// IsRetryable reports whether a dial attempt failed in a way that a later
// attempt may not: refused or unreachable peers and attempt timeouts.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrPeerUnavailable),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded):
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
