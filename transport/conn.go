// Package transport carries the camlink byte stream over TCP, UDP, SRT or
// QUIC between one listening and one connecting endpoint.
package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle position of a connection.
type State int32

const (
	StateListening State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Stats is a snapshot of a connection's counters.
type Stats struct {
	Scheme       Scheme    `json:"scheme"`
	State        string    `json:"state"`
	RemoteAddr   string    `json:"remote_addr"`
	ConnectedAt  time.Time `json:"connected_at"`
	BytesRead    uint64    `json:"bytes_read"`
	BytesWritten uint64    `json:"bytes_written"`
	Reads        uint64    `json:"reads"`
	Writes       uint64    `json:"writes"`
}

// link is what each transport hands to Conn.
type link struct {
	r        io.Reader
	w        io.Writer
	closer   io.Closer
	remote   string
	deadline func(time.Time) error // nil when reads cannot time out
	control  func() (io.ReadWriteCloser, error)
	shared   bool // control lines share the socket in the reverse direction
}

// Conn is an established camlink connection. Reads and writes may happen
// concurrently with each other; each Write is delivered whole before the
// next one starts. Any I/O fault closes the connection.
type Conn struct {
	scheme      Scheme
	link        link
	readTimeout time.Duration
	connectedAt time.Time
	log         *slog.Logger

	wmu       sync.Mutex
	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
	onClose   func()

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
	reads        atomic.Uint64
	writes       atomic.Uint64
}

func newConn(scheme Scheme, l link, readTimeout time.Duration, log *slog.Logger) *Conn {
	if log == nil {
		log = slog.Default()
	}
	c := &Conn{
		scheme:      scheme,
		link:        l,
		readTimeout: readTimeout,
		connectedAt: time.Now(),
		log:         log.With("component", "conn", "scheme", string(scheme), "remote", l.remote),
	}
	c.state.Store(int32(StateConnected))
	return c
}

// Read reads from the data direction. With a receive timeout configured,
// every call is bounded by it.
func (c *Conn) Read(p []byte) (int, error) {
	if c.readTimeout > 0 && c.link.deadline != nil {
		if err := c.link.deadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, c.fail(fmt.Errorf("%w: set read deadline: %w", ErrConnectionClosed, err))
		}
	}
	n, err := c.link.r.Read(p)
	if n > 0 {
		c.bytesRead.Add(uint64(n))
		c.reads.Add(1)
	}
	if err != nil {
		if err == io.EOF {
			c.fail(err)
			return n, io.EOF
		}
		return n, c.fail(fmt.Errorf("%w: %w", ErrConnectionClosed, err))
	}
	return n, nil
}

// Write sends all of p before returning.
func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.State() == StateClosed {
		return 0, ErrConnectionClosed
	}
	n, err := SendAll(c.link.w, p)
	c.bytesWritten.Add(uint64(n))
	if err != nil {
		return n, c.fail(err)
	}
	c.writes.Add(1)
	return n, nil
}

// ControlChannel returns the bidirectional channel for control lines that
// rides on this connection: the socket itself for TCP and SRT, a second
// stream for QUIC. UDP has none.
func (c *Conn) ControlChannel() (io.ReadWriteCloser, error) {
	switch {
	case c.link.control != nil:
		return c.link.control()
	case c.link.shared:
		return sharedChannel{c}, nil
	}
	return nil, ErrNoControlChannel
}

// sharedChannel lets the control loop use the data socket without owning
// it; closing the channel leaves the connection open.
type sharedChannel struct{ c *Conn }

func (s sharedChannel) Read(p []byte) (int, error)  { return s.c.Read(p) }
func (s sharedChannel) Write(p []byte) (int, error) { return s.c.Write(p) }
func (s sharedChannel) Close() error                { return nil }

func (c *Conn) Scheme() Scheme     { return c.scheme }
func (c *Conn) RemoteAddr() string { return c.link.remote }
func (c *Conn) State() State       { return State(c.state.Load()) }

func (c *Conn) Stats() Stats {
	return Stats{
		Scheme:       c.scheme,
		State:        c.State().String(),
		RemoteAddr:   c.link.remote,
		ConnectedAt:  c.connectedAt,
		BytesRead:    c.bytesRead.Load(),
		BytesWritten: c.bytesWritten.Load(),
		Reads:        c.reads.Load(),
		Writes:       c.writes.Load(),
	}
}

// Close releases the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.closeErr = c.link.closer.Close()
		if c.onClose != nil {
			c.onClose()
		}
		st := c.Stats()
		c.log.Info("connection closed",
			"bytes_read", st.BytesRead, "bytes_written", st.BytesWritten,
			"uptime_ms", time.Since(c.connectedAt).Milliseconds())
	})
	return c.closeErr
}

func (c *Conn) fail(err error) error {
	if c.State() != StateClosed {
		c.log.Debug("i/o fault", "error", err)
	}
	c.Close()
	return err
}

// SendAll writes p in full. A write that reports an error or makes no
// progress is a connection fault.
func SendAll(w io.Writer, p []byte) (int, error) {
	sent := 0
	for sent < len(p) {
		n, err := w.Write(p[sent:])
		sent += n
		if err != nil {
			return sent, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		}
		if n == 0 {
			return sent, fmt.Errorf("%w: zero-length write", ErrConnectionClosed)
		}
	}
	return sent, nil
}

// RecvExact reads exactly n bytes. A peer close before n bytes, at any
// point, is a connection fault.
func RecvExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return buf[:got], fmt.Errorf("%w: got %d of %d bytes: %w", ErrConnectionClosed, got, n, io.ErrUnexpectedEOF)
		}
		return buf[:got], err
	}
	return buf, nil
}

// chunkWriter splits writes for message-oriented sockets.
type chunkWriter struct {
	w    io.Writer
	size int
}

func (cw chunkWriter) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		end := min(written+cw.size, len(p))
		n, err := cw.w.Write(p[written:end])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}
