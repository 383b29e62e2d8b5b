package control

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Client sends commands from the viewer side. Each command is one Write of
// one complete line, so concurrent callers never interleave.
type Client struct {
	mu sync.Mutex
	w  io.Writer
}

func NewClient(w io.Writer) *Client {
	return &Client{w: w}
}

// Send writes "key=value\n".
func (c *Client) Send(key, value string) error {
	if !KnownKey(key) {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("%w: line break in %q", ErrInvalidValue, value)
	}
	line := key + "=" + value + "\n"

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write([]byte(line)); err != nil {
		return fmt.Errorf("control: send %s: %w", key, err)
	}
	return nil
}

// HandleCommand forwards cmd to the peer, so a Client can sit behind Serve
// to relay lines typed on a terminal.
func (c *Client) HandleCommand(_ context.Context, cmd Command) error {
	return c.Send(cmd.Key, cmd.Value)
}

func (c *Client) SetISO(iso int) error { return c.Send(KeyISO, strconv.Itoa(iso)) }

// SetShutterSpeed sets the exposure time in microseconds.
func (c *Client) SetShutterSpeed(us int) error {
	return c.Send(KeyShutterSpeed, strconv.Itoa(us))
}

func (c *Client) SetMotion(on bool) error { return c.Send(KeyMotion, boolValue(on)) }

// SetMotionAlarm arms the alarm at threshold; zero disarms it.
func (c *Client) SetMotionAlarm(threshold uint8) error {
	return c.Send(KeyMotionAlarm, strconv.Itoa(int(threshold)))
}

func (c *Client) SetStats(on bool) error { return c.Send(KeyStats, boolValue(on)) }

func (c *Client) Move(dir byte) error {
	if strings.IndexByte(moveDirections, dir) < 0 {
		return fmt.Errorf("%w: move %q", ErrInvalidValue, dir)
	}
	return c.Send(KeyMove, string(dir))
}

func (c *Client) ZoomIn() error  { return c.Move(MoveZoomIn) }
func (c *Client) ZoomOut() error { return c.Move(MoveZoomOut) }
