package device

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
)

// ErrUnsupportedControl is returned for keys a camera does not know.
var ErrUnsupportedControl = errors.New("device: unsupported camera control")

// LogCamera stands in for camera hardware: it logs and records every control
// change and routes the motion switch to the encoder.
type LogCamera struct {
	log     *slog.Logger
	vectors VectorSwitch

	mu         sync.Mutex
	controls   map[string]string
	annotation string
	applied    int
}

// NewLogCamera returns a LogCamera. vectors may be nil. If log is nil,
// slog.Default() is used.
func NewLogCamera(vectors VectorSwitch, log *slog.Logger) *LogCamera {
	if log == nil {
		log = slog.Default()
	}
	return &LogCamera{
		log:      log.With("component", "camera"),
		vectors:  vectors,
		controls: make(map[string]string),
	}
}

func (c *LogCamera) ApplyCameraControl(key, value string) error {
	switch key {
	case "iso", "ss", "move":
		c.log.Info("camera control", "key", key, "value", value)
	case "motion":
		on := value == "1"
		if c.vectors != nil {
			c.vectors.SetVectors(on)
		}
		c.log.Info("motion vectors", "enabled", on)
	case "annotate":
		c.mu.Lock()
		c.annotation = value
		c.applied++
		c.mu.Unlock()
		c.log.Debug("annotation", "text", value)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedControl, key)
	}

	c.mu.Lock()
	c.controls[key] = value
	c.applied++
	c.mu.Unlock()
	return nil
}

// Controls returns the last value applied per key.
func (c *LogCamera) Controls() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.controls)
}

// Annotation returns the current overlay text.
func (c *LogCamera) Annotation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.annotation
}

// Applied counts accepted control changes.
func (c *LogCamera) Applied() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied
}
