package control

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/zsiec/camlink/session"
)

// Camera is the part of the camera the control channel can drive.
type Camera interface {
	ApplyCameraControl(key, value string) error
}

// Camera control keys beyond the command keys.
const (
	// CameraAnnotate sets the on-frame text overlay; empty clears it.
	CameraAnnotate = "annotate"
	// CameraMotion switches the encoder's motion vector output ("1"/"0").
	CameraMotion = "motion"
)

// Dispatcher applies commands on the sender: camera parameters go to the
// Camera, toggles to the Session.
type Dispatcher struct {
	cam  Camera
	sess *session.Session
	log  *slog.Logger
}

// NewDispatcher returns a Dispatcher. If log is nil, slog.Default() is used.
func NewDispatcher(cam Camera, sess *session.Session, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{cam: cam, sess: sess, log: log.With("component", "dispatcher")}
}

// HandleCommand validates cmd and applies it. Invalid values are reported
// as ErrInvalidValue; camera failures are logged and swallowed.
func (d *Dispatcher) HandleCommand(_ context.Context, cmd Command) error {
	switch cmd.Key {
	case KeyISO, KeyShutterSpeed:
		n, err := parseInt(cmd)
		if err != nil {
			return err
		}
		d.apply(cmd.Key, strconv.Itoa(n))

	case KeyMove:
		if len(cmd.Value) != 1 || !strings.Contains(moveDirections, cmd.Value) {
			return fmt.Errorf("%w: %s", ErrInvalidValue, cmd)
		}
		d.apply(KeyMove, cmd.Value)

	case KeyStats:
		n, err := parseInt(cmd)
		if err != nil {
			return err
		}
		on := n != 0
		d.sess.SetShowStats(on)
		if !on {
			d.apply(CameraAnnotate, "")
		}

	case KeyMotion:
		if th := d.sess.AlarmThreshold(); th != 0 {
			d.log.Debug("motion toggle ignored while alarm armed", "threshold", th)
			return nil
		}
		n, err := parseInt(cmd)
		if err != nil {
			return err
		}
		d.sess.SetMotion(n != 0)
		d.apply(CameraMotion, boolValue(n != 0))

	case KeyMotionAlarm:
		n, err := parseInt(cmd)
		if err != nil {
			return err
		}
		if n > 255 {
			return fmt.Errorf("%w: %s", ErrInvalidValue, cmd)
		}
		d.sess.SetAlarmThreshold(uint8(n))
		d.apply(CameraMotion, boolValue(n != 0))

	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, cmd.Key)
	}
	d.log.Debug("command applied", "command", cmd.String())
	return nil
}

func (d *Dispatcher) apply(key, value string) {
	if err := d.cam.ApplyCameraControl(key, value); err != nil {
		d.log.Warn("camera control failed", "key", key, "value", value, "error", err)
	}
}

func parseInt(cmd Command) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(cmd.Value))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidValue, cmd)
	}
	return n, nil
}

func boolValue(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
