// Package sender is the camera side of a camlink link: it turns encoder
// buffers into framed records, interleaves motion telemetry and keeps the
// optional statistics overlay up to date.
package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/zsiec/camlink/control"
	"github.com/zsiec/camlink/device"
	"github.com/zsiec/camlink/framing"
	"github.com/zsiec/camlink/internal/metrics"
	"github.com/zsiec/camlink/media"
	"github.com/zsiec/camlink/motion"
	"github.com/zsiec/camlink/reassembly"
	"github.com/zsiec/camlink/session"
)

// Config configures a Sender.
type Config struct {
	Mode framing.Mode
	// MaxFrameSize bounds reassembled pictures; media.MaxFrameSizeSender
	// when zero.
	MaxFrameSize int
	// Grid is the motion vector layout of the encoded picture size.
	Grid    motion.Grid
	Metrics *metrics.Metrics
	// Recorder, when set, keeps a motion-gated local copy of the stream.
	Recorder *Recorder
}

// Stats is a snapshot of a Sender's counters.
type Stats struct {
	Frames        uint64  `json:"frames"`
	KeyFrames     uint64  `json:"keyframes"`
	ConfigFrames  uint64  `json:"config_frames"`
	MotionRecords uint64  `json:"motion_records"`
	Alarms        uint64  `json:"alarms"`
	Bytes         uint64  `json:"bytes"`
	LastScore     uint8   `json:"last_score"`
	FPS           float64 `json:"fps"`
	Recorded      uint64  `json:"recorded"`
	Skipped       uint64  `json:"skipped"`
}

// Sender owns the data direction of the connection. OnBufferReady is the
// encoder callback; it must not be called concurrently.
type Sender struct {
	cfg  Config
	w    *framing.Writer
	rb   *reassembly.Buffer
	det  *motion.Detector
	sess *session.Session
	cam  device.Camera
	log  *slog.Logger

	frames        atomic.Uint64
	keyFrames     atomic.Uint64
	configFrames  atomic.Uint64
	motionRecords atomic.Uint64
	alarms        atomic.Uint64
	bytes         atomic.Uint64
	lastScore     atomic.Uint32
	fpsBits       atomic.Uint64

	windowStart  time.Time
	windowFrames int
	lastFrame    time.Time
}

// New returns a Sender writing records to w. cam receives the statistics
// overlay. If log is nil, slog.Default() is used.
func New(w io.Writer, cam device.Camera, sess *session.Session, cfg Config, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		cfg:  cfg,
		w:    framing.NewWriter(w, cfg.Mode),
		rb:   reassembly.New(cfg.MaxFrameSize),
		det:  motion.NewDetector(cfg.Grid, sess),
		sess: sess,
		cam:  cam,
		log:  log.With("component", "sender", "mode", cfg.Mode.String()),
	}
}

// OnBufferReady consumes one encoder buffer. Returned errors are fatal to
// the link: reassembly faults and write failures.
func (s *Sender) OnBufferReady(b media.Buffer) error {
	f, ok, err := s.rb.Accept(b)
	if err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	if !ok {
		return nil
	}
	if f.Kind == media.KindMotionVectors {
		return s.handleMotion(f.Payload)
	}

	if err := s.w.WriteFrame(f); err != nil {
		return err
	}
	if err := s.cfg.Recorder.Picture(f.Kind, f.Payload); err != nil {
		return err
	}
	s.bytes.Add(uint64(len(f.Payload)))
	s.cfg.Metrics.Frame(f.Kind, len(f.Payload))

	switch f.Kind {
	case media.KindConfig:
		s.configFrames.Add(1)
		s.log.Debug("config sent", "bytes", len(f.Payload))
	case media.KindKeyFrame:
		s.keyFrames.Add(1)
		fallthrough
	default:
		s.frames.Add(1)
		s.tick(time.Now())
	}
	return nil
}

// handleMotion scores a vector array for the recorder and, in tagged mode,
// emits the motion record followed by an alarm record when the score
// crosses the threshold. A disabled session drops vectors silently, as
// does plain mode without a recorder.
func (s *Sender) handleMotion(raw []byte) error {
	tagged := s.cfg.Mode == framing.ModeTagged
	if !s.sess.Motion() || (!tagged && s.cfg.Recorder == nil) {
		return nil
	}
	res, err := s.det.Evaluate(raw)
	if err != nil {
		s.log.Warn("dropping motion vectors", "error", err, "grid", s.det.Grid().String())
		return nil
	}
	s.lastScore.Store(uint32(res.Score))
	s.cfg.Metrics.MotionScore(res.Score)

	if err := s.cfg.Recorder.Motion(res.Score); err != nil {
		return err
	}
	if !tagged {
		return nil
	}

	if err := s.w.WriteFrame(framing.MotionFrame(res.Score)); err != nil {
		return err
	}
	s.motionRecords.Add(1)
	s.cfg.Metrics.Frame(media.KindMotionVectors, 1)

	if res.Alarm {
		if err := s.w.WriteFrame(framing.AlarmFrame()); err != nil {
			return err
		}
		s.alarms.Add(1)
		s.cfg.Metrics.Alarm()
		s.log.Info("motion alarm", "score", res.Score, "threshold", s.sess.AlarmThreshold())
	}
	return nil
}

// tick updates the FPS window and, when enabled, the overlay text. The
// overlay shows the rate implied by the last frame interval, the frame
// count, the last motion score and the pictures the recorder skipped.
func (s *Sender) tick(now time.Time) {
	var instant float64
	if !s.lastFrame.IsZero() {
		if d := now.Sub(s.lastFrame); d > 0 {
			instant = float64(time.Second) / float64(d)
		}
	}
	s.lastFrame = now

	if s.windowStart.IsZero() {
		s.windowStart = now
	}
	s.windowFrames++
	if el := now.Sub(s.windowStart); el >= time.Second {
		fps := float64(s.windowFrames) / el.Seconds()
		s.fpsBits.Store(math.Float64bits(fps))
		s.cfg.Metrics.FPS(fps)
		s.windowStart = now
		s.windowFrames = 0
	}

	if s.sess.ShowStats() && s.cam != nil {
		text := overlayText(instant, s.frames.Load(), uint8(s.lastScore.Load()), s.cfg.Recorder.Skipped())
		if err := s.cam.ApplyCameraControl(control.CameraAnnotate, text); err != nil {
			s.log.Debug("overlay update failed", "error", err)
		}
	}
}

func overlayText(fps float64, frames uint64, score uint8, skipped uint64) string {
	return fmt.Sprintf("FPS=%2.1f, %d, %d, %d", fps, frames, score, skipped)
}

func (s *Sender) fps() float64 { return math.Float64frombits(s.fpsBits.Load()) }

// Stats may be called from any goroutine.
func (s *Sender) Stats() Stats {
	return Stats{
		Frames:        s.frames.Load(),
		KeyFrames:     s.keyFrames.Load(),
		ConfigFrames:  s.configFrames.Load(),
		MotionRecords: s.motionRecords.Load(),
		Alarms:        s.alarms.Load(),
		Bytes:         s.bytes.Load(),
		LastScore:     uint8(s.lastScore.Load()),
		FPS:           s.fps(),
		Recorded:      s.cfg.Recorder.Written(),
		Skipped:       s.cfg.Recorder.Skipped(),
	}
}

// Run pumps enc into OnBufferReady until the encoder ends (nil), ctx is
// cancelled (nil) or a fault occurs. Pending reassembly state is dropped
// on return.
func (s *Sender) Run(ctx context.Context, enc device.Encoder) error {
	defer s.rb.Reset()
	for {
		b, err := enc.Produce(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Info("encoder finished", "frames", s.frames.Load())
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sender: encoder: %w", err)
		}
		if err := s.OnBufferReady(b); err != nil {
			return err
		}
		if b.Flags.Has(media.FlagEOS) {
			s.log.Info("end of stream", "frames", s.frames.Load())
			return nil
		}
	}
}
