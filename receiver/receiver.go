// Package receiver is the viewer side of a camlink link. It reads framed
// records, hands video to the decoder once it has parameter sets, and tracks
// the motion telemetry the sender interleaves.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/camlink/device"
	"github.com/zsiec/camlink/framing"
	"github.com/zsiec/camlink/internal/h264"
	"github.com/zsiec/camlink/internal/metrics"
	"github.com/zsiec/camlink/media"
	"github.com/zsiec/camlink/transport"
)

const defaultStatsInterval = time.Second

// Config configures a Receiver.
type Config struct {
	Mode framing.Mode
	// MaxFrameSize bounds record lengths; media.MaxFrameSizeReceiver when
	// zero.
	MaxFrameSize int
	// StatsInterval is the period of the progress log line.
	StatsInterval time.Duration
	Metrics       *metrics.Metrics
}

// Stats is a snapshot of a Receiver's counters.
type Stats struct {
	Frames       uint64  `json:"frames"`
	KeyFrames    uint64  `json:"keyframes"`
	ConfigFrames uint64  `json:"config_frames"`
	Withheld     uint64  `json:"withheld"`
	DecodeErrors uint64  `json:"decode_errors"`
	Bytes        uint64  `json:"bytes"`
	MotionScore  uint8   `json:"motion_score"`
	Alarms       uint64  `json:"alarms"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Codec        string  `json:"codec,omitempty"`
	FPS          float64 `json:"fps"`
}

// Receiver owns the data direction of the connection.
type Receiver struct {
	cfg Config
	r   *framing.Reader
	dec device.Decoder
	log *slog.Logger

	configured bool
	epoch      time.Time

	frames       atomic.Uint64
	keyFrames    atomic.Uint64
	configFrames atomic.Uint64
	withheld     atomic.Uint64
	decodeErrors atomic.Uint64
	bytes        atomic.Uint64
	score        atomic.Uint32
	alarms       atomic.Uint64
	fpsBits      atomic.Uint64
	sps          atomic.Pointer[h264.SPS]
}

// New returns a Receiver reading records from r and submitting video to
// dec. If log is nil, slog.Default() is used.
func New(r io.Reader, dec device.Decoder, cfg Config, log *slog.Logger) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = defaultStatsInterval
	}
	return &Receiver{
		cfg: cfg,
		r:   framing.NewReader(r, cfg.Mode, cfg.MaxFrameSize),
		dec: dec,
		log: log.With("component", "receiver", "mode", cfg.Mode.String()),
	}
}

// Run reads until ctx is cancelled, which returns nil, or the stream ends.
// A peer close, even at a record boundary, returns an error wrapping
// transport.ErrConnectionClosed; transport and protocol faults are returned
// as well. Cancellation only interrupts a blocked read if the caller closes
// the underlying connection.
func (r *Receiver) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return r.readLoop(gctx)
	})
	g.Go(func() error {
		r.reportLoop(gctx)
		return nil
	})
	return g.Wait()
}

func (r *Receiver) readLoop(ctx context.Context) error {
	for {
		f, err := r.r.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				r.log.Info("peer closed stream", "frames", r.frames.Load())
				return fmt.Errorf("receiver: %w: peer closed the stream", transport.ErrConnectionClosed)
			}
			return fmt.Errorf("receiver: %w", err)
		}
		r.handle(f)
	}
}

// handle delivers one record. Video is withheld until the first config
// frame; decoder errors are logged and counted.
func (r *Receiver) handle(f media.Frame) {
	switch f.Kind {
	case media.KindMotionVectors:
		var score uint8
		if len(f.Payload) > 0 {
			score = f.Payload[0]
		}
		r.score.Store(uint32(score))
		r.cfg.Metrics.MotionScore(score)
		r.log.Debug("motion", "score", score)
		return
	case media.KindMotionAlarm:
		r.alarms.Add(1)
		r.cfg.Metrics.Alarm()
		r.log.Warn("motion alarm", "score", r.score.Load())
		return
	case media.KindConfig:
		r.configFrames.Add(1)
		if sps, ok := h264.FindSPS(f.Payload); ok {
			if old := r.sps.Load(); old == nil || old.Width != sps.Width || old.Height != sps.Height {
				r.log.Info("stream resolution", "width", sps.Width, "height", sps.Height, "codec", sps.CodecString())
			}
			r.sps.Store(&sps)
		}
		r.configured = true
	case media.KindKeyFrame:
		r.keyFrames.Add(1)
	}

	r.bytes.Add(uint64(len(f.Payload)))
	r.cfg.Metrics.Frame(f.Kind, len(f.Payload))

	if !r.configured {
		r.withheld.Add(1)
		r.cfg.Metrics.Withheld()
		return
	}
	if f.Kind != media.KindConfig {
		r.frames.Add(1)
	}

	now := time.Now()
	if r.epoch.IsZero() {
		r.epoch = now
	}
	pts := now.Sub(r.epoch).Microseconds()
	if err := r.dec.SubmitDecodeUnit(f.Payload, f.Kind, pts); err != nil {
		r.decodeErrors.Add(1)
		r.log.Warn("decoder rejected unit", "kind", f.Kind.String(), "bytes", len(f.Payload), "error", err)
	}
}

// reportLoop logs progress once per interval until ctx is done.
func (r *Receiver) reportLoop(ctx context.Context) {
	t := time.NewTicker(r.cfg.StatsInterval)
	defer t.Stop()

	last := r.frames.Load()
	lastAt := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n := r.frames.Load()
			fps := float64(n-last) / now.Sub(lastAt).Seconds()
			last, lastAt = n, now
			r.fpsBits.Store(math.Float64bits(fps))
			r.cfg.Metrics.FPS(fps)
			r.log.Info("receiving",
				"frames", n,
				"fps", fmt.Sprintf("%.1f", fps),
				"motion", r.score.Load(),
				"alarms", r.alarms.Load(),
			)
		}
	}
}

// Stats may be called from any goroutine.
func (r *Receiver) Stats() Stats {
	st := Stats{
		Frames:       r.frames.Load(),
		KeyFrames:    r.keyFrames.Load(),
		ConfigFrames: r.configFrames.Load(),
		Withheld:     r.withheld.Load(),
		DecodeErrors: r.decodeErrors.Load(),
		Bytes:        r.bytes.Load(),
		MotionScore:  uint8(r.score.Load()),
		Alarms:       r.alarms.Load(),
		FPS:          math.Float64frombits(r.fpsBits.Load()),
	}
	if sps := r.sps.Load(); sps != nil {
		st.Width, st.Height, st.Codec = sps.Width, sps.Height, sps.CodecString()
	}
	return st
}
