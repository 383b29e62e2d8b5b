package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/zsiec/camlink/internal/h264"
	"github.com/zsiec/camlink/media"
	"github.com/zsiec/camlink/motion"
)

// FileEncoderConfig configures a FileEncoder.
type FileEncoderConfig struct {
	Path string
	// FPS paces pictures; zero or less emits as fast as the consumer reads.
	FPS float64
	// Loop restarts from the beginning of the file at EOF.
	Loop bool
	// ChunkSize splits pictures larger than this into a begin chunk and an
	// end chunk, as camera encoders do with small output buffers. Zero
	// never splits.
	ChunkSize int
	// Grid sizes the synthetic motion vectors emitted after each picture
	// while vectors are switched on.
	Grid motion.Grid
}

// FileEncoder replays an Annex B .h264 file as encoder output: one CONFIG
// buffer per parameter-set unit, one or two buffers per picture, and an
// optional side information buffer of motion vectors.
type FileEncoder struct {
	cfg     FileEncoderConfig
	log     *slog.Logger
	vectors atomic.Bool

	units   []h264.AccessUnit
	next    int
	picture int64
	queue   []media.Buffer
	start   time.Time
}

// NewFileEncoder reads and indexes the file. If log is nil, slog.Default()
// is used.
func NewFileEncoder(cfg FileEncoderConfig, log *slog.Logger) (*FileEncoder, error) {
	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("device: read %s: %w", cfg.Path, err)
	}
	return newFileEncoder(cfg, data, log)
}

func newFileEncoder(cfg FileEncoderConfig, data []byte, log *slog.Logger) (*FileEncoder, error) {
	if log == nil {
		log = slog.Default()
	}
	units := h264.SplitAccessUnits(data)
	if len(units) == 0 {
		return nil, fmt.Errorf("device: %s: no H.264 access units", cfg.Path)
	}
	e := &FileEncoder{
		cfg:   cfg,
		log:   log.With("component", "file-encoder"),
		units: units,
	}
	e.log.Info("indexed", "path", cfg.Path, "units", len(units), "fps", cfg.FPS)
	return e, nil
}

// SetVectors switches synthetic motion vector output.
func (e *FileEncoder) SetVectors(on bool) { e.vectors.Store(on) }

// Produce returns the next buffer, waiting for the picture's slot when
// paced. It returns io.EOF after the last unit unless looping.
func (e *FileEncoder) Produce(ctx context.Context) (media.Buffer, error) {
	for len(e.queue) == 0 {
		if e.next == len(e.units) {
			if !e.cfg.Loop {
				return media.Buffer{}, io.EOF
			}
			e.next = 0
		}
		au := e.units[e.next]
		e.next++
		if au.Kind != media.KindConfig {
			if err := e.pace(ctx); err != nil {
				return media.Buffer{}, err
			}
		}
		e.enqueue(au)
	}
	b := e.queue[0]
	e.queue = e.queue[1:]
	return b, nil
}

func (e *FileEncoder) pace(ctx context.Context) error {
	if e.start.IsZero() {
		e.start = time.Now()
	}
	if e.cfg.FPS <= 0 {
		return ctx.Err()
	}
	due := e.start.Add(time.Duration(float64(e.picture) * float64(time.Second) / e.cfg.FPS))
	d := time.Until(due)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *FileEncoder) pts() int64 {
	if e.cfg.FPS <= 0 {
		return time.Since(e.start).Microseconds()
	}
	return int64(float64(e.picture) * 1e6 / e.cfg.FPS)
}

func (e *FileEncoder) enqueue(au h264.AccessUnit) {
	if au.Kind == media.KindConfig {
		e.queue = append(e.queue, media.Buffer{Data: au.Data, Flags: media.FlagConfig})
		return
	}

	pts := e.pts()
	var key media.BufferFlags
	if au.Kind == media.KindKeyFrame {
		key = media.FlagKeyFrame
	}
	if e.cfg.ChunkSize > 0 && len(au.Data) > e.cfg.ChunkSize {
		half := len(au.Data) / 2
		e.queue = append(e.queue,
			media.Buffer{Data: au.Data[:half], Flags: media.FlagFrameStart | key, PTS: pts},
			media.Buffer{Data: au.Data[half:], Flags: media.FlagFrameEnd, PTS: pts},
		)
	} else {
		e.queue = append(e.queue, media.Buffer{Data: au.Data, Flags: media.FlagFrameStart | media.FlagFrameEnd | key, PTS: pts})
	}

	if e.cfg.Grid.MBX > 0 && e.cfg.Grid.MBY > 0 && e.vectors.Load() {
		e.queue = append(e.queue, media.Buffer{
			Data:  e.syntheticVectors(),
			Flags: media.FlagSideInfo | media.FlagFrameEnd,
			PTS:   pts,
		})
	}
	e.picture++
}

// syntheticVectors moves one macroblock across the grid, its magnitude
// cycling from 0 to 31.
func (e *FileEncoder) syntheticVectors() []byte {
	g := e.cfg.Grid
	n := int(e.picture)
	raw := make([]byte, g.Size())
	g.Put(raw, n%g.MBX, (n/g.MBX)%g.MBY, motion.Vector{X: int8(-(n % 32)), SAD: 256})
	return raw
}
