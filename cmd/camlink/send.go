package main

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/camlink/config"
	"github.com/zsiec/camlink/control"
	"github.com/zsiec/camlink/device"
	"github.com/zsiec/camlink/sender"
	"github.com/zsiec/camlink/session"
	"github.com/zsiec/camlink/transport"
)

func sendCmd() *cobra.Command {
	var (
		flags     commonFlags
		input     string
		fps       float64
		loop      bool
		chunkSize int
		width     int
		height    int
		threshold int
		record    string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Replay an H.264 file as the camera sender",
		Long: `Replay an Annex B H.264 file as camera encoder output and stream it to a
receiver. Control commands from the receiver (iso, ss, move, motion,
mot_alarm, stat) are applied to a logging camera.

Examples:
  camlink send -i clip.h264 -d tcp://10.0.0.2:6000
  camlink send -i clip.h264 -l -d quic://0.0.0.0:6000 --mode tagged --threshold 8
  camlink send -i clip.h264 -d tcp://10.0.0.2:6000 --record motion.h264`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fl := cmd.Flags()
			cfg, err := flags.load(cmd, config.RoleSender, func(c *config.Config) {
				if fl.Changed("input") {
					c.Video.Input = input
				}
				if fl.Changed("fps") {
					c.Video.FPS = fps
				}
				if fl.Changed("loop") {
					c.Video.Loop = loop
				}
				if fl.Changed("chunk-size") {
					c.Video.ChunkSize = chunkSize
				}
				if fl.Changed("width") {
					c.Video.Width = width
				}
				if fl.Changed("height") {
					c.Video.Height = height
				}
				if fl.Changed("threshold") {
					c.Motion.Threshold = threshold
				}
				if fl.Changed("record") {
					c.Video.Record = record
				}
			})
			if err != nil {
				return err
			}
			return runSend(cmd.Context(), cfg)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&input, "input", "i", "", "Annex B .h264 file to replay")
	cmd.Flags().Float64Var(&fps, "fps", 30, "Picture rate")
	cmd.Flags().BoolVar(&loop, "loop", false, "Restart the file at its end")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Split pictures larger than this into two buffers")
	cmd.Flags().IntVar(&width, "width", 1280, "Picture width, for the motion vector grid")
	cmd.Flags().IntVar(&height, "height", 720, "Picture height, for the motion vector grid")
	cmd.Flags().IntVar(&threshold, "threshold", 0, "Initial motion alarm threshold (0 disables)")
	cmd.Flags().StringVar(&record, "record", "", "Keep keyframes and pictures with motion in this file")

	return cmd
}

type senderStats struct {
	Conn    *transport.Stats  `json:"conn,omitempty"`
	Sender  *sender.Stats     `json:"sender,omitempty"`
	Session session.Snapshot  `json:"session"`
	Camera  map[string]string `json:"camera"`
}

func runSend(ctx context.Context, cfg *config.Config) error {
	log := slog.Default().With("role", "sender")
	l, err := newLink(cfg, config.RoleSender, log)
	if err != nil {
		return err
	}

	enc, err := device.NewFileEncoder(cfg.FileEncoder(), log)
	if err != nil {
		return err
	}
	sess := session.New(uint8(cfg.Motion.Threshold))
	enc.SetVectors(sess.Motion())
	cam := device.NewLogCamera(enc, log)

	var rec *sender.Recorder
	if cfg.Video.Record != "" {
		w, closeRec, err := openOutput(cfg.Video.Record)
		if err != nil {
			return err
		}
		defer closeRec()
		rec = sender.NewRecorder(w)
		log.Info("recording motion", "path", cfg.Video.Record)
	}
	handler := l.counted(control.NewDispatcher(cam, sess, log))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var current atomic.Pointer[sender.Sender]
	l.serveStatus(ctx, g, func() any {
		doc := senderStats{Conn: l.connStats(), Session: sess.Snapshot(), Camera: cam.Controls()}
		if s := current.Load(); s != nil {
			st := s.Stats()
			doc.Sender = &st
		}
		return doc
	}, handler)
	l.runMQTT(ctx, g, handler)

	g.Go(func() error {
		// The encoder finishing ends the status and control loops too.
		defer cancel()

		// The sender only reads control lines, which may be far apart.
		conn, err := l.open(ctx, 0)
		if err != nil {
			return err
		}
		// Cancel before closing so the control loop sees a clean shutdown.
		defer func() {
			cancel()
			conn.Close()
		}()
		context.AfterFunc(ctx, func() { conn.Close() })

		s := sender.New(conn, cam, sess, sender.Config{
			Mode:         cfg.FramingMode(),
			MaxFrameSize: cfg.MaxFrameSize,
			Grid:         cfg.Grid(),
			Metrics:      l.metrics,
			Recorder:     rec,
		}, log)
		current.Store(s)

		ctrl, err := l.controlChannel(ctx, conn)
		if err != nil {
			log.Warn("running without control channel", "error", err)
		} else {
			g.Go(func() error {
				return control.Serve(ctx, ctrl, handler, log)
			})
		}
		return s.Run(ctx, enc)
	})

	return g.Wait()
}
