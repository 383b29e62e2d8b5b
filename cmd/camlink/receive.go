package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/camlink/config"
	"github.com/zsiec/camlink/control"
	"github.com/zsiec/camlink/device"
	"github.com/zsiec/camlink/receiver"
	"github.com/zsiec/camlink/transport"
)

func receiveCmd() *cobra.Command {
	var (
		flags      commonFlags
		output     string
		noCommands bool
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive a stream and write it as Annex B H.264",
		Long: `Receive a camlink stream and write the decoded-order Annex B elementary
stream to a file or stdout, e.g. for piping into a player. Lines typed on
stdin (such as "iso=800" or "mot_alarm=10") are sent to the sender's
control channel.

Examples:
  camlink receive -l -d tcp://0.0.0.0:6000 | ffplay -f h264 -
  camlink receive -d srt://10.0.0.3:7000 -o capture.h264 --metrics-addr :9100`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fl := cmd.Flags()
			cfg, err := flags.load(cmd, config.RoleReceiver, func(c *config.Config) {
				if fl.Changed("output") {
					c.Video.Output = output
				}
			})
			if err != nil {
				return err
			}
			return runReceive(cmd.Context(), cfg, !noCommands)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Annex B output file (- for stdout)")
	cmd.Flags().BoolVar(&noCommands, "no-stdin", false, "Do not read control commands from stdin")

	return cmd
}

type receiverStats struct {
	Conn     *transport.Stats `json:"conn,omitempty"`
	Receiver *receiver.Stats  `json:"receiver,omitempty"`
	Decoder  decoderStats     `json:"decoder"`
}

type decoderStats struct {
	Units uint64 `json:"units"`
	Bytes uint64 `json:"bytes"`
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func runReceive(ctx context.Context, cfg *config.Config, stdinCommands bool) error {
	log := slog.Default().With("role", "receiver")
	l, err := newLink(cfg, config.RoleReceiver, log)
	if err != nil {
		return err
	}

	out, closeOut, err := openOutput(cfg.Video.Output)
	if err != nil {
		return err
	}
	defer closeOut()
	dec := device.NewAnnexBWriter(out)

	var client atomic.Pointer[control.Client]
	forward := l.counted(control.HandlerFunc(func(ctx context.Context, cmd control.Command) error {
		c := client.Load()
		if c == nil {
			return transport.ErrNoControlChannel
		}
		return c.HandleCommand(ctx, cmd)
	}))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var current atomic.Pointer[receiver.Receiver]
	l.serveStatus(ctx, g, func() any {
		doc := receiverStats{
			Conn:    l.connStats(),
			Decoder: decoderStats{Units: dec.Units(), Bytes: dec.Bytes()},
		}
		if r := current.Load(); r != nil {
			st := r.Stats()
			doc.Receiver = &st
		}
		return doc
	}, forward)
	l.runMQTT(ctx, g, forward)

	if stdinCommands {
		// Stdin cannot be unblocked, so the pump stays outside the group.
		go control.Serve(ctx, os.Stdin, forward, log)
	}

	g.Go(func() error {
		defer cancel()

		conn, err := l.open(ctx, cfg.Timeouts.Receive)
		if err != nil {
			return err
		}
		defer func() {
			cancel()
			conn.Close()
		}()
		context.AfterFunc(ctx, func() { conn.Close() })

		ctrl, err := l.controlChannel(ctx, conn)
		if err != nil {
			log.Warn("running without control channel", "error", err)
		} else {
			client.Store(control.NewClient(ctrl))
		}

		r := receiver.New(conn, dec, receiver.Config{
			Mode:         cfg.FramingMode(),
			MaxFrameSize: cfg.MaxFrameSize,
			Metrics:      l.metrics,
		}, log)
		current.Store(r)
		return r.Run(ctx)
	})

	return g.Wait()
}
