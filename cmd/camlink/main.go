package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var debug bool

	rootCmd := &cobra.Command{
		Use:   "camlink",
		Short: "Stream H.264 from a camera endpoint to a viewer",
		Long: `camlink carries an H.264 elementary stream from a sender (camera side)
to a receiver (viewer side) over TCP, UDP, SRT or QUIC, with an optional
text control channel from the receiver back to the camera and motion
telemetry interleaved with the video.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			level := slog.LevelInfo
			if debug || os.Getenv("DEBUG") != "" {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		sendCmd(),
		receiveCmd(),
		versionCmd(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("camlink failed", "error", err)
		os.Exit(1)
	}
}
