package control

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
)

// maxLine bounds a control line; longer lines are discarded.
const maxLine = 1024

// Handler acts on one command. Errors are logged by Serve and never stop it.
type Handler interface {
	HandleCommand(ctx context.Context, cmd Command) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd Command) error

func (f HandlerFunc) HandleCommand(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

// Serve reads lines from r until EOF, a read error or ctx cancellation,
// handing each well-formed command to h in arrival order. A blocked read
// is only interrupted by closing r. EOF and cancellation return nil.
func Serve(ctx context.Context, r io.Reader, h Handler, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "control")
	br := bufio.NewReaderSize(r, maxLine)

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			log.Debug("discarding oversized control line")
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = br.ReadSlice('\n')
			}
			if err == nil {
				continue
			}
			line = nil
		}
		if len(line) > 0 {
			dispatch(ctx, string(line), h, log)
		}
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func dispatch(ctx context.Context, line string, h Handler, log *slog.Logger) {
	cmd, ok := ParseLine(line)
	if !ok {
		log.Debug("ignoring control line", "line", line)
		return
	}
	if err := h.HandleCommand(ctx, cmd); err != nil {
		log.Debug("control command rejected", "command", cmd.String(), "error", err)
	}
}
