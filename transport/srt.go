package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	srtgo "github.com/zsiec/srtgo"
)

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// srtPayloadSize is the live-mode SRT payload; writes are split to fit.
const srtPayloadSize = 1316

const srtReadBufferSize = srtPayloadSize * 10

// listenSRT accepts one caller. The listener shares its UDP socket with the
// accepted connection, so it stays open, rejecting everyone else, until the
// connection is closed.
func listenSRT(ctx context.Context, ep Endpoint, opts Options) (*Conn, error) {
	log := opts.logger()
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(ep.Addr(), cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: SRT listen on %s: %w", ep, err)
	}
	opts.listening(ep.Scheme, l.Addr().String())

	var taken atomic.Bool
	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if taken.Load() {
			return srtgo.RejPeer
		}
		if opts.StreamID != "" && req.StreamID != opts.StreamID {
			log.Warn("rejecting caller", "stream_id", req.StreamID)
			return srtgo.RejPeer
		}
		return 0
	})

	stop := context.AfterFunc(ctx, func() { l.Close() })
	conn, err := l.Accept()
	stopped := !stop()
	if err != nil {
		l.Close()
		if stopped || ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("transport: SRT accept on %s: %w", ep, err)
	}
	if stopped {
		conn.Close()
		return nil, ctx.Err()
	}
	taken.Store(true)
	log.Info("caller accepted", "stream_id", conn.StreamID(), "remote", conn.RemoteAddr())

	return newSRTConn(conn, closers{conn, l}, opts), nil
}

func dialSRT(ctx context.Context, ep Endpoint, opts Options) (*Conn, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	if opts.StreamID != "" {
		cfg.StreamID = opts.StreamID
	}

	conn, err := dialWithRetry(ctx, opts, func(actx context.Context) (*srtgo.Conn, error) {
		type dialResult struct {
			conn *srtgo.Conn
			err  error
		}
		ch := make(chan dialResult, 1)
		go func() {
			c, err := srtgo.Dial(ep.Addr(), cfg)
			ch <- dialResult{c, err}
		}()
		select {
		case res := <-ch:
			if res.err != nil {
				// srtgo does not classify handshake failures; treat them
				// all as a peer that is not up yet.
				return nil, fmt.Errorf("%w: %w", ErrPeerUnavailable, res.err)
			}
			return res.conn, nil
		case <-actx.Done():
			// Close whatever the abandoned dial produces.
			go func() {
				if res := <-ch; res.conn != nil {
					res.conn.Close()
				}
			}()
			return nil, actx.Err()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("transport: SRT dial %s: %w", ep, err)
	}
	return newSRTConn(conn, conn, opts), nil
}

func newSRTConn(conn *srtgo.Conn, closer io.Closer, opts Options) *Conn {
	// Live-mode reads deliver one packet and truncate to the buffer given,
	// so reads always go through a buffer larger than a packet.
	return newConn(SchemeSRT, link{
		r:        bufio.NewReaderSize(conn, srtReadBufferSize),
		w:        chunkWriter{w: conn, size: srtPayloadSize},
		closer:   closer,
		remote:   conn.RemoteAddr().String(),
		deadline: conn.SetReadDeadline,
		shared:   true,
	}, opts.ReceiveTimeout, opts.Logger)
}

// closers closes every member and reports the first failure.
type closers []io.Closer

func (cs closers) Close() error {
	var errs []error
	for _, c := range cs {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
