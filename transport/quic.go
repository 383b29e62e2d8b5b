package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/camlink/certs"
)

// Stream role prefaces. The dialer opens both streams and writes the role
// byte first so the listener can tell them apart regardless of arrival
// order.
const (
	prefaceData    byte = 'D'
	prefaceControl byte = 'C'
)

const streamSetupTimeout = 10 * time.Second

func quicConfig(opts Options) *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  opts.QUICIdleTimeout,
		KeepAlivePeriod: opts.QUICIdleTimeout / 3,
	}
}

// listenQUIC accepts one connection and its two streams. The listener
// owns the UDP socket and is closed together with the connection.
func listenQUIC(ctx context.Context, ep Endpoint, opts Options) (*Conn, error) {
	cert := opts.Cert
	if cert == nil {
		var err error
		if cert, err = certs.Generate(0); err != nil {
			return nil, fmt.Errorf("transport: QUIC certificate: %w", err)
		}
	}

	ln, err := quic.ListenAddr(ep.Addr(), cert.ServerTLSConfig(), quicConfig(opts))
	if err != nil {
		return nil, fmt.Errorf("transport: QUIC listen on %s: %w", ep, err)
	}
	opts.listening(ep.Scheme, ln.Addr().String(), "fingerprint", cert.FingerprintBase64())

	qc, err := ln.Accept(ctx)
	if err != nil {
		ln.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("transport: QUIC accept on %s: %w", ep, err)
	}

	sctx, cancel := context.WithTimeout(ctx, streamSetupTimeout)
	defer cancel()
	var data, ctl quic.Stream
	for data == nil || ctl == nil {
		s, err := qc.AcceptStream(sctx)
		if err != nil {
			qc.CloseWithError(1, "stream setup failed")
			ln.Close()
			return nil, fmt.Errorf("transport: QUIC accept stream: %w", err)
		}
		role, err := RecvExact(s, 1)
		if err != nil {
			qc.CloseWithError(1, "stream setup failed")
			ln.Close()
			return nil, fmt.Errorf("transport: QUIC stream preface: %w", err)
		}
		switch role[0] {
		case prefaceData:
			data = s
		case prefaceControl:
			ctl = s
		default:
			qc.CloseWithError(1, "bad preface")
			ln.Close()
			return nil, fmt.Errorf("%w: %#x", ErrBadPreface, role[0])
		}
	}
	return newQUICConn(qc, data, ctl, ln, opts), nil
}

func dialQUIC(ctx context.Context, ep Endpoint, opts Options) (*Conn, error) {
	tlsConf, err := certs.ClientTLSConfig(opts.CertFingerprint)
	if err != nil {
		return nil, err
	}
	qc, err := dialWithRetry(ctx, opts, func(actx context.Context) (quic.Connection, error) {
		return quic.DialAddr(actx, ep.Addr(), tlsConf, quicConfig(opts))
	})
	if err != nil {
		return nil, fmt.Errorf("transport: QUIC dial %s: %w", ep, err)
	}

	open := func(role byte) (quic.Stream, error) {
		s, err := qc.OpenStreamSync(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := SendAll(s, []byte{role}); err != nil {
			return nil, err
		}
		return s, nil
	}
	data, err := open(prefaceData)
	if err != nil {
		qc.CloseWithError(1, "stream setup failed")
		return nil, fmt.Errorf("transport: QUIC open data stream: %w", err)
	}
	ctl, err := open(prefaceControl)
	if err != nil {
		qc.CloseWithError(1, "stream setup failed")
		return nil, fmt.Errorf("transport: QUIC open control stream: %w", err)
	}
	return newQUICConn(qc, data, ctl, nil, opts), nil
}

func newQUICConn(qc quic.Connection, data, ctl quic.Stream, ln io.Closer, opts Options) *Conn {
	cs := closers{data, quicCloser{qc}}
	if ln != nil {
		cs = append(cs, ln)
	}
	return newConn(SchemeQUIC, link{
		r:        data,
		w:        data,
		closer:   cs,
		remote:   qc.RemoteAddr().String(),
		deadline: data.SetReadDeadline,
		control:  func() (io.ReadWriteCloser, error) { return ctl, nil },
	}, opts.ReceiveTimeout, opts.Logger)
}

type quicCloser struct{ qc quic.Connection }

func (q quicCloser) Close() error { return q.qc.CloseWithError(0, "closed") }
