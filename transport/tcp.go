package transport

import (
	"context"
	"fmt"
	"net"
)

func listenTCP(ctx context.Context, ep Endpoint, opts Options) (*Conn, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, ep.network(), ep.Addr())
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", ep, err)
	}
	opts.listening(ep.Scheme, ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	nc, err := ln.Accept()
	ln.Close()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("transport: accept on %s: %w", ep, err)
	}
	return newTCPConn(nc, opts), nil
}

func dialTCP(ctx context.Context, ep Endpoint, opts Options) (*Conn, error) {
	nc, err := dialWithRetry(ctx, opts, func(actx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(actx, ep.network(), ep.Addr())
	})
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", ep, err)
	}
	return newTCPConn(nc, opts), nil
}

func newTCPConn(nc net.Conn, opts Options) *Conn {
	return newConn(SchemeTCP, link{
		r:        nc,
		w:        nc,
		closer:   nc,
		remote:   nc.RemoteAddr().String(),
		deadline: nc.SetReadDeadline,
		shared:   true,
	}, opts.ReceiveTimeout, opts.Logger)
}
