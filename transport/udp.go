package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
)

// DatagramSize caps each UDP datagram. Records are split across datagrams
// and reassembled by the receiver's stream reader; a lost or reordered
// datagram desynchronises the stream.
const DatagramSize = 1400

const udpReadBuffer = 64 * 1024

// listenUDP binds and waits, without a deadline, for the first datagram.
// Its source becomes the peer; datagrams from anyone else are dropped.
func listenUDP(ctx context.Context, ep Endpoint, opts Options) (*Conn, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, ep.network(), ep.Addr())
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", ep, err)
	}
	uc := pc.(*net.UDPConn)
	opts.listening(ep.Scheme, uc.LocalAddr().String())

	dr := &datagramReader{uc: uc, log: opts.logger().With("component", "udp")}
	stop := context.AfterFunc(ctx, func() { uc.Close() })
	peer, err := dr.first()
	stopped := !stop()
	if err != nil || stopped {
		uc.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("transport: receive on %s: %w", ep, err)
	}

	return newConn(SchemeUDP, link{
		r:        dr,
		w:        chunkWriter{w: peerWriter{uc: uc, peer: peer}, size: DatagramSize},
		closer:   uc,
		remote:   peer.String(),
		deadline: uc.SetReadDeadline,
	}, opts.ReceiveTimeout, opts.Logger), nil
}

// dialUDP connects the socket; no packet is exchanged, so there is nothing
// to retry.
func dialUDP(ctx context.Context, ep Endpoint, opts Options) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, ep.network(), ep.Addr())
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", ep, err)
	}
	uc := nc.(*net.UDPConn)
	return newConn(SchemeUDP, link{
		r:        &datagramReader{uc: uc, connected: true, log: opts.logger().With("component", "udp")},
		w:        chunkWriter{w: uc, size: DatagramSize},
		closer:   uc,
		remote:   uc.RemoteAddr().String(),
		deadline: uc.SetReadDeadline,
	}, opts.ReceiveTimeout, opts.Logger), nil
}

// datagramReader turns a UDP socket into a byte stream. Each datagram is
// read whole into buf and handed out across as many Reads as the caller
// needs, so small reads never truncate a datagram.
type datagramReader struct {
	uc        *net.UDPConn
	connected bool
	peer      netip.AddrPort
	log       *slog.Logger

	buf     [udpReadBuffer]byte
	pending []byte
	dropped uint64
}

// first blocks until a non-empty datagram arrives and adopts its source as
// the peer. The datagram is kept for the next Read.
func (d *datagramReader) first() (netip.AddrPort, error) {
	for {
		n, from, err := d.uc.ReadFromUDPAddrPort(d.buf[:])
		if err != nil {
			return netip.AddrPort{}, err
		}
		if n == 0 {
			continue
		}
		d.peer = from
		d.pending = d.buf[:n]
		return from, nil
	}
}

func (d *datagramReader) Read(p []byte) (int, error) {
	for len(d.pending) == 0 {
		n, from, err := d.uc.ReadFromUDPAddrPort(d.buf[:])
		if err != nil {
			return 0, err
		}
		if !d.connected && from != d.peer {
			d.dropped++
			d.log.Debug("dropping datagram from foreign source", "from", from, "dropped", d.dropped)
			continue
		}
		d.pending = d.buf[:n]
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// peerWriter sends on an unconnected socket to the adopted peer.
type peerWriter struct {
	uc   *net.UDPConn
	peer netip.AddrPort
}

func (w peerWriter) Write(p []byte) (int, error) {
	return w.uc.WriteToUDPAddrPort(p, w.peer)
}
