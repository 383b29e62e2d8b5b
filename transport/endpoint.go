package transport

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Scheme selects the socket type carrying the byte stream.
type Scheme string

const (
	SchemeTCP  Scheme = "tcp"
	SchemeUDP  Scheme = "udp"
	SchemeSRT  Scheme = "srt"
	SchemeQUIC Scheme = "quic"
)

var (
	ErrUnsupportedScheme = errors.New("transport: unsupported scheme")
	ErrNotIPv4           = errors.New("transport: host must be an IPv4 address")
)

// Endpoint is an IPv4 socket address with its transport.
type Endpoint struct {
	Scheme Scheme
	Host   string // empty binds all interfaces when listening
	Port   int
}

// ParseEndpoint parses "scheme://a.b.c.d:port". A missing scheme means tcp.
func ParseEndpoint(s string) (Endpoint, error) {
	if !strings.Contains(s, "://") {
		s = "tcp://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("transport: parse endpoint %q: %w", s, err)
	}

	ep := Endpoint{Scheme: Scheme(strings.ToLower(u.Scheme))}
	switch ep.Scheme {
	case SchemeTCP, SchemeUDP, SchemeSRT, SchemeQUIC:
	default:
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return Endpoint{}, fmt.Errorf("transport: endpoint %q: %w", s, err)
	}
	if host != "" {
		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil || strings.Contains(host, ":") {
			return Endpoint{}, fmt.Errorf("%w: %q", ErrNotIPv4, host)
		}
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return Endpoint{}, fmt.Errorf("transport: endpoint %q: invalid port %q", s, port)
	}
	ep.Host = host
	ep.Port = p
	return ep, nil
}

// Addr returns "host:port" for the net and srt/quic packages.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return string(e.Scheme) + "://" + e.Addr()
}

// network returns the Go network name, pinned to IPv4.
func (e Endpoint) network() string {
	if e.Scheme == SchemeUDP {
		return "udp4"
	}
	return "tcp4"
}
