package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zsiec/camlink/certs"
	"github.com/zsiec/camlink/internal/retry"
)

// Defaults for the connect loop and the receive timeout.
const (
	DefaultReceiveTimeout = 3 * time.Second
	DefaultAttemptTimeout = time.Second
	DefaultRetryInterval  = 100 * time.Millisecond
	DefaultMaxAttempts    = 10_000_000
)

// Options tunes Listen and Dial. The zero value is usable; DefaultOptions
// fills in the documented defaults.
type Options struct {
	// ReceiveTimeout bounds every read on the data direction. Zero disables
	// it, which endpoints that only write data should use.
	ReceiveTimeout time.Duration

	AttemptTimeout time.Duration
	RetryInterval  time.Duration
	MaxAttempts    int

	// StreamID is sent by SRT callers and, when set on a listener, required
	// of them.
	StreamID string

	// Cert is presented by QUIC listeners; one is generated when nil.
	Cert *certs.CertInfo
	// CertFingerprint pins the QUIC listener's certificate (base64 SHA-256).
	CertFingerprint string
	QUICIdleTimeout time.Duration

	// OnState observes lifecycle transitions.
	OnState func(State)
	// OnListen receives the bound address once a listener is up, before it
	// waits for the peer.
	OnListen func(addr string)
	Logger  *slog.Logger
}

// DefaultOptions returns the options camlink endpoints start from.
func DefaultOptions() Options {
	return Options{
		ReceiveTimeout:  DefaultReceiveTimeout,
		AttemptTimeout:  DefaultAttemptTimeout,
		RetryInterval:   DefaultRetryInterval,
		MaxAttempts:     DefaultMaxAttempts,
		QUICIdleTimeout: 30 * time.Second,
	}
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o Options) notify(s State) {
	if o.OnState != nil {
		o.OnState(s)
	}
}

func (o Options) listening(scheme Scheme, addr string, attrs ...any) {
	o.logger().Info("listening", append([]any{"addr", addr, "scheme", string(scheme)}, attrs...)...)
	if o.OnListen != nil {
		o.OnListen(addr)
	}
}

func (o Options) retryPolicy() retry.Policy {
	return retry.Policy{
		AttemptTimeout: o.AttemptTimeout,
		Interval:       o.RetryInterval,
		MaxAttempts:    o.MaxAttempts,
		Retryable:      IsRetryable,
		Logger:         o.logger().With("component", "dial"),
	}
}

// Listen binds ep, waits for exactly one peer and returns the connection.
// No further peers are accepted. It returns early if ctx is cancelled.
func Listen(ctx context.Context, ep Endpoint, opts Options) (*Conn, error) {
	opts.notify(StateListening)
	var (
		c   *Conn
		err error
	)
	switch ep.Scheme {
	case SchemeTCP:
		c, err = listenTCP(ctx, ep, opts)
	case SchemeUDP:
		c, err = listenUDP(ctx, ep, opts)
	case SchemeSRT:
		c, err = listenSRT(ctx, ep, opts)
	case SchemeQUIC:
		c, err = listenQUIC(ctx, ep, opts)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedScheme, ep.Scheme)
	}
	return established(c, err, opts)
}

// Dial connects to ep, retrying refused, unreachable and timed-out attempts
// per opts.
func Dial(ctx context.Context, ep Endpoint, opts Options) (*Conn, error) {
	opts.notify(StateConnecting)
	var (
		c   *Conn
		err error
	)
	switch ep.Scheme {
	case SchemeTCP:
		c, err = dialTCP(ctx, ep, opts)
	case SchemeUDP:
		c, err = dialUDP(ctx, ep, opts)
	case SchemeSRT:
		c, err = dialSRT(ctx, ep, opts)
	case SchemeQUIC:
		c, err = dialQUIC(ctx, ep, opts)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedScheme, ep.Scheme)
	}
	return established(c, err, opts)
}

// Open listens or dials depending on listen.
func Open(ctx context.Context, ep Endpoint, listen bool, opts Options) (*Conn, error) {
	if listen {
		return Listen(ctx, ep, opts)
	}
	return Dial(ctx, ep, opts)
}

func established(c *Conn, err error, opts Options) (*Conn, error) {
	if err != nil {
		opts.notify(StateClosed)
		return nil, err
	}
	c.onClose = func() { opts.notify(StateClosed) }
	opts.notify(StateConnected)
	opts.logger().Info("connected", "scheme", string(c.scheme), "remote", c.RemoteAddr())
	return c, nil
}
