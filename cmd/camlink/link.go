package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/camlink/certs"
	"github.com/zsiec/camlink/config"
	"github.com/zsiec/camlink/control"
	"github.com/zsiec/camlink/internal/metrics"
	"github.com/zsiec/camlink/internal/status"
	"github.com/zsiec/camlink/transport"
)

// certValidity matches the lifetime browsers accept for pinned
// self-signed certificates.
const certValidity = 14 * 24 * time.Hour

// commonFlags are the connection flags shared by send and receive. Flags
// override the config file and environment only when set.
type commonFlags struct {
	configPath  string
	mode        string
	data        string
	controlAddr string
	listen      bool
	streamID    string
	metricsAddr string
	mqttBroker  string
}

func (f *commonFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	fl.StringVarP(&f.mode, "mode", "m", "", "Framing mode: plain or tagged (aliases: raw_tcp, android, android_motion, android_dimon)")
	fl.StringVarP(&f.data, "data", "d", "", "Data endpoint, e.g. tcp://10.0.0.2:6000 or quic://0.0.0.0:6000")
	fl.StringVar(&f.controlAddr, "control", "", "Dedicated tcp control endpoint (default: share the data link)")
	fl.BoolVarP(&f.listen, "listen", "l", false, "Listen for the peer instead of dialing it")
	fl.StringVar(&f.streamID, "stream-id", "", "SRT stream id")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve /metrics and /api on this address")
	fl.StringVar(&f.mqttBroker, "mqtt-broker", "", "MQTT broker carrying control lines")
}

func (f *commonFlags) load(cmd *cobra.Command, role config.Role, extra func(*config.Config)) (*config.Config, error) {
	fl := cmd.Flags()
	return config.Load(f.configPath, role, func(c *config.Config) {
		if fl.Changed("mode") {
			c.Mode = f.mode
		}
		if fl.Changed("data") {
			c.Data = f.data
		}
		if fl.Changed("control") {
			c.Control = f.controlAddr
		}
		if fl.Changed("listen") {
			c.Listen = f.listen
		}
		if fl.Changed("stream-id") {
			c.StreamID = f.streamID
		}
		if fl.Changed("metrics-addr") {
			c.MetricsAddr = f.metricsAddr
		}
		if fl.Changed("mqtt-broker") {
			c.MQTT.Broker = f.mqttBroker
		}
		if extra != nil {
			extra(c)
		}
	})
}

// link is the runtime state both endpoints share: metrics, the optional
// QUIC certificate and the data connection once it is up.
type link struct {
	cfg     *config.Config
	log     *slog.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	cert    *certs.CertInfo
	conn    atomic.Pointer[transport.Conn]
}

func newLink(cfg *config.Config, role config.Role, log *slog.Logger) (*link, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	l := &link{
		cfg:     cfg,
		log:     log,
		reg:     reg,
		metrics: metrics.New(reg, string(role)),
	}

	ep, err := cfg.DataEndpoint()
	if err != nil {
		return nil, err
	}
	if ep.Scheme == transport.SchemeQUIC && cfg.Listen {
		log.Info("generating self-signed certificate")
		cert, err := certs.Generate(certValidity)
		if err != nil {
			return nil, fmt.Errorf("generate certificate: %w", err)
		}
		log.Info("certificate generated",
			"fingerprint", cert.FingerprintBase64(),
			"expires", cert.NotAfter.Format(time.RFC3339),
		)
		l.cert = cert
	}
	return l, nil
}

func (l *link) options(receiveTimeout time.Duration) transport.Options {
	opts := l.cfg.TransportOptions()
	opts.ReceiveTimeout = receiveTimeout
	opts.Cert = l.cert
	opts.Logger = l.log
	return opts
}

// open establishes the data connection.
func (l *link) open(ctx context.Context, receiveTimeout time.Duration) (*transport.Conn, error) {
	ep, err := l.cfg.DataEndpoint()
	if err != nil {
		return nil, err
	}
	opts := l.options(receiveTimeout)
	opts.OnState = func(s transport.State) { l.metrics.ConnState(int(s)) }

	conn, err := transport.Open(ctx, ep, l.cfg.Listen, opts)
	if err != nil {
		return nil, fmt.Errorf("open data link %s: %w", ep, err)
	}
	l.conn.Store(conn)
	return conn, nil
}

// controlChannel returns the dedicated control connection when one is
// configured, otherwise the data connection's own control channel. The
// channel is closed when ctx is done.
func (l *link) controlChannel(ctx context.Context, data *transport.Conn) (io.ReadWriteCloser, error) {
	ep, ok, err := l.cfg.ControlEndpoint()
	if err != nil {
		return nil, err
	}
	var ch io.ReadWriteCloser
	if ok {
		c, err := transport.Open(ctx, ep, l.cfg.Listen, l.options(0))
		if err != nil {
			return nil, fmt.Errorf("open control link %s: %w", ep, err)
		}
		ch = c
	} else if ch, err = data.ControlChannel(); err != nil {
		return nil, err
	}
	context.AfterFunc(ctx, func() { ch.Close() })
	return ch, nil
}

func (l *link) connStats() *transport.Stats {
	c := l.conn.Load()
	if c == nil {
		return nil
	}
	st := c.Stats()
	return &st
}

// counted records every command outcome in the metrics.
func (l *link) counted(h control.Handler) control.Handler {
	return control.HandlerFunc(func(ctx context.Context, cmd control.Command) error {
		err := h.HandleCommand(ctx, cmd)
		l.metrics.Command(cmd.Key, err)
		return err
	})
}

// serveStatus starts the status API in g when an address is configured.
func (l *link) serveStatus(ctx context.Context, g *errgroup.Group, stats status.StatsFunc, h control.Handler) {
	if l.cfg.MetricsAddr == "" {
		return
	}
	srv := status.New(status.Config{
		Addr:     l.cfg.MetricsAddr,
		Gatherer: l.reg,
		Stats:    stats,
		Control:  h,
		Cert:     l.cert,
		Logger:   l.log,
	})
	g.Go(func() error {
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("status API: %w", err)
		}
		return nil
	})
}

// runMQTT starts the MQTT control bridge in g when a broker is configured.
func (l *link) runMQTT(ctx context.Context, g *errgroup.Group, h control.Handler) {
	mc, ok := l.cfg.MQTTBridge()
	if !ok {
		return
	}
	bridge := control.NewMQTTBridge(mc, h, l.log)
	g.Go(func() error {
		if err := bridge.Run(ctx); err != nil {
			return fmt.Errorf("mqtt bridge: %w", err)
		}
		return nil
	})
}
