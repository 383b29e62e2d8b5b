// Package config loads endpoint settings from a YAML file, environment
// variables and defaults, in increasing order of precedence: defaults, file,
// environment. Command-line flags are applied on top by cmd/camlink.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/camlink/control"
	"github.com/zsiec/camlink/device"
	"github.com/zsiec/camlink/framing"
	"github.com/zsiec/camlink/motion"
	"github.com/zsiec/camlink/transport"
)

// Role selects which endpoint a Config is validated for.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete endpoint configuration.
type Config struct {
	// Mode is the framing mode name, e.g. "tagged" or "android".
	Mode string `yaml:"mode"`
	// Data is the data endpoint URL, e.g. "tcp://10.0.0.2:6000".
	Data string `yaml:"data"`
	// Control is an optional dedicated control endpoint. Empty shares the
	// data connection where the transport allows it.
	Control  string `yaml:"control"`
	Listen   bool   `yaml:"listen"`
	StreamID string `yaml:"stream_id"`

	MaxFrameSize int `yaml:"max_frame_size"`

	Timeouts TimeoutConfig `yaml:"timeouts"`
	Video    VideoConfig   `yaml:"video"`
	Motion   MotionConfig  `yaml:"motion"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	QUIC     QUICConfig    `yaml:"quic"`

	// MetricsAddr enables the status API (/metrics, /api/stats) when set.
	MetricsAddr string `yaml:"metrics_addr"`
}

// TimeoutConfig holds the receive timeout and the connect loop bounds.
type TimeoutConfig struct {
	Receive       time.Duration `yaml:"receive"`
	Attempt       time.Duration `yaml:"attempt"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
}

// VideoConfig describes the picture and the file-backed collaborators.
type VideoConfig struct {
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	FPS    float64 `yaml:"fps"`
	// Input is the Annex B file the sender replays.
	Input string `yaml:"input"`
	Loop  bool   `yaml:"loop"`
	// ChunkSize splits larger pictures into two encoder buffers.
	ChunkSize int `yaml:"chunk_size"`
	// Output is where the receiver writes the Annex B stream; "-" is
	// stdout.
	Output string `yaml:"output"`
	// Record is where the sender keeps a motion-gated copy of the stream.
	// Empty disables recording.
	Record string `yaml:"record"`
}

type MotionConfig struct {
	// Threshold arms the alarm at startup; zero leaves motion off.
	Threshold int `yaml:"threshold"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

type QUICConfig struct {
	// Fingerprint pins the listener certificate (base64 SHA-256).
	Fingerprint string        `yaml:"fingerprint"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// Default returns the built-in settings.
func Default() Config {
	opts := transport.DefaultOptions()
	return Config{
		Mode: "tagged",
		Data: "tcp://127.0.0.1:6000",
		Timeouts: TimeoutConfig{
			Receive:       opts.ReceiveTimeout,
			Attempt:       opts.AttemptTimeout,
			RetryInterval: opts.RetryInterval,
			MaxAttempts:   opts.MaxAttempts,
		},
		Video: VideoConfig{
			Width:  1280,
			Height: 720,
			FPS:    30,
			Output: "-",
		},
		MQTT: MQTTConfig{
			Topic:    "camlink/control",
			ClientID: "camlink",
		},
		QUIC: QUICConfig{IdleTimeout: opts.QUICIdleTimeout},
	}
}

// Load reads path over Default, applies environment overrides, then
// overrides in order, and validates the result for role. An empty path
// skips the file.
func Load(path string, role Role, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(&cfg)
	}
	if err := Validate(&cfg, role); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from CAMLINK_* variables.
func ApplyEnv(cfg *Config) error {
	cfg.Mode = envOr("CAMLINK_MODE", cfg.Mode)
	cfg.Data = envOr("CAMLINK_DATA", cfg.Data)
	cfg.Control = envOr("CAMLINK_CONTROL", cfg.Control)
	cfg.MetricsAddr = envOr("CAMLINK_METRICS_ADDR", cfg.MetricsAddr)
	cfg.MQTT.Broker = envOr("CAMLINK_MQTT_BROKER", cfg.MQTT.Broker)
	if v := os.Getenv("CAMLINK_LISTEN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CAMLINK_LISTEN: %w", err)
		}
		cfg.Listen = b
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks cfg for role. The UDP transport only carries data one
// way: senders dial, receivers listen.
func Validate(cfg *Config, role Role) error {
	if role != RoleSender && role != RoleReceiver {
		return invalid("unknown role %q", role)
	}
	if _, err := framing.ParseMode(cfg.Mode); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	ep, err := transport.ParseEndpoint(cfg.Data)
	if err != nil {
		return fmt.Errorf("%w: data endpoint: %w", ErrInvalid, err)
	}
	if ep.Scheme == transport.SchemeUDP {
		if role == RoleSender && cfg.Listen {
			return invalid("udp sender must connect, not listen")
		}
		if role == RoleReceiver && !cfg.Listen {
			return invalid("udp receiver must listen")
		}
	}
	if cfg.Control != "" {
		cep, err := transport.ParseEndpoint(cfg.Control)
		if err != nil {
			return fmt.Errorf("%w: control endpoint: %w", ErrInvalid, err)
		}
		if cep.Scheme != transport.SchemeTCP {
			return invalid("control endpoint must be tcp, got %s", cep.Scheme)
		}
	}
	if cfg.MaxFrameSize < 0 {
		return invalid("max_frame_size %d is negative", cfg.MaxFrameSize)
	}
	t := cfg.Timeouts
	if t.Receive < 0 || t.Attempt < 0 || t.RetryInterval < 0 {
		return invalid("timeouts must not be negative")
	}
	if t.MaxAttempts < 1 {
		return invalid("max_attempts must be at least 1, got %d", t.MaxAttempts)
	}
	if cfg.Motion.Threshold < 0 || cfg.Motion.Threshold > 255 {
		return invalid("motion threshold %d outside 0..255", cfg.Motion.Threshold)
	}
	if role == RoleSender {
		if cfg.Video.Width <= 0 || cfg.Video.Height <= 0 {
			return invalid("video size %dx%d", cfg.Video.Width, cfg.Video.Height)
		}
		if cfg.Video.Input == "" {
			return invalid("video input file is required")
		}
		if cfg.Video.ChunkSize < 0 {
			return invalid("chunk_size %d is negative", cfg.Video.ChunkSize)
		}
	}
	if cfg.MQTT.Broker != "" && cfg.MQTT.Topic == "" {
		return invalid("mqtt topic is required with a broker")
	}
	return nil
}

// FramingMode returns the parsed Mode.
func (c *Config) FramingMode() framing.Mode {
	m, _ := framing.ParseMode(c.Mode)
	return m
}

// DataEndpoint returns the parsed data endpoint.
func (c *Config) DataEndpoint() (transport.Endpoint, error) {
	return transport.ParseEndpoint(c.Data)
}

// ControlEndpoint returns the dedicated control endpoint, if configured.
func (c *Config) ControlEndpoint() (transport.Endpoint, bool, error) {
	if c.Control == "" {
		return transport.Endpoint{}, false, nil
	}
	ep, err := transport.ParseEndpoint(c.Control)
	return ep, err == nil, err
}

// Grid is the motion vector layout of the configured picture size.
func (c *Config) Grid() motion.Grid {
	return motion.GridFor(c.Video.Width, c.Video.Height)
}

// TransportOptions builds the connect and receive settings. The caller
// fills in hooks and the logger.
func (c *Config) TransportOptions() transport.Options {
	opts := transport.DefaultOptions()
	opts.ReceiveTimeout = c.Timeouts.Receive
	opts.AttemptTimeout = c.Timeouts.Attempt
	opts.RetryInterval = c.Timeouts.RetryInterval
	opts.MaxAttempts = c.Timeouts.MaxAttempts
	opts.StreamID = c.StreamID
	opts.CertFingerprint = c.QUIC.Fingerprint
	if c.QUIC.IdleTimeout > 0 {
		opts.QUICIdleTimeout = c.QUIC.IdleTimeout
	}
	return opts
}

// FileEncoder returns the settings for the file-backed encoder.
func (c *Config) FileEncoder() device.FileEncoderConfig {
	return device.FileEncoderConfig{
		Path:      c.Video.Input,
		FPS:       c.Video.FPS,
		Loop:      c.Video.Loop,
		ChunkSize: c.Video.ChunkSize,
		Grid:      c.Grid(),
	}
}

// MQTTBridge returns the bridge settings, or false when no broker is set.
func (c *Config) MQTTBridge() (control.MQTTConfig, bool) {
	if c.MQTT.Broker == "" {
		return control.MQTTConfig{}, false
	}
	return control.MQTTConfig{
		Broker:   c.MQTT.Broker,
		Topic:    c.MQTT.Topic,
		ClientID: c.MQTT.ClientID,
		QoS:      c.MQTT.QoS,
	}, true
}
