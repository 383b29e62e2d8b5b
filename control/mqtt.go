package control

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig locates the broker topic that carries control lines.
type MQTTConfig struct {
	Broker   string // host:port or a full tcp:// URL
	Topic    string
	ClientID string
	QoS      byte
}

// MQTTBridge feeds control lines published to an MQTT topic into a Handler,
// alongside the socket control channel. A message may hold several lines.
// The handler must be safe for concurrent use with any other Serve loop.
type MQTTBridge struct {
	cfg MQTTConfig
	h   Handler
	log *slog.Logger
}

// NewMQTTBridge returns a bridge. If log is nil, slog.Default() is used.
func NewMQTTBridge(cfg MQTTConfig, h Handler, log *slog.Logger) *MQTTBridge {
	if log == nil {
		log = slog.Default()
	}
	return &MQTTBridge{cfg: cfg, h: h, log: log.With("component", "mqtt-control")}
}

// Run connects, subscribes and blocks until ctx is cancelled. The client
// reconnects on its own after the first successful connection.
func (b *MQTTBridge) Run(ctx context.Context) error {
	broker := b.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(b.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.log.Warn("mqtt connection lost", "error", err)
	}
	// Subscriptions do not survive a clean-session reconnect.
	opts.OnConnect = func(c mqtt.Client) {
		if err := b.subscribe(ctx, c); err != nil {
			b.log.Warn("mqtt subscribe failed", "error", err)
		}
	}

	client := mqtt.NewClient(opts)
	b.log.Info("connecting to mqtt broker", "broker", broker, "topic", b.cfg.Topic)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control: mqtt connect to %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: mqtt connect to %s: %w", broker, err)
	}

	<-ctx.Done()
	client.Unsubscribe(b.cfg.Topic).WaitTimeout(time.Second)
	client.Disconnect(250)
	return nil
}

func (b *MQTTBridge) subscribe(ctx context.Context, c mqtt.Client) error {
	token := c.Subscribe(b.cfg.Topic, b.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		b.handlePayload(ctx, msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", b.cfg.Topic)
	}
	return token.Error()
}

func (b *MQTTBridge) handlePayload(ctx context.Context, payload []byte) {
	sc := bufio.NewScanner(bytes.NewReader(payload))
	for sc.Scan() {
		dispatch(ctx, sc.Text(), b.h, b.log)
	}
}
