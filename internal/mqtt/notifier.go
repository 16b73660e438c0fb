package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultKeepAlive    = 30 * time.Second
	defaultConnectRetry = 5 * time.Second
	publishTimeout      = 2 * time.Second
)

// Config holds connection parameters for the event broker.
type Config struct {
	BrokerHost   string
	BrokerPort   int
	Username     string
	Password     string
	Topic        string
	ClientID     string
	KeepAlive    time.Duration
	ReconnectGap time.Duration
}

func (c *Config) normalise() {
	if c.KeepAlive == 0 {
		c.KeepAlive = defaultKeepAlive
	}
	if c.ReconnectGap == 0 {
		c.ReconnectGap = defaultConnectRetry
	}
	if c.Topic == "" {
		c.Topic = "zigbridge/events/commit"
	}
	if c.ClientID == "" {
		c.ClientID = "zigbridge-notifier"
	}
}

func (c Config) validate() error {
	if strings.TrimSpace(c.BrokerHost) == "" {
		return errors.New("mqtt: broker host must be provided")
	}
	if c.BrokerPort <= 0 {
		return errors.New("mqtt: broker port must be positive")
	}
	return nil
}

// CommitEvent is the published summary of one persisted transaction.
type CommitEvent struct {
	Classes    uint32 `json:"classes"`
	Rows       int    `json:"rows"`
	DurationMS int64  `json:"duration_ms"`
	Timestamp  int64  `json:"timestamp"`
}

// Notifier publishes commit summaries to an MQTT broker so external
// automation can react to persisted state changes.
type Notifier struct {
	cfg    Config
	logger *slog.Logger
	client mqtt.Client

	stopOnce sync.Once
}

// NewNotifier creates a Notifier with the given configuration.
func NewNotifier(cfg Config, logger *slog.Logger) (*Notifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.normalise()
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{cfg: cfg, logger: logger}, nil
}

// Start connects to the broker. The connection retries in the
// background until Stop is called.
func (n *Notifier) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", n.cfg.BrokerHost, n.cfg.BrokerPort))
	opts.SetClientID(n.cfg.ClientID)
	opts.SetKeepAlive(n.cfg.KeepAlive)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(n.cfg.ReconnectGap)
	opts.SetAutoReconnect(true)

	if n.cfg.Username != "" {
		opts.SetUsername(n.cfg.Username)
		opts.SetPassword(n.cfg.Password)
	}

	opts.OnConnect = func(mqtt.Client) {
		n.logger.Info("event notifier connected",
			slog.String("broker", n.cfg.BrokerHost),
			slog.String("topic", n.cfg.Topic))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		n.logger.Warn("event notifier connection lost", slog.Any("error", err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect failed: %w", err)
	}

	n.client = client
	return nil
}

// Publish sends one commit event. Events are best effort; a slow or
// absent broker never blocks the commit path for long.
func (n *Notifier) Publish(ev CommitEvent) {
	if n.client == nil || !n.client.IsConnected() {
		return
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("event notifier marshal failed", slog.Any("error", err))
		return
	}
	token := n.client.Publish(n.cfg.Topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		n.logger.Warn("event notifier publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		n.logger.Warn("event notifier publish failed", slog.Any("error", err))
	}
}

// Stop terminates the broker session.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() {
		if n.client != nil && n.client.IsConnected() {
			n.client.Disconnect(250)
		}
	})
}
