// Package events publishes workflow notifications over MQTT so that
// dashboards and line controllers can follow a cycle.
package events

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gwillem/bladeloader/pkg/config"
)

const (
	defaultTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
	keepAlive         = 30 * time.Second
	maxQoS            = 2
)

var (
	ErrConnectionFailed = errors.New("mqtt connection failed")
	ErrNotConnected     = errors.New("mqtt not connected")
	ErrPublishFailed    = errors.New("mqtt publish failed")
	ErrInvalidTopic     = errors.New("mqtt topic empty")
)

// Publisher sends one message.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// Client is a publish-only MQTT connection.
type Client struct {
	client    pahomqtt.Client
	topics    Topics
	qos       byte
	timeout   time.Duration
	clientID  string
	connected atomic.Bool
	logger    *slog.Logger
}

// Connect opens a connection to cfg.Broker and announces the client as
// online. A last will marks it offline when the connection drops.
func Connect(cfg config.MQTTConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.QoS > maxQoS {
		return nil, fmt.Errorf("%w: qos %d", ErrConnectionFailed, cfg.QoS)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		topics:   NewTopics(cfg.TopicPrefix),
		qos:      cfg.QoS,
		timeout:  timeout,
		clientID: cfg.ClientID,
		logger:   logger.With("component", "mqtt"),
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(timeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(c.topics.Status(), statusPayload(cfg.ClientID, "offline"), 1, true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		c.connected.Store(true)
		c.logger.Info("connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.connected.Store(false)
		c.logger.Warn("connection lost", "error", err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.connected.Store(true)

	if err := c.Publish(c.topics.Status(), []byte(statusPayload(cfg.ClientID, "online")), true); err != nil {
		c.logger.Warn("publish status", "error", err)
	}
	return c, nil
}

// Topics returns the topic builder of this client.
func (c *Client) Topics() Topics { return c.topics }

// Publish sends payload to topic and waits for the broker.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, c.qos, retained, payload)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, c.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnected()
}

// Close announces a graceful shutdown and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(c.topics.Status(), c.qos, true, statusPayload(c.clientID, "offline"))
		token.WaitTimeout(c.timeout)
	}
	c.client.Disconnect(disconnectQuiesce)
	c.connected.Store(false)
	return nil
}

func statusPayload(clientID, status string) string {
	return fmt.Sprintf(`{"status":%q,"client_id":%q,"timestamp":%q}`,
		status, clientID, time.Now().UTC().Format(time.RFC3339))
}
