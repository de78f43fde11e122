// Package mqtt connects to an MQTT broker to read host states mirrored by
// statestream and to publish fired rules.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("mqtt client not connected")

// Config selects the broker and credentials.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// MessageHandler receives one message.
type MessageHandler func(topic string, payload []byte, retained bool)

// Client is a paho client that restores its subscriptions after a
// reconnect.
type Client struct {
	paho paho.Client
	qos  byte
	log  logger.Logger

	mu   sync.Mutex
	subs map[string]MessageHandler
}

// NewClient builds a client; call Connect before use. A random suffix keeps
// the client id unique per process.
func NewClient(cfg Config, log logger.Logger) *Client {
	c := &Client{
		qos:  cfg.QoS,
		log:  log.With(logger.String("component", "mqtt"), logger.String("broker", cfg.Broker)),
		subs: make(map[string]MessageHandler),
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "localtodo"
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID + "-" + uuid.NewString()[:8]).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warn("mqtt connection lost", logger.Error(err))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	c.paho = paho.NewClient(opts)
	return c
}

// Connect blocks until the broker accepts the connection or ctx ends.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := waitToken(ctx, c.paho.Connect()); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.paho.IsConnectionOpen()
}

// Disconnect closes the connection.
func (c *Client) Disconnect() {
	c.paho.Disconnect(disconnectQuiesce)
}

// Subscribe registers handler for topic. The subscription is re-sent on
// every reconnect.
func (c *Client) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if !c.paho.IsConnectionOpen() {
		return nil
	}
	if err := waitToken(ctx, c.paho.Subscribe(topic, c.qos, wrap(handler))); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe drops topic.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	if !c.paho.IsConnectionOpen() {
		return nil
	}
	return waitToken(ctx, c.paho.Unsubscribe(topic))
}

// Publish sends payload to topic.
func (c *Client) Publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	if !c.paho.IsConnectionOpen() {
		return ErrNotConnected
	}
	if err := waitToken(ctx, c.paho.Publish(topic, c.qos, retained, payload)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (c *Client) onConnect(client paho.Client) {
	c.mu.Lock()
	subs := make(map[string]MessageHandler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.Unlock()

	c.log.Info("mqtt connected", logger.Int("subscriptions", len(subs)))
	for topic, h := range subs {
		token := client.Subscribe(topic, c.qos, wrap(h))
		go func() {
			if token.WaitTimeout(connectTimeout) && token.Error() != nil {
				c.log.Error("failed to restore subscription",
					logger.String("topic", topic),
					logger.Error(token.Error()))
			}
		}()
	}
}

func wrap(h MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		h(msg.Topic(), msg.Payload(), msg.Retained())
	}
}

func waitToken(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
