// Package mqtt wraps the paho client with zap logging and shared options.
package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Client is a paho client that logs through zap and turns tokens into errors.
type Client struct {
	opts   *paho.ClientOptions
	client paho.Client
	logger *zap.Logger
}

// NewClient creates a new MQTT client with the given options and logger.
func NewClient(opts *paho.ClientOptions, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{opts: opts, logger: logger}
}

// Dial builds paho options from o and connects.
func Dial(o Options, clientPrefix string, logger *zap.Logger) (*Client, error) {
	opts, err := o.ToPaho(clientPrefix)
	if err != nil {
		return nil, err
	}
	c := NewClient(opts, logger)
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect establishes a connection to the MQTT broker.
func (c *Client) Connect() error {
	c.client = paho.NewClient(c.opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("broker connection error: %w", token.Error())
	}
	c.logger.Info("connected to MQTT broker", zap.Strings("servers", c.servers()))
	return nil
}

// PublishTimeout sends a message to the specified MQTT topic and waits at
// most timeout for the broker to acknowledge it.
func (c *Client) PublishTimeout(topic string, qos byte, retained bool, payload any, timeout time.Duration) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s timed out after %s", topic, timeout)
	}
	if err := token.Error(); err != nil {
		c.logger.Error("publish error", zap.Error(err), zap.String("topic", topic))
		return err
	}
	c.logger.Debug("message published", zap.String("topic", topic))
	return nil
}

// Subscribe registers a callback for messages on the specified MQTT topic.
func (c *Client) Subscribe(topic string, qos byte, callback paho.MessageHandler) error {
	token := c.client.Subscribe(topic, qos, callback)
	token.Wait()
	if err := token.Error(); err != nil {
		c.logger.Error("subscribe error", zap.Error(err), zap.String("topic", topic))
		return fmt.Errorf("subscribe error: %w", err)
	}
	c.logger.Debug("subscribed to topic", zap.String("topic", topic))
	return nil
}

// IsConnected reports whether the underlying client is connected.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *Client) Disconnect() {
	if c.client == nil {
		return
	}
	c.client.Disconnect(250)
	c.logger.Info("disconnected from MQTT broker")
}

func (c *Client) servers() []string {
	brokers := make([]string, len(c.opts.Servers))
	for i, server := range c.opts.Servers {
		brokers[i] = server.String()
	}
	return brokers
}
