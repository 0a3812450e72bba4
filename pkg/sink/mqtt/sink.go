package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/mqtt"
	"github.com/edgeflare/sensorhub/pkg/sink"
	"go.uber.org/zap"
)

// Config is the MQTT sink configuration. TopicPrefix must differ from any
// topic the MQTT adapter subscribes to, or the gateway consumes its own output.
type Config struct {
	mqtt.Options
	TopicPrefix string `json:"topicPrefix"`
	QoS         byte   `json:"qos"`
	Retain      bool   `json:"retain"`
	Timeout     string `json:"timeout"`
}

// publisher is the subset of *mqtt.Client the sink needs.
type publisher interface {
	PublishTimeout(topic string, qos byte, retained bool, payload any, timeout time.Duration) error
	IsConnected() bool
	Disconnect()
}

// SinkMQTT republishes committed events to an MQTT broker.
type SinkMQTT struct {
	client  publisher
	logger  *zap.Logger
	config  Config
	timeout time.Duration
}

func (s *SinkMQTT) Connect(config json.RawMessage, logger *zap.Logger) error {
	var cfg Config
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("failed to unmarshal MQTT config: %w", err)
	}
	if err := cfg.setDefaults(); err != nil {
		return err
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := mqtt.Dial(cfg.Options, "sensorhub-sink", logger)
	if err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	s.client = client
	s.config = cfg
	s.timeout, _ = time.ParseDuration(cfg.Timeout)
	s.logger = logger
	return nil
}

func (c *Config) setDefaults() error {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "sensorhub/out/"
	}
	if !strings.HasSuffix(c.TopicPrefix, "/") {
		c.TopicPrefix += "/"
	}
	if c.QoS > 2 {
		return fmt.Errorf("invalid qos %d", c.QoS)
	}
	if c.Timeout == "" {
		c.Timeout = "5s"
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	return nil
}

// Topic returns {prefix}{table}/{id}.
func Topic(prefix string, event broker.Event) string {
	return prefix + event.Table + "/" + event.ID
}

func (s *SinkMQTT) Pub(_ context.Context, event broker.Event) error {
	if s.client == nil || !s.client.IsConnected() {
		return sink.ErrNotConnected
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := Topic(s.config.TopicPrefix, event)
	if err := s.client.PublishTimeout(topic, s.config.QoS, s.config.Retain, data, s.timeout); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	s.logger.Debug("published event", zap.String("topic", topic))
	return nil
}

func (s *SinkMQTT) Disconnect() error {
	if s.client != nil {
		s.client.Disconnect()
	}
	return nil
}

func init() {
	sink.RegisterConnector(sink.ConnectorMQTT, func() sink.Connector { return &SinkMQTT{} })
}
