// Package mqtt is the MQTT transport of the gateway. Every delivered message
// is one inbound message; MQTT has no reply channel, so results are only
// logged and counted.
package mqtt

import (
	"context"
	"fmt"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgeflare/sensorhub/pkg/gateway"
	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/edgeflare/sensorhub/pkg/mqtt"
	"go.uber.org/zap"
)

// Options configures the adapter.
type Options struct {
	mqtt.Options `mapstructure:",squash"`
	// Enabled starts the adapter with the serve command.
	Enabled bool `mapstructure:"enabled"`
	// Topics are the subscription filters. Topics are read as {table}/{id}.
	Topics []string `mapstructure:"topics"`
	QoS    byte     `mapstructure:"qos"`
	// RetainedOnly stores retained messages only; others are broadcast to
	// subscribers without being written.
	RetainedOnly bool `mapstructure:"retainedOnly"`
}

// DefaultTopics is subscribed when Options.Topics is empty.
var DefaultTopics = []string{"Sensors/#"}

// subscriber is the subset of *mqtt.Client the adapter uses.
type subscriber interface {
	Subscribe(topic string, qos byte, callback paho.MessageHandler) error
	Disconnect()
}

// Adapter feeds MQTT messages into a gateway.
type Adapter struct {
	gw     *gateway.Gateway
	client subscriber
	logger *zap.Logger
	opts   Options
}

// New returns an adapter that is not yet connected.
func New(gw *gateway.Gateway, opts Options, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.Topics) == 0 {
		opts.Topics = DefaultTopics
	}
	return &Adapter{gw: gw, opts: opts, logger: logger}
}

// Start connects to the broker and subscribes to every topic. Messages are
// handled with ctx until Stop.
func (a *Adapter) Start(ctx context.Context) error {
	if a.opts.QoS > 2 {
		return fmt.Errorf("invalid qos %d", a.opts.QoS)
	}
	client, err := mqtt.Dial(a.opts.Options, "sensorhub-gateway", a.logger)
	if err != nil {
		return err
	}
	return a.subscribe(ctx, client)
}

func (a *Adapter) subscribe(ctx context.Context, client subscriber) error {
	a.client = client
	onMessage := func(_ paho.Client, m paho.Message) {
		a.handle(ctx, m.Topic(), m.Payload(), m.Retained())
	}
	for _, topic := range a.opts.Topics {
		if err := client.Subscribe(topic, a.opts.QoS, onMessage); err != nil {
			client.Disconnect()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		a.logger.Info("subscribed", zap.String("topic", topic), zap.Uint8("qos", a.opts.QoS))
	}
	return nil
}

// Stop disconnects from the broker.
func (a *Adapter) Stop() {
	if a.client != nil {
		a.client.Disconnect()
	}
}

func (a *Adapter) handle(ctx context.Context, topic string, payload []byte, retained bool) {
	table, id := TopicTarget(topic)
	msg := ingest.RawMessage{
		Transport:  ingest.TransportMQTT,
		Table:      table,
		TargetHint: id,
		Bytes:      payload,
		Ephemeral:  a.opts.RetainedOnly && !retained,
	}

	out, err := a.gw.Handle(ctx, msg)
	if err != nil {
		a.logger.Warn("message dropped",
			zap.String("topic", topic),
			zap.String("kind", string(gateway.KindOf(err))),
			zap.Error(err))
		return
	}
	a.logger.Debug("message handled",
		zap.String("topic", topic),
		zap.String("target", out.Mutation.Key()),
		zap.Bool("stored", out.Stored))
}

// TopicTarget reads a topic as {table}/{id}. With deeper topics the last two
// segments are used; a single segment names only the table.
func TopicTarget(topic string) (table, id string) {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[len(parts)-2], parts[len(parts)-1]
	}
}
