package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/edgeflare/sensorhub/pkg/broker"
	"go.uber.org/zap"
)

// A Connector delivers committed events to one outbound destination.
type Connector interface {
	// Connect initializes the connector with the provided configuration.
	// The config parameter is a raw JSON message containing connector-specific settings.
	Connect(config json.RawMessage, logger *zap.Logger) error

	// Pub sends the given event to the connector's destination.
	// It returns an error if the publish operation fails.
	Pub(ctx context.Context, event broker.Event) error

	Disconnect() error
}

// Predefined connectors
const (
	ConnectorClickHouse = "clickhouse"
	ConnectorDebug      = "debug"
	ConnectorWebhook    = "webhook"
	ConnectorKafka      = "kafka"
	ConnectorMQTT       = "mqtt"
	ConnectorNATS       = "nats"
)

var (
	ErrNotConnected = errors.New("connector not connected")

	connectors = make(map[string]func() Connector)
	mu         sync.RWMutex
)

// RegisterConnector adds a connector factory to the registry. Each configured
// sink gets its own Connector from the factory.
func RegisterConnector(name string, factory func() Connector) {
	mu.Lock()
	defer mu.Unlock()
	connectors[name] = factory
}

// NewConnector returns a fresh Connector registered under name.
func NewConnector(name string) (Connector, error) {
	mu.RLock()
	factory, ok := connectors[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("connector %s not found", name)
	}
	return factory(), nil
}

// Connectors lists the registered connector names.
func Connectors() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(connectors))
	for name := range connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
