package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/metrics"
	"go.uber.org/zap"
)

// Config is one configured outbound sink.
type Config struct {
	Name      string `mapstructure:"name"`
	Connector string `mapstructure:"connector"`
	// Config contains the connection config of the underlying library
	// eg github.com/IBM/sarama.Config, github.com/eclipse/paho.mqtt.golang.ClientOptions etc
	Config map[string]any `mapstructure:"config"`
	// Tables limits the sink to events of matching tables (glob). Empty means all.
	Tables []string `mapstructure:"tables"`
	// Buffer is the capacity of the sink's event channel. Defaults to 100.
	Buffer int `mapstructure:"buffer"`
}

type running struct {
	connector Connector
	ch        chan broker.Event
	cfg       Config
}

// Manager connects the configured sinks and feeds each one from its own
// buffered channel, so a slow destination never blocks the mutation path.
type Manager struct {
	logger *zap.Logger
	sinks  []*running
	mu     sync.RWMutex
	// MaxConnectTime bounds the retries of one sink's Connect.
	MaxConnectTime time.Duration
}

// NewManager returns a Manager with no sinks.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger, MaxConnectTime: 30 * time.Second}
}

// Init connects every configured sink, retrying each with exponential backoff.
// On failure the sinks connected so far are disconnected.
func (m *Manager) Init(ctx context.Context, configs []Config) error {
	m.logger.Info("initializing sinks", zap.Int("sinkCount", len(configs)))

	for _, cfg := range configs {
		if err := m.add(ctx, cfg); err != nil {
			m.Close()
			return err
		}
	}
	return nil
}

func (m *Manager) add(ctx context.Context, cfg Config) error {
	if cfg.Name == "" {
		cfg.Name = cfg.Connector
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 100
	}
	for _, pattern := range cfg.Tables {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("sink %s: invalid table pattern %q: %w", cfg.Name, pattern, err)
		}
	}

	connector, err := NewConnector(cfg.Connector)
	if err != nil {
		return fmt.Errorf("failed to add sink %s: %w", cfg.Name, err)
	}

	configJSON, err := json.Marshal(cfg.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config for sink %s: %w", cfg.Name, err)
	}

	logger := m.logger.With(zap.String("sink", cfg.Name), zap.String("connector", cfg.Connector))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxElapsedTime = m.MaxConnectTime

	connect := func() error {
		err := connector.Connect(configJSON, logger)
		if err != nil {
			logger.Warn("connect failed, retrying", zap.Error(err))
		}
		return err
	}
	if err := backoff.Retry(connect, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("failed to initialize connector %s: %w", cfg.Name, err)
	}

	m.mu.Lock()
	m.sinks = append(m.sinks, &running{
		connector: connector,
		ch:        make(chan broker.Event, cfg.Buffer),
		cfg:       cfg,
	})
	m.mu.Unlock()
	logger.Info("successfully connected sink")
	return nil
}

// Start runs one worker per sink until ctx is done.
func (m *Manager) Start(ctx context.Context, wg *sync.WaitGroup) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sinks {
		wg.Add(1)
		go m.process(ctx, wg, s)
	}
}

func (m *Manager) process(ctx context.Context, wg *sync.WaitGroup, s *running) {
	defer wg.Done()

	for {
		select {
		case event := <-s.ch:
			if err := s.connector.Pub(ctx, event); err != nil {
				metrics.SinkPublishErrors.WithLabelValues(s.cfg.Name).Inc()
				m.logger.Error("publish error",
					zap.String("sink", s.cfg.Name),
					zap.String("table", event.Table),
					zap.String("id", event.ID),
					zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Dispatch queues e on every sink whose table filter matches. A sink whose
// channel is full misses the event. After Close, Dispatch does nothing.
func (m *Manager) Dispatch(e broker.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sinks {
		if !s.accepts(e.Table) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			metrics.FanoutDropped.WithLabelValues("sink").Inc()
			m.logger.Warn("sink channel is full, event dropped",
				zap.String("sink", s.cfg.Name),
				zap.String("table", e.Table),
				zap.String("id", e.ID))
		}
	}
}

// Names returns the names of the connected sinks.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.cfg.Name)
	}
	return names
}

// Close disconnects every sink.
func (m *Manager) Close() {
	m.mu.Lock()
	sinks := m.sinks
	m.sinks = nil
	m.mu.Unlock()

	for _, s := range sinks {
		if err := s.connector.Disconnect(); err != nil {
			m.logger.Warn("disconnect failed", zap.String("sink", s.cfg.Name), zap.Error(err))
		}
	}
}

func (s *running) accepts(table string) bool {
	if len(s.cfg.Tables) == 0 {
		return true
	}
	return slices.ContainsFunc(s.cfg.Tables, func(pattern string) bool {
		ok, _ := filepath.Match(pattern, table)
		return ok
	})
}
