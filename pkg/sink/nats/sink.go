package nats

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/sink"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SinkNATS publishes events to a JetStream stream.
type SinkNATS struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
	Config Config
}

// Config represents NATS configuration
type Config struct {
	Servers       []string `json:"servers"`
	Stream        string   `json:"stream"`
	SubjectPrefix string   `json:"subjectPrefix"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	TLS           struct {
		Enabled  bool   `json:"enabled"`
		CertFile string `json:"certFile,omitempty"`
		KeyFile  string `json:"keyFile,omitempty"`
		CAFile   string `json:"caFile,omitempty"`
	} `json:"tls,omitempty"`
}

// Connect establishes a connection to the NATS server and ensures the stream exists.
func (s *SinkNATS) Connect(config json.RawMessage, logger *zap.Logger) error {
	s.logger = cmp.Or(logger, zap.NewNop())

	if err := json.Unmarshal(config, &s.Config); err != nil {
		return fmt.Errorf("unmarshal NATS config: %w", err)
	}

	// Set defaults
	if len(s.Config.Servers) == 0 {
		s.Config.Servers = []string{nats.DefaultURL}
	}
	s.Config.SubjectPrefix = cmp.Or(s.Config.SubjectPrefix, "sensorhub")
	s.Config.Stream = cmp.Or(s.Config.Stream, fmt.Sprintf("%s-stream", s.Config.SubjectPrefix))

	opts := defaultOptions(s.Config)

	// Connect to first available server
	var err error
	for _, server := range s.Config.Servers {
		s.nc, err = nats.Connect(server, opts...)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("connect to NATS server: %w", err)
	}

	if s.js, err = s.nc.JetStream(); err != nil {
		s.nc.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}

	if err := s.ensureStream(); err != nil {
		s.nc.Close()
		return fmt.Errorf("ensure stream: %w", err)
	}
	return nil
}

// Subject returns the subject an event is published on: {prefix}.{table}.{type}
func Subject(prefix string, event broker.Event) string {
	return fmt.Sprintf("%s.%s.%s", prefix, event.Table, event.Type)
}

// Pub publishes an event to JetStream.
func (s *SinkNATS) Pub(ctx context.Context, event broker.Event) error {
	if s.js == nil {
		return sink.ErrNotConnected
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(Subject(s.Config.SubjectPrefix, event))
	msg.Data = data
	msg.Header.Set("Sensorhub-Id", event.ID)

	if _, err := s.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Disconnect closes the NATS connection
func (s *SinkNATS) Disconnect() error {
	if s.nc != nil {
		return s.nc.Drain()
	}
	return nil
}

// ensureStream creates or updates the stream
func (s *SinkNATS) ensureStream() error {
	config := &nats.StreamConfig{
		Name:     s.Config.Stream,
		Subjects: []string{s.Config.SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
		Replicas: 1,
	}

	stream, err := s.js.StreamInfo(s.Config.Stream)
	if err == nil {
		if !streamConfigEqual(stream.Config, *config) {
			if _, err = s.js.UpdateStream(config); err != nil {
				return fmt.Errorf("update stream: %w", err)
			}
			s.logger.Info("updated stream", zap.String("stream", s.Config.Stream))
		}
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("get stream info: %w", err)
	}

	if _, err := s.js.AddStream(config); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	s.logger.Info("created stream", zap.String("stream", s.Config.Stream))
	return nil
}

// streamConfigEqual checks if two nats.StreamConfig are equivalent
func streamConfigEqual(a, b nats.StreamConfig) bool {
	if a.Name != b.Name || a.Storage != b.Storage || a.Replicas != b.Replicas {
		return false
	}

	if len(a.Subjects) != len(b.Subjects) {
		return false
	}

	for i := range a.Subjects {
		if a.Subjects[i] != b.Subjects[i] {
			return false
		}
	}
	return true
}

func defaultOptions(c Config) []nats.Option {
	opts := []nats.Option{
		nats.Name("sensorhub"),
		nats.Timeout(5 * time.Second),
		nats.PingInterval(10 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.MaxReconnects(-1),
	}

	if c.Username != "" && c.Password != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}

	if c.TLS.Enabled {
		if c.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(c.TLS.CAFile))
		}
		if c.TLS.CertFile != "" && c.TLS.KeyFile != "" {
			opts = append(opts, nats.ClientCert(c.TLS.CertFile, c.TLS.KeyFile))
		}
	}

	return opts
}

func init() {
	sink.RegisterConnector(sink.ConnectorNATS, func() sink.Connector { return &SinkNATS{} })
}
