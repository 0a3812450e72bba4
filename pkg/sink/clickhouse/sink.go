package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/sink"
	"go.uber.org/zap"
)

// Config is the ClickHouse sink configuration.
type Config struct {
	Addr        []string `json:"addr"`
	Database    string   `json:"database"`
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Table       string   `json:"table"`
	DialTimeout string   `json:"dialTimeout"`
	// CreateTable issues CREATE TABLE IF NOT EXISTS on connect.
	CreateTable *bool `json:"createTable"`
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c *Config) setDefaults() error {
	if len(c.Addr) == 0 {
		c.Addr = []string{"localhost:9000"}
	}
	if c.Database == "" {
		c.Database = "default"
	}
	if c.Username == "" {
		c.Username = "default"
	}
	if c.Table == "" {
		c.Table = "sensor_readings"
	}
	if c.DialTimeout == "" {
		c.DialTimeout = "10s"
	}
	if c.CreateTable == nil {
		create := true
		c.CreateTable = &create
	}
	for _, name := range []string{c.Database, c.Table} {
		if !identifier.MatchString(name) {
			return fmt.Errorf("invalid identifier %q", name)
		}
	}
	return nil
}

func (c *Config) options() (*clickhouse.Options, error) {
	timeout, err := time.ParseDuration(c.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dialTimeout: %w", err)
	}
	return &clickhouse.Options{
		Addr: c.Addr,
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		DialTimeout: timeout,
	}, nil
}

// execer is the subset of driver.Conn the sink uses.
type execer interface {
	Exec(ctx context.Context, query string, args ...any) error
	Close() error
}

// SinkClickHouse appends one row per committed event, keeping the full
// history of every record.
type SinkClickHouse struct {
	conn   execer
	logger *zap.Logger
	config Config
	insert string
}

func (s *SinkClickHouse) Connect(config json.RawMessage, logger *zap.Logger) error {
	var cfg Config
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return fmt.Errorf("failed to parse ClickHouse config: %w", err)
		}
	}
	if err := cfg.setDefaults(); err != nil {
		return err
	}
	opts, err := cfg.options()
	if err != nil {
		return err
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	s.logger = logger
	return s.init(ctx, conn, cfg)
}

func (s *SinkClickHouse) init(ctx context.Context, conn execer, cfg Config) error {
	s.conn = conn
	s.config = cfg
	s.insert = insertStatement(cfg.Database, cfg.Table)

	if *cfg.CreateTable {
		if err := conn.Exec(ctx, createStatement(cfg.Database, cfg.Table)); err != nil {
			return fmt.Errorf("failed to create table %s.%s: %w", cfg.Database, cfg.Table, err)
		}
	}
	return nil
}

func createStatement(database, table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	table_name  LowCardinality(String),
	record_id   String,
	op          LowCardinality(String),
	fields      String,
	annotations String,
	ts          DateTime64(3)
) ENGINE = MergeTree
ORDER BY (table_name, record_id, ts)`, database, table)
}

func insertStatement(database, table string) string {
	return fmt.Sprintf(`INSERT INTO %s.%s (table_name, record_id, op, fields, annotations, ts) VALUES (?, ?, ?, ?, ?, ?)`, database, table)
}

func (s *SinkClickHouse) Pub(ctx context.Context, event broker.Event) error {
	if s.conn == nil {
		return sink.ErrNotConnected
	}

	annotations := "{}"
	if len(event.Annotations) > 0 {
		data, err := json.Marshal(event.Annotations)
		if err != nil {
			return fmt.Errorf("failed to marshal annotations: %w", err)
		}
		annotations = string(data)
	}

	fields := string(event.Value)
	if fields == "" {
		fields = "{}"
	}

	err := s.conn.Exec(ctx, s.insert,
		event.Table,
		event.ID,
		string(event.Type),
		fields,
		annotations,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert into ClickHouse: %w", err)
	}

	s.logger.Debug("inserted reading", zap.String("table", event.Table), zap.String("id", event.ID))
	return nil
}

func (s *SinkClickHouse) Disconnect() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func init() {
	sink.RegisterConnector(sink.ConnectorClickHouse, func() sink.Connector { return &SinkClickHouse{} })
}
