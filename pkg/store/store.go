// Package store is the storage collaborator of the gateway. Every accepted,
// non-ephemeral mutation is written exactly once through a Store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/edgeflare/sensorhub/pkg/ingest"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Get for a record that does not exist.
var ErrNotFound = errors.New("record not found")

// Store persists records keyed by table and id.
//
// Write applies op to the record: OpPut replaces its fields, OpUpdate merges
// fields into it (creating it when absent) and OpDelete removes it. The
// returned Record is the committed state; for deletes it is the last known state.
type Store interface {
	Write(ctx context.Context, table, id string, fields map[string]any, op ingest.Operation) (Record, error)
	Get(ctx context.Context, table, id string) (Record, error)
	Close() error
}

// Record is a stored record.
type Record struct {
	UpdatedAt time.Time
	Fields    map[string]any
	Table     string
	ID        string
}

// UpdatedTimeField carries the commit time in epoch milliseconds in the JSON form of a Record.
const UpdatedTimeField = "__updatedtime__"

// MarshalJSON renders the record as its fields plus "id" and "__updatedtime__".
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+2)
	maps.Copy(out, r.Fields)
	out["id"] = r.ID
	if !r.UpdatedAt.IsZero() {
		out[UpdatedTimeField] = r.UpdatedAt.UnixMilli()
	}
	return json.Marshal(out)
}

// Error is a failure of the storage collaborator.
type Error struct {
	Err   error
	Op    ingest.Operation
	Table string
	ID    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, ingest.Key(e.Table, e.ID), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config selects and configures a Store driver.
type Config struct {
	Driver   string         `mapstructure:"driver"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// Open creates the Store named by cfg.Driver: "memory" (default), "redis" or "postgres".
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Driver {
	case "", "memory":
		logger.Info("using in-memory store")
		return NewMemory(), nil
	case "redis":
		s, err := NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		logger.Info("using redis store", zap.String("prefix", s.prefix))
		return s, nil
	case "postgres":
		s, err := NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		logger.Info("using postgres store", zap.String("table", cfg.Postgres.Table))
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// apply computes the fields of a record after op. existing is nil when the
// record does not exist. The result never aliases fields or existing.
func apply(existing, fields map[string]any, op ingest.Operation) (map[string]any, error) {
	switch op {
	case ingest.OpPut:
		return maps.Clone(nonNil(fields)), nil
	case ingest.OpUpdate:
		out := maps.Clone(nonNil(existing))
		maps.Copy(out, fields)
		return out, nil
	case ingest.OpDelete:
		return maps.Clone(nonNil(existing)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ingest.ErrUnsupportedOperation, op)
	}
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
