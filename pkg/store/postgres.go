package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig configures the PostgreSQL store.
type PostgresConfig struct {
	ConnString string `mapstructure:"connString"`
	// Table holding all records, created on open. Defaults to "records".
	Table string `mapstructure:"table"`
}

// Postgres is a Store backed by a single jsonb table:
//
//	(tbl text, id text, fields jsonb, updated_at timestamptz, PRIMARY KEY (tbl, id))
type Postgres struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgres connects to cfg.ConnString and creates the records table if needed.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.ConnString == "" {
		return nil, errors.New("postgres store: connString is required")
	}

	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping connection: %w", err)
	}

	s, err := NewPostgresFromPool(ctx, pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresFromPool creates a store on an existing pool.
func NewPostgresFromPool(ctx context.Context, pool *pgxpool.Pool, table string) (*Postgres, error) {
	if table == "" {
		table = "records"
	}
	s := &Postgres{pool: pool, table: pgx.Identifier{table}.Sanitize()}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	tbl text NOT NULL,
	id text NOT NULL,
	fields jsonb NOT NULL DEFAULT '{}'::jsonb,
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (tbl, id)
)`, s.table)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create table %s: %w", s.table, err)
	}
	return s, nil
}

func (s *Postgres) Write(ctx context.Context, table, id string, fields map[string]any, op ingest.Operation) (Record, error) {
	var query string
	args := []any{table, id}

	switch op {
	case ingest.OpPut:
		query = fmt.Sprintf(`INSERT INTO %[1]s (tbl, id, fields, updated_at) VALUES ($1, $2, $3, now())
ON CONFLICT (tbl, id) DO UPDATE SET fields = EXCLUDED.fields, updated_at = EXCLUDED.updated_at
RETURNING fields, updated_at`, s.table)
		args = append(args, nonNil(fields))
	case ingest.OpUpdate:
		query = fmt.Sprintf(`INSERT INTO %[1]s (tbl, id, fields, updated_at) VALUES ($1, $2, $3, now())
ON CONFLICT (tbl, id) DO UPDATE SET fields = %[1]s.fields || EXCLUDED.fields, updated_at = EXCLUDED.updated_at
RETURNING fields, updated_at`, s.table)
		args = append(args, nonNil(fields))
	case ingest.OpDelete:
		query = fmt.Sprintf(`DELETE FROM %s WHERE tbl = $1 AND id = $2 RETURNING fields, updated_at`, s.table)
	default:
		return Record{}, &Error{Op: op, Table: table, ID: id, Err: fmt.Errorf("%w: %q", ingest.ErrUnsupportedOperation, op)}
	}

	rec := Record{Table: table, ID: id}
	err := s.pool.QueryRow(ctx, query, args...).Scan(&rec.Fields, &rec.UpdatedAt)
	if op == ingest.OpDelete && errors.Is(err, pgx.ErrNoRows) {
		rec.Fields = map[string]any{}
		return rec, nil
	}
	if err != nil {
		return Record{}, &Error{Op: op, Table: table, ID: id, Err: err}
	}
	rec.Fields = nonNil(rec.Fields)
	return rec, nil
}

func (s *Postgres) Get(ctx context.Context, table, id string) (Record, error) {
	rec := Record{Table: table, ID: id}
	query := fmt.Sprintf(`SELECT fields, updated_at FROM %s WHERE tbl = $1 AND id = $2`, s.table)

	var updatedAt time.Time
	err := s.pool.QueryRow(ctx, query, table, id).Scan(&rec.Fields, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, &Error{Table: table, ID: id, Err: err}
	}
	rec.Fields = nonNil(rec.Fields)
	rec.UpdatedAt = updatedAt
	return rec, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
