package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis store.
//
// Key structure:
//
//	{prefix}:{table}:{id} - JSON document {"fields": {...}, "updatedAt": <epoch ms>}
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	Prefix     string `mapstructure:"prefix"`
	MaxRetries int    `mapstructure:"maxRetries"`
}

// Redis is a Store backed by Redis. Merges run in WATCH/MULTI transactions so
// concurrent updates of the same record from several gateways are not lost.
type Redis struct {
	client     *redis.Client
	now        func() time.Time
	prefix     string
	maxRetries int
}

type redisDoc struct {
	Fields    map[string]any `json:"fields"`
	UpdatedAt int64          `json:"updatedAt"`
}

// NewRedis connects to cfg.URL and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisFromClient(client, cfg), nil
}

// NewRedisFromClient creates a store from an existing Redis connection.
func NewRedisFromClient(client *redis.Client, cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "sensorhub"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	return &Redis{
		client:     client,
		now:        time.Now,
		prefix:     cfg.Prefix,
		maxRetries: cfg.MaxRetries,
	}
}

func (s *Redis) key(table, id string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, table, id)
}

func (s *Redis) Write(ctx context.Context, table, id string, fields map[string]any, op ingest.Operation) (Record, error) {
	key := s.key(table, id)
	var rec Record

	txf := func(tx *redis.Tx) error {
		existing, found, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}

		next, err := apply(existing.Fields, fields, op)
		if err != nil {
			return err
		}

		if op == ingest.OpDelete {
			rec = Record{Table: table, ID: id, Fields: next}
			if found {
				rec.UpdatedAt = time.UnixMilli(existing.UpdatedAt)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}

		now := s.now()
		data, err := json.Marshal(redisDoc{Fields: next, UpdatedAt: now.UnixMilli()})
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		rec = Record{Table: table, ID: id, Fields: next, UpdatedAt: now}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	var err error
	for range s.maxRetries {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return Record{}, &Error{Op: op, Table: table, ID: id, Err: err}
	}
	return rec, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Redis) load(ctx context.Context, c getter, key string) (redisDoc, bool, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return redisDoc{}, false, nil
	}
	if err != nil {
		return redisDoc{}, false, err
	}

	var doc redisDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return redisDoc{}, false, fmt.Errorf("decode record %s: %w", key, err)
	}
	return doc, true, nil
}

func (s *Redis) Get(ctx context.Context, table, id string) (Record, error) {
	doc, found, err := s.load(ctx, s.client, s.key(table, id))
	if err != nil {
		return Record{}, &Error{Table: table, ID: id, Err: err}
	}
	if !found {
		return Record{}, ErrNotFound
	}
	return Record{
		Table:     table,
		ID:        id,
		Fields:    nonNil(doc.Fields),
		UpdatedAt: time.UnixMilli(doc.UpdatedAt),
	}, nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}
