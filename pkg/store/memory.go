package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/edgeflare/sensorhub/pkg/ingest"
)

// Memory is a Store held in process memory.
type Memory struct {
	records map[string]Record
	now     func() time.Time
	mu      sync.RWMutex
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

func (s *Memory) Write(_ context.Context, table, id string, fields map[string]any, op ingest.Operation) (Record, error) {
	key := ingest.Key(table, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found := s.records[key]
	next, err := apply(existing.Fields, fields, op)
	if err != nil {
		return Record{}, &Error{Op: op, Table: table, ID: id, Err: err}
	}

	if op == ingest.OpDelete {
		delete(s.records, key)
		if !found {
			existing = Record{Table: table, ID: id}
		}
		existing.Fields = next
		return existing, nil
	}

	rec := Record{Table: table, ID: id, Fields: next, UpdatedAt: s.now()}
	s.records[key] = rec
	return copyRecord(rec), nil
}

func (s *Memory) Get(_ context.Context, table, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[ingest.Key(table, id)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return copyRecord(rec), nil
}

// Len returns the number of stored records.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Memory) Close() error {
	return nil
}

func copyRecord(r Record) Record {
	r.Fields = maps.Clone(r.Fields)
	return r
}
