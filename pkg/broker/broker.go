// Package broker is the in-process subscriber registry. Committed records are
// published as Events and delivered to every subscription of the same target
// or table.
package broker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/edgeflare/sensorhub/pkg/metrics"
	"go.uber.org/zap"
)

// Event is a committed change as subscribers receive it:
//
//	{"type":"put","table":"Sensors","id":"101","value":{"id":"101","temp":72.5,...}}
type Event struct {
	Value       json.RawMessage  `json:"value"`
	Annotations map[string]any   `json:"annotations,omitempty"`
	Type        ingest.Operation `json:"type"`
	Table       string           `json:"table"`
	ID          string           `json:"id"`
}

// Config tunes delivery to subscribers.
type Config struct {
	// Buffer is the channel capacity of each subscription.
	Buffer int `mapstructure:"buffer"`
	// SendTimeout bounds how long Publish waits on one full subscription before
	// dropping the event for it.
	SendTimeout time.Duration `mapstructure:"sendTimeout"`
}

// DefaultConfig returns the registry defaults.
func DefaultConfig() Config {
	return Config{Buffer: 16, SendTimeout: time.Second}
}

// Subscription receives the events of one target, or of a whole table when ID is empty.
type Subscription struct {
	ch     chan Event
	done   chan struct{}
	cancel context.CancelFunc
	Table  string
	ID     string
	once   sync.Once
}

// Events yields published events. The channel is never closed; select on
// Done to learn that the subscription has ended.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close ends the subscription. It is equivalent to cancelling the context
// passed to Subscribe.
func (s *Subscription) Close() {
	s.cancel()
}

// Registry is the subscriber registry.
type Registry struct {
	subs    map[string]map[*Subscription]struct{}
	logger  *zap.Logger
	cfg     Config
	mu      sync.RWMutex
	dropped atomic.Int64
}

// New returns an empty registry.
func New(cfg Config, logger *zap.Logger) *Registry {
	def := DefaultConfig()
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger,
		cfg:    cfg,
	}
}

// Subscribe registers a subscription for table/id, or for the whole table when
// id is empty. The subscription ends when ctx is done or Close is called.
func (r *Registry) Subscribe(ctx context.Context, table, id string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ch:     make(chan Event, r.cfg.Buffer),
		done:   make(chan struct{}),
		cancel: cancel,
		Table:  table,
		ID:     id,
	}
	key := ingest.Key(table, id)

	r.mu.Lock()
	if r.subs[key] == nil {
		r.subs[key] = make(map[*Subscription]struct{})
	}
	r.subs[key][sub] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.once.Do(func() { close(sub.done) })

		r.mu.Lock()
		delete(r.subs[key], sub)
		if len(r.subs[key]) == 0 {
			delete(r.subs, key)
		}
		r.mu.Unlock()
	}()

	return sub
}

// Publish delivers e to the subscribers of e's target and of e's table. A
// subscription whose buffer stays full for SendTimeout misses the event.
// Publish returns the number of subscriptions the event was delivered to.
// The registry is not locked while waiting on a subscriber, so a slow
// subscriber only delays publishes that reach it.
func (r *Registry) Publish(ctx context.Context, e Event) int {
	delivered := 0
	for _, sub := range r.match(e.Table, e.ID) {
		if r.send(ctx, sub, e) {
			delivered++
		}
	}
	return delivered
}

// match returns the subscriptions of table/id and of the whole table.
func (r *Registry) match(table, id string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var subs []*Subscription
	for _, key := range []string{ingest.Key(table, id), ingest.Key(table, "")} {
		for sub := range r.subs[key] {
			subs = append(subs, sub)
		}
	}
	return subs
}

func (r *Registry) send(ctx context.Context, sub *Subscription, e Event) bool {
	select {
	case sub.ch <- e:
		return true
	case <-sub.done:
		return false
	default:
	}

	timer := time.NewTimer(r.cfg.SendTimeout)
	defer timer.Stop()

	select {
	case sub.ch <- e:
		return true
	case <-sub.done:
		return false
	case <-ctx.Done():
	case <-timer.C:
	}

	r.dropped.Add(1)
	metrics.FanoutDropped.WithLabelValues("subscriber").Inc()
	r.logger.Warn("subscriber too slow, event dropped",
		zap.String("table", sub.Table),
		zap.String("id", sub.ID),
		zap.String("event_id", e.ID))
	return false
}

// Count returns the number of live subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, subs := range r.subs {
		n += len(subs)
	}
	return n
}

// Dropped returns how many deliveries were dropped because a subscriber was too slow.
func (r *Registry) Dropped() int64 {
	return r.dropped.Load()
}
