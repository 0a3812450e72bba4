// Package gateway runs one inbound message through normalization, the hook
// pipeline and the store, then fans the committed record out to subscribers
// and sinks.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/hook"
	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/edgeflare/sensorhub/pkg/metrics"
	"github.com/edgeflare/sensorhub/pkg/store"
	"go.uber.org/zap"
)

// DefaultTable is used for mutations that name no table.
const DefaultTable = "Sensors"

// Dispatcher hands committed events to outbound sinks. *sink.Manager implements it.
type Dispatcher interface {
	Dispatch(broker.Event)
}

// Options configures a Gateway. Store and Broker are required.
type Options struct {
	Store        store.Store
	Broker       *broker.Registry
	Hooks        *hook.Pipeline
	Sinks        Dispatcher
	Logger       *zap.Logger
	DefaultTable string
}

// Gateway is safe for concurrent use by every transport adapter.
type Gateway struct {
	store        store.Store
	broker       *broker.Registry
	hooks        *hook.Pipeline
	sinks        Dispatcher
	logger       *zap.Logger
	defaultTable string
}

// New returns a Gateway. A nil Hooks uses hook.Default().
func New(opts Options) *Gateway {
	g := &Gateway{
		store:        opts.Store,
		broker:       opts.Broker,
		hooks:        opts.Hooks,
		sinks:        opts.Sinks,
		logger:       opts.Logger,
		defaultTable: opts.DefaultTable,
	}
	if g.hooks == nil {
		g.hooks = hook.Default()
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.defaultTable == "" {
		g.defaultTable = DefaultTable
	}
	return g
}

// Outcome is the result of one successful pass.
type Outcome struct {
	Mutation    ingest.Mutation
	Annotations map[string]any
	Record      store.Record
	// Stored is false for ephemeral messages, which are broadcast only.
	Stored bool
}

// Event returns the broker event for the outcome.
func (o Outcome) Event() (broker.Event, error) {
	value, err := json.Marshal(o.Record)
	if err != nil {
		return broker.Event{}, fmt.Errorf("marshal record: %w", err)
	}
	return broker.Event{
		Type:        o.Mutation.Operation,
		Table:       o.Record.Table,
		ID:          o.Record.ID,
		Value:       value,
		Annotations: o.Annotations,
	}, nil
}

// Handle normalizes msg, runs the hooks, commits the mutation and publishes
// it. On rejection or failure nothing is stored or published; the returned
// Outcome still carries whatever was known (for rejections, the mutation).
func (g *Gateway) Handle(ctx context.Context, msg ingest.RawMessage) (Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.MutationDuration.WithLabelValues(string(msg.Transport)).Observe(time.Since(start).Seconds())
	}()

	m, err := ingest.Normalize(msg)
	if err != nil {
		return Outcome{}, g.fail(msg, err)
	}
	if m.Table == "" {
		m.Table = g.defaultTable
	}
	metrics.Messages.WithLabelValues(string(msg.Transport), string(m.Shape)).Inc()
	g.logger.Debug("classified message",
		zap.String("transport", string(msg.Transport)),
		zap.String("shape", string(m.Shape)),
		zap.String("table", m.Table),
		zap.String("id", m.TargetID),
		zap.String("op", string(m.Operation)))

	res, err := g.hooks.Run(m)
	out := Outcome{Mutation: res.Mutation, Annotations: res.Annotations}
	if err != nil {
		var rejection *hook.RejectionError
		if errors.As(err, &rejection) {
			metrics.HookRejections.WithLabelValues(rejection.Hook).Inc()
			g.logger.Info("mutation rejected",
				zap.String("hook", rejection.Hook),
				zap.String("reason", rejection.Reason),
				zap.String("target", m.Key()))
		}
		return out, g.fail(msg, err)
	}
	if len(out.Annotations) > 0 {
		g.logger.Info("mutation annotated", zap.String("target", out.Mutation.Key()), zap.Any("annotations", out.Annotations))
	}

	mut := out.Mutation
	if msg.Ephemeral {
		out.Record = store.Record{Table: mut.Table, ID: mut.TargetID, Fields: mut.Fields, UpdatedAt: time.Now()}
	} else {
		rec, err := g.store.Write(ctx, mut.Table, mut.TargetID, mut.Fields, mut.Operation)
		if err != nil {
			var se *store.Error
			if !errors.As(err, &se) {
				err = &store.Error{Err: err, Op: mut.Operation, Table: mut.Table, ID: mut.TargetID}
			}
			return out, g.fail(msg, err)
		}
		out.Record = rec
		out.Stored = true
		metrics.Commits.WithLabelValues(mut.Table, string(mut.Operation)).Inc()
		g.logger.Debug("mutation committed", zap.String("target", mut.Key()), zap.String("op", string(mut.Operation)))
	}

	g.publish(ctx, out)
	return out, nil
}

func (g *Gateway) publish(ctx context.Context, out Outcome) {
	e, err := out.Event()
	if err != nil {
		g.logger.Error("failed to build event", zap.String("target", out.Mutation.Key()), zap.Error(err))
		return
	}
	n := g.broker.Publish(ctx, e)
	if g.sinks != nil {
		g.sinks.Dispatch(e)
	}
	g.logger.Debug("event published", zap.String("target", out.Mutation.Key()), zap.Int("subscribers", n))
}

// Get returns the stored record of table/id.
func (g *Gateway) Get(ctx context.Context, table, id string) (store.Record, error) {
	if table == "" {
		table = g.defaultTable
	}
	return g.store.Get(ctx, table, id)
}

// Subscribe registers a subscription with the broker; id == "" subscribes to
// the whole table.
func (g *Gateway) Subscribe(ctx context.Context, table, id string) *broker.Subscription {
	if table == "" {
		table = g.defaultTable
	}
	return g.broker.Subscribe(ctx, table, id)
}

// DefaultTable returns the table used for mutations that name none.
func (g *Gateway) DefaultTable() string {
	return g.defaultTable
}

func (g *Gateway) fail(msg ingest.RawMessage, err error) error {
	kind := KindOf(err)
	metrics.Errors.WithLabelValues(string(msg.Transport), string(kind)).Inc()
	if kind == KindStorage || kind == KindInternal {
		g.logger.Error("message failed", zap.String("transport", string(msg.Transport)), zap.String("kind", string(kind)), zap.Error(err))
	} else if kind != KindRejected {
		g.logger.Debug("message failed", zap.String("transport", string(msg.Transport)), zap.String("kind", string(kind)), zap.Error(err))
	}
	return err
}
