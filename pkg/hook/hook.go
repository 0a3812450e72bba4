package hook

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/mitchellh/mapstructure"
)

// Result is what a hook returns for one mutation. The next hook in a pipeline
// receives Result.Mutation.
type Result struct {
	Mutation    ingest.Mutation
	Annotations map[string]any
	Reject      bool
	Reason      string
}

// Func is the signature of every hook. A hook must not modify the mutation it
// receives; it returns a (possibly modified) copy in the Result.
type Func func(ingest.Mutation) (Result, error)

// Spec is one configured pipeline step, as it appears in the config file:
//
//	hooks:
//	  - type: threshold
//	    config: {field: temp, above: 100, annotation: alert}
type Spec struct {
	Config map[string]any `mapstructure:"config"`
	Type   string         `mapstructure:"type"`
}

// Config is implemented by every hook configuration.
type Config interface {
	Validate() error
	Type() string
}

// RejectionError is returned by a pipeline when a hook rejected the mutation.
type RejectionError struct {
	Hook   string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("rejected by %s hook: %s", e.Hook, e.Reason)
}

// ErrUnknownHook is returned for a hook type missing from the registry.
var ErrUnknownHook = errors.New("unknown hook type")

// Factory builds a hook from its decoded configuration. NewConfig returns a
// pointer to the default configuration that Spec.Config is decoded over.
type Factory struct {
	NewConfig func() Config
	Build     func(Config) (Func, error)
}

// Registry is a collection of hook factories keyed by type name.
type Registry struct {
	factories sync.Map // map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a hook factory to the registry, replacing any existing one.
func (r *Registry) Register(name string, f Factory) {
	r.factories.Store(name, f)
}

// Get returns the factory registered under name.
func (r *Registry) Get(name string) (Factory, error) {
	if v, ok := r.factories.Load(name); ok {
		return v.(Factory), nil
	}
	return Factory{}, fmt.Errorf("%w: %s", ErrUnknownHook, name)
}

// Manager builds pipelines from hook specs.
type Manager struct {
	registry *Registry
}

func NewManager() *Manager {
	return &Manager{registry: NewRegistry()}
}

// Registry exposes the manager's registry so callers can add their own hook types.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// RegisterBuiltins registers the threshold, filter, extract and rename hooks.
func (m *Manager) RegisterBuiltins() {
	m.registry.Register("threshold", Factory{
		NewConfig: func() Config { return DefaultThreshold() },
		Build: func(c Config) (Func, error) {
			cfg, ok := c.(*ThresholdConfig)
			if !ok {
				return nil, fmt.Errorf("invalid config type %T for threshold hook", c)
			}
			return Threshold(cfg), nil
		},
	})

	m.registry.Register("filter", Factory{
		NewConfig: func() Config { return &FilterConfig{} },
		Build: func(c Config) (Func, error) {
			cfg, ok := c.(*FilterConfig)
			if !ok {
				return nil, fmt.Errorf("invalid config type %T for filter hook", c)
			}
			return Filter(cfg)
		},
	})

	m.registry.Register("extract", Factory{
		NewConfig: func() Config { return &ExtractConfig{} },
		Build: func(c Config) (Func, error) {
			cfg, ok := c.(*ExtractConfig)
			if !ok {
				return nil, fmt.Errorf("invalid config type %T for extract hook", c)
			}
			return Extract(cfg), nil
		},
	})

	m.registry.Register("rename", Factory{
		NewConfig: func() Config { return &RenameConfig{} },
		Build: func(c Config) (Func, error) {
			cfg, ok := c.(*RenameConfig)
			if !ok {
				return nil, fmt.Errorf("invalid config type %T for rename hook", c)
			}
			return Rename(cfg)
		},
	})
}

// Chain builds a pipeline from specs, in order. An empty spec list yields the
// default pipeline, which only raises the temperature alert.
func (m *Manager) Chain(specs []Spec) (*Pipeline, error) {
	if len(specs) == 0 {
		return Default(), nil
	}

	p := &Pipeline{}
	for i, spec := range specs {
		factory, err := m.registry.Get(spec.Type)
		if err != nil {
			return nil, fmt.Errorf("hook %d: %w", i, err)
		}

		cfg := factory.NewConfig()
		if err := decodeConfig(spec.Config, cfg); err != nil {
			return nil, fmt.Errorf("error decoding config for %s hook: %w", spec.Type, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s hook configuration: %w", spec.Type, err)
		}

		fn, err := factory.Build(cfg)
		if err != nil {
			return nil, fmt.Errorf("error building %s hook: %w", spec.Type, err)
		}
		p.Use(spec.Type, fn)
	}
	return p, nil
}

func decodeConfig(input map[string]any, out Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

type step struct {
	name string
	fn   Func
}

// Pipeline is an ordered list of hooks. The zero value is an empty pipeline
// that passes every mutation through unchanged.
type Pipeline struct {
	steps []step
}

// Default returns the pipeline used when no hooks are configured.
func Default() *Pipeline {
	p := &Pipeline{}
	p.Use("threshold", Threshold(DefaultThreshold()))
	return p
}

// Use appends a hook to the pipeline.
func (p *Pipeline) Use(name string, fn Func) {
	p.steps = append(p.steps, step{name: name, fn: fn})
}

// Len returns the number of hooks in the pipeline.
func (p *Pipeline) Len() int {
	return len(p.steps)
}

// Run feeds m through every hook in order. Annotations of all hooks are merged,
// later hooks overwriting earlier keys. The first rejection stops the pipeline
// and is reported as a *RejectionError alongside the rejecting Result.
func (p *Pipeline) Run(m ingest.Mutation) (Result, error) {
	acc := Result{Mutation: m, Annotations: map[string]any{}}

	for _, s := range p.steps {
		res, err := s.fn(acc.Mutation)
		if err != nil {
			return acc, fmt.Errorf("%s hook: %w", s.name, err)
		}
		maps.Copy(acc.Annotations, res.Annotations)
		if res.Reject {
			acc.Reject = true
			acc.Reason = res.Reason
			return acc, &RejectionError{Hook: s.name, Reason: res.Reason}
		}
		acc.Mutation = res.Mutation
	}
	return acc, nil
}

// Pass returns a Result that forwards m unchanged.
func Pass(m ingest.Mutation) Result {
	return Result{Mutation: m}
}

// Rejected returns a Result that stops the pipeline with reason.
func Rejected(m ingest.Mutation, format string, args ...any) Result {
	return Result{Mutation: m, Reject: true, Reason: fmt.Sprintf(format, args...)}
}
