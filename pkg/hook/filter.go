package hook

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/edgeflare/sensorhub/pkg/ingest"
)

// FilterConfig rejects mutations that do not match. Targets and ExcludeTargets
// are glob patterns matched against both "table/id" and the bare id.
type FilterConfig struct {
	TargetPattern  string   `mapstructure:"targetPattern"`
	Targets        []string `mapstructure:"targets"`
	ExcludeTargets []string `mapstructure:"excludeTargets"`
	Operations     []string `mapstructure:"operations"`
	RequireFields  []string `mapstructure:"requireFields"`
}

func (c *FilterConfig) Validate() error {
	if len(c.Targets) == 0 && len(c.ExcludeTargets) == 0 &&
		c.TargetPattern == "" && len(c.Operations) == 0 && len(c.RequireFields) == 0 {
		return fmt.Errorf("at least one filter criteria required")
	}

	if c.TargetPattern != "" {
		if _, err := regexp.Compile(c.TargetPattern); err != nil {
			return fmt.Errorf("invalid target pattern: %w", err)
		}
	}

	for _, p := range append(slices.Clone(c.Targets), c.ExcludeTargets...) {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("invalid target glob %q: %w", p, err)
		}
	}

	for _, op := range c.Operations {
		if _, ok := ingest.ParseOperation(op); !ok {
			return fmt.Errorf("invalid operation: %s", op)
		}
	}

	return nil
}

func (c *FilterConfig) Type() string {
	return "filter"
}

// Filter builds a hook that rejects mutations outside the configured targets,
// operations or missing required fields. Required fields are not checked on
// deletes, which carry none.
func Filter(config *FilterConfig) (Func, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter configuration: %w", err)
	}

	var targetRegex *regexp.Regexp
	if config.TargetPattern != "" {
		targetRegex = regexp.MustCompile(config.TargetPattern)
	}

	ops := make([]ingest.Operation, 0, len(config.Operations))
	for _, op := range config.Operations {
		parsed, _ := ingest.ParseOperation(op)
		ops = append(ops, parsed)
	}

	return func(m ingest.Mutation) (Result, error) {
		if len(ops) > 0 && !slices.Contains(ops, m.Operation) {
			return Rejected(m, "operation %s not allowed", m.Operation), nil
		}

		key := m.Key()
		for _, pattern := range config.ExcludeTargets {
			if matchTarget(pattern, key, m.TargetID) {
				return Rejected(m, "target %s is excluded", key), nil
			}
		}

		if len(config.Targets) > 0 {
			included := slices.ContainsFunc(config.Targets, func(pattern string) bool {
				return matchTarget(pattern, key, m.TargetID)
			})
			if !included {
				return Rejected(m, "target %s not in allowed targets", key), nil
			}
		}

		if targetRegex != nil && !targetRegex.MatchString(key) && !targetRegex.MatchString(m.TargetID) {
			return Rejected(m, "target %s does not match %s", key, config.TargetPattern), nil
		}

		if m.Operation != ingest.OpDelete {
			for _, f := range config.RequireFields {
				if _, ok := m.Fields[f]; !ok {
					return Rejected(m, "required field %q missing", f), nil
				}
			}
		}

		return Pass(m), nil
	}, nil
}

func matchTarget(pattern, key, id string) bool {
	if ok, _ := filepath.Match(pattern, key); ok {
		return true
	}
	ok, _ := filepath.Match(pattern, id)
	return ok
}
