package hook

import (
	"fmt"

	"github.com/edgeflare/sensorhub/pkg/ingest"
)

// ExtractConfig holds the configuration for the extract hook
type ExtractConfig struct {
	Fields []string `mapstructure:"fields"`
}

// Validate validates the ExtractConfig
func (c *ExtractConfig) Validate() error {
	if len(c.Fields) == 0 {
		return fmt.Errorf("at least one field is required")
	}
	return nil
}

// Type returns the type of the hook
func (c *ExtractConfig) Type() string {
	return "extract"
}

// Extract creates a Func that keeps only the specified fields of the mutation
func Extract(config *ExtractConfig) Func {
	return func(m ingest.Mutation) (Result, error) {
		out := m
		out.Fields = make(map[string]any, len(config.Fields))
		for _, field := range config.Fields {
			if value, exists := m.Fields[field]; exists {
				out.Fields[field] = value
			}
		}
		return Pass(out), nil
	}
}
