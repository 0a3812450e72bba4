package hook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/edgeflare/sensorhub/pkg/ingest"
)

// ThresholdConfig raises an annotation when a numeric field exceeds a limit.
type ThresholdConfig struct {
	Field      string  `mapstructure:"field"`
	Above      float64 `mapstructure:"above"`
	Annotation string  `mapstructure:"annotation"`
}

// DefaultThreshold is the temperature alert: temp > 100 sets alert=true.
func DefaultThreshold() *ThresholdConfig {
	return &ThresholdConfig{Field: "temp", Above: 100, Annotation: "alert"}
}

func (c *ThresholdConfig) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("field is required")
	}
	if c.Annotation == "" {
		c.Annotation = "alert"
	}
	return nil
}

func (c *ThresholdConfig) Type() string {
	return "threshold"
}

// Threshold sets fields[Annotation] and annotations[Annotation] to true when
// fields[Field] is strictly greater than Above. Numbers sent as strings ("101.5")
// are compared too; non-numeric values never trigger.
func Threshold(config *ThresholdConfig) Func {
	return func(m ingest.Mutation) (Result, error) {
		v, ok := m.Fields[config.Field]
		if !ok {
			return Pass(m), nil
		}
		n, ok := toFloat(v)
		if !ok || !(n > config.Above) {
			return Pass(m), nil
		}

		out := m.Clone()
		out.Fields[config.Annotation] = true
		return Result{
			Mutation:    out,
			Annotations: map[string]any{config.Annotation: true},
		}, nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
