package hook

import (
	"fmt"
	"regexp"

	"github.com/edgeflare/sensorhub/pkg/ingest"
)

// RenameConfig holds the configuration for the rename hook
type RenameConfig struct {
	// Table renames
	Tables map[string]string `mapstructure:"tables"`

	// Field renames
	Columns map[string]string `mapstructure:"columns"`

	// Regex renames, applied to field names after Columns
	Regex []RegexRename `mapstructure:"regex"`
}

// RegexRename defines a regex-based field rename rule
type RegexRename struct {
	Pattern string `mapstructure:"pattern"` // Regex pattern to match
	Replace string `mapstructure:"replace"` // Replacement string (can use regex groups)
}

// Validate validates the RenameConfig
func (c *RenameConfig) Validate() error {
	if len(c.Tables) == 0 && len(c.Columns) == 0 && len(c.Regex) == 0 {
		return fmt.Errorf("at least one rename configuration is required")
	}

	for _, r := range c.Regex {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("invalid regex pattern %s: %w", r.Pattern, err)
		}
	}
	return nil
}

// Type returns the type of the hook
func (c *RenameConfig) Type() string {
	return "rename"
}

type compiledRename struct {
	re      *regexp.Regexp
	replace string
}

// Rename creates a Func that renames the mutation's table and fields
func Rename(config *RenameConfig) (Func, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rename configuration: %w", err)
	}

	rules := make([]compiledRename, 0, len(config.Regex))
	for _, r := range config.Regex {
		rules = append(rules, compiledRename{re: regexp.MustCompile(r.Pattern), replace: r.Replace})
	}

	return func(m ingest.Mutation) (Result, error) {
		out := m
		if newTable, exists := config.Tables[m.Table]; exists {
			out.Table = newTable
		}

		out.Fields = make(map[string]any, len(m.Fields))
		for name, value := range m.Fields {
			if newName, exists := config.Columns[name]; exists {
				name = newName
			}
			for _, r := range rules {
				name = r.re.ReplaceAllString(name, r.replace)
			}
			out.Fields[name] = value
		}
		return Pass(out), nil
	}, nil
}
