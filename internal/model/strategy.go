package model

import "time"

// StrategyKind names the pipeline stage a strategy plugs into.
type StrategyKind string

const (
	StrategyKindClassifier  StrategyKind = "classifier"
	StrategyKindFactChecker StrategyKind = "fact_checker"
	StrategyKindNoteWriter  StrategyKind = "note_writer"
)

// Valid reports whether k is a known strategy kind.
func (k StrategyKind) Valid() bool {
	switch k {
	case StrategyKindClassifier, StrategyKindFactChecker, StrategyKindNoteWriter:
		return true
	}
	return false
}

// StrategyRecord is the operator-edited description of a strategy. The
// implementation behind a slug is resolved through the registry.
type StrategyRecord struct {
	Slug        string         `json:"slug" yaml:"slug"`
	Kind        StrategyKind   `json:"kind" yaml:"kind"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Active      bool           `json:"active" yaml:"active"`
	OutputShape OutputShape    `json:"output_shape,omitempty" yaml:"output_shape,omitempty"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	CreatedAt   time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"-"`
}

// ConfigString returns a string config value or def when absent.
func (r StrategyRecord) ConfigString(key, def string) string {
	if v, ok := r.Config[key].(string); ok && v != "" {
		return v
	}
	return def
}

// ConfigStrings returns a list-of-strings config value. YAML and JSON decode
// lists as []any, so both shapes are accepted.
func (r StrategyRecord) ConfigStrings(key string) []string {
	switch v := r.Config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
