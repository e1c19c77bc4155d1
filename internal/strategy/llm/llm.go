// Package llm provides the model-backed reference strategies: a Claude
// classifier, a Perplexity Sonar fact checker and a Claude note writer.
package llm

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/cost"
	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/registry"
	"github.com/sells-group/factcheck-cli/pkg/anthropic"
	"github.com/sells-group/factcheck-cli/pkg/perplexity"
)

// Engines selectable with the "engine" config key of a strategy record.
const (
	EngineClaude = "claude"
	EngineSonar  = "sonar"
)

// Deps are the model clients and defaults shared by every strategy.
type Deps struct {
	Anthropic  anthropic.Client
	Perplexity perplexity.Client
	Model      string
	FastModel  string
	MaxTokens  int64
	// Cost prices usage for the spend log. Nil logs zero cost.
	Cost *cost.Calculator
}

// Build creates the implementation for rec. The record's "engine" config
// picks the backend; classifiers and note writers default to claude and
// fact checkers to sonar.
func Build(rec model.StrategyRecord, deps Deps) (any, error) {
	switch rec.Kind {
	case model.StrategyKindClassifier:
		switch engine := rec.ConfigString("engine", EngineClaude); engine {
		case EngineClaude:
			return NewClaudeClassifier(rec, deps)
		default:
			return nil, eris.Errorf("llm: classifier %s: unsupported engine %q", rec.Slug, engine)
		}
	case model.StrategyKindFactChecker:
		switch engine := rec.ConfigString("engine", EngineSonar); engine {
		case EngineSonar:
			return NewSonarFactChecker(rec, deps)
		default:
			return nil, eris.Errorf("llm: fact checker %s: unsupported engine %q", rec.Slug, engine)
		}
	case model.StrategyKindNoteWriter:
		switch engine := rec.ConfigString("engine", EngineClaude); engine {
		case EngineClaude:
			return NewClaudeNoteWriter(rec, deps)
		default:
			return nil, eris.Errorf("llm: note writer %s: unsupported engine %q", rec.Slug, engine)
		}
	}
	return nil, eris.Errorf("llm: %s: unknown strategy kind %q", rec.Slug, rec.Kind)
}

// RegisterAll builds every record and registers it in set. Inactive records
// are registered too so they can be run by explicit slug.
func RegisterAll(set *registry.Set, recs []model.StrategyRecord, deps Deps) error {
	for _, rec := range recs {
		impl, err := Build(rec, deps)
		if err != nil {
			return err
		}
		if err := set.Register(rec.Kind, rec.Slug, impl); err != nil {
			return err
		}
		zap.L().Debug("llm: registered strategy",
			zap.String("slug", rec.Slug),
			zap.String("kind", string(rec.Kind)),
			zap.Bool("active", rec.Active),
		)
	}
	return nil
}

const defaultMaxTokens = 2048

// tokens caps the configured token budget at limit.
func (d Deps) tokens(limit int64) int64 {
	n := d.MaxTokens
	if n <= 0 {
		n = defaultMaxTokens
	}
	return min(n, limit)
}

// logUsage records token usage and estimated spend for one model call.
func logUsage(provider, model, slug string, input, output int64, usd float64) {
	zap.L().Debug("llm: usage",
		zap.String("provider", provider),
		zap.String("model", model),
		zap.String("strategy", slug),
		zap.Int64("input_tokens", input),
		zap.Int64("output_tokens", output),
		zap.Float64("cost_usd", usd),
	)
}
