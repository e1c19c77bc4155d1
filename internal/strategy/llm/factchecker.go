package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/factcheck-cli/internal/cost"
	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/strategy"
	"github.com/sells-group/factcheck-cli/pkg/anthropic"
	"github.com/sells-group/factcheck-cli/pkg/perplexity"
)

// SonarFactChecker runs a search-grounded fact check through Perplexity.
// It is eligible for an item when any classification value matches one of
// its configured "labels" (optionally restricted to the "classifiers"
// config list). With no labels configured it runs on everything.
type SonarFactChecker struct {
	client       perplexity.Client
	slug         string
	model        string
	instructions string
	recency      string
	labels       map[string]struct{}
	classifiers  map[string]struct{}
	cost         *cost.Calculator
}

// NewSonarFactChecker builds a fact checker from rec.
func NewSonarFactChecker(rec model.StrategyRecord, deps Deps) (*SonarFactChecker, error) {
	if deps.Perplexity == nil {
		return nil, eris.Errorf("llm: fact checker %s: perplexity client not configured", rec.Slug)
	}
	return &SonarFactChecker{
		client:       deps.Perplexity,
		slug:         rec.Slug,
		model:        rec.ConfigString("model", ""),
		instructions: rec.ConfigString("instructions", ""),
		recency:      rec.ConfigString("search_recency", ""),
		labels:       lowerSet(rec.ConfigStrings("labels")),
		classifiers:  lowerSet(rec.ConfigStrings("classifiers")),
		cost:         deps.Cost,
	}, nil
}

// ShouldRun matches the item's classifications against the configured labels.
func (f *SonarFactChecker) ShouldRun(_ context.Context, _ model.ContentItem, classifications []model.ClassificationResult) (strategy.Eligibility, error) {
	if len(f.labels) == 0 {
		return strategy.Eligibility{ShouldRun: true, Reason: "no label filter configured"}, nil
	}
	for _, c := range classifications {
		if len(f.classifiers) > 0 {
			if _, ok := f.classifiers[strings.ToLower(c.ClassifierSlug)]; !ok {
				continue
			}
		}
		for _, v := range c.Payload.Values() {
			if _, ok := f.labels[strings.ToLower(v)]; ok {
				return strategy.Eligibility{
					ShouldRun: true,
					Reason:    fmt.Sprintf("label %q from classifier %s", v, c.ClassifierSlug),
				}, nil
			}
		}
	}
	if len(classifications) == 0 {
		return strategy.Eligibility{Reason: "item has no classifications"}, nil
	}
	return strategy.Eligibility{Reason: "no matching label"}, nil
}

type sonarAnswer struct {
	Verdict    string   `json:"verdict"`
	Confidence float64  `json:"confidence"`
	Body       string   `json:"body"`
	Claims     []string `json:"claims"`
}

// FactCheck asks Sonar for a verdict. Citations returned by the search become
// the output's sources.
func (f *SonarFactChecker) FactCheck(ctx context.Context, item model.ContentItem) (*strategy.FactCheckOutput, error) {
	temp := 0.1
	resp, err := f.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: f.model,
		Messages: []perplexity.Message{
			{Role: "system", Content: fmt.Sprintf(factCheckSystem, f.instructions)},
			{Role: "user", Content: fmt.Sprintf(factCheckUser, item.Ref(), item.Text)},
		},
		Temperature:         &temp,
		SearchRecencyFilter: f.recency,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "llm: fact checker %s", f.slug)
	}
	in, out := int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens)
	logUsage("perplexity", f.model, f.slug, in, out, f.cost.Sonar(f.model, in, out))

	var ans sonarAnswer
	if err := anthropic.DecodeJSON(resp.Content(), &ans); err != nil {
		return nil, eris.Wrapf(err, "llm: fact checker %s", f.slug)
	}
	verdict, err := model.ParseVerdict(ans.Verdict)
	if err != nil {
		return nil, err
	}
	if verdict == model.VerdictError {
		return nil, &model.ValidationError{Field: "verdict", Reason: "strategies may not return the error verdict"}
	}
	if strings.TrimSpace(ans.Body) == "" {
		return nil, &model.ValidationError{Field: "body", Reason: "fact check body is empty"}
	}

	return &strategy.FactCheckOutput{
		Body:       ans.Body,
		Verdict:    verdict,
		Confidence: model.ClampConfidence(ans.Confidence),
		Claims:     ans.Claims,
		Sources:    resp.Citations,
	}, nil
}

func lowerSet(vals []string) map[string]struct{} {
	out := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		out[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return out
}
