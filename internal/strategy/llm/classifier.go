package llm

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/factcheck-cli/internal/cost"
	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/pkg/anthropic"
)

// ClaudeClassifier labels items with a single, multi or hierarchical payload
// according to its record's output shape. Config keys: "instructions",
// "labels" (allowed values, optional), "model".
type ClaudeClassifier struct {
	client       anthropic.Client
	slug         string
	model        string
	maxTokens    int64
	shape        model.OutputShape
	instructions string
	labels       []string
	cost         *cost.Calculator
}

// NewClaudeClassifier builds a classifier from rec.
func NewClaudeClassifier(rec model.StrategyRecord, deps Deps) (*ClaudeClassifier, error) {
	if deps.Anthropic == nil {
		return nil, eris.Errorf("llm: classifier %s: anthropic client not configured", rec.Slug)
	}
	if !rec.OutputShape.Valid() {
		return nil, eris.Errorf("llm: classifier %s: invalid output shape %q", rec.Slug, rec.OutputShape)
	}
	return &ClaudeClassifier{
		client:       deps.Anthropic,
		slug:         rec.Slug,
		model:        rec.ConfigString("model", deps.FastModel),
		maxTokens:    deps.tokens(1024),
		shape:        rec.OutputShape,
		instructions: rec.ConfigString("instructions", rec.Description),
		labels:       rec.ConfigStrings("labels"),
		cost:         deps.Cost,
	}, nil
}

// Classify asks the model for a label and validates the answer against the
// declared shape and allowed labels.
func (c *ClaudeClassifier) Classify(ctx context.Context, item model.ContentItem) (*model.ClassificationPayload, error) {
	temp := 0.0
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      fmt.Sprintf(classifierSystem, c.guidance()),
		Temperature: &temp,
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(classifierUser, item.Platform, item.Author, item.Text)},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "llm: classifier %s", c.slug)
	}
	logUsage("anthropic", c.model, c.slug, resp.Usage.InputTokens, resp.Usage.OutputTokens,
		c.cost.Claude(c.model, resp.Usage.InputTokens, resp.Usage.OutputTokens))

	payload := &model.ClassificationPayload{Type: c.shape}
	switch c.shape {
	case model.OutputShapeSingle:
		payload.Single = &model.SingleValue{}
		err = anthropic.DecodeJSON(resp.Text(), payload.Single)
	case model.OutputShapeMulti:
		payload.Multi = &model.MultiValue{}
		err = anthropic.DecodeJSON(resp.Text(), payload.Multi)
	case model.OutputShapeHierarchical:
		payload.Hierarchical = &model.HierarchicalValue{}
		err = anthropic.DecodeJSON(resp.Text(), payload.Hierarchical)
	}
	if err != nil {
		return nil, &model.ValidationError{Field: c.slug, Reason: err.Error()}
	}

	if err := payload.Validate(c.shape); err != nil {
		return nil, err
	}
	if err := c.checkLabels(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *ClaudeClassifier) guidance() string {
	var b strings.Builder
	if c.instructions != "" {
		b.WriteString(c.instructions)
		b.WriteString("\n")
	}
	if len(c.labels) > 0 {
		fmt.Fprintf(&b, "Allowed labels: %s\n", strings.Join(c.labels, ", "))
	}
	switch c.shape {
	case model.OutputShapeSingle:
		b.WriteString(singleShape)
	case model.OutputShapeMulti:
		b.WriteString(multiShape)
	case model.OutputShapeHierarchical:
		b.WriteString(hierarchicalShape)
	}
	return b.String()
}

func (c *ClaudeClassifier) checkLabels(p *model.ClassificationPayload) error {
	if len(c.labels) == 0 || p.Type == model.OutputShapeHierarchical {
		return nil
	}
	for _, v := range p.Values() {
		if !slices.Contains(c.labels, v) {
			return &model.ValidationError{Field: "value", Reason: fmt.Sprintf("label %q is not allowed", v)}
		}
	}
	return nil
}
