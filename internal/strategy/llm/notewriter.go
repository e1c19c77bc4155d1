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
)

// ClaudeNoteWriter drafts notes with Claude. The request's conversation is
// replayed after the initial prompt so the model sees its earlier drafts and
// the corrections made to them.
type ClaudeNoteWriter struct {
	client       anthropic.Client
	slug         string
	model        string
	maxTokens    int64
	instructions string
	cost         *cost.Calculator
}

// NewClaudeNoteWriter builds a note writer from rec.
func NewClaudeNoteWriter(rec model.StrategyRecord, deps Deps) (*ClaudeNoteWriter, error) {
	if deps.Anthropic == nil {
		return nil, eris.Errorf("llm: note writer %s: anthropic client not configured", rec.Slug)
	}
	return &ClaudeNoteWriter{
		client:       deps.Anthropic,
		slug:         rec.Slug,
		model:        rec.ConfigString("model", deps.Model),
		maxTokens:    deps.tokens(defaultMaxTokens),
		instructions: rec.ConfigString("instructions", ""),
		cost:         deps.Cost,
	}, nil
}

// WriteNote generates one draft.
func (w *ClaudeNoteWriter) WriteNote(ctx context.Context, req strategy.NoteRequest) (*strategy.NoteDraft, error) {
	msgs := make([]anthropic.Message, 0, len(req.Conversation)+1)
	msgs = append(msgs, anthropic.Message{
		Role: "user",
		Content: fmt.Sprintf(noteWriterUser,
			req.Item.Ref(), req.Item.Text,
			req.FactCheck.Verdict, req.FactCheck.Confidence, req.FactCheck.Body),
	})
	for _, t := range req.Conversation {
		msgs = append(msgs, anthropic.Message{Role: string(t.Role), Content: t.Content})
	}

	resp, err := w.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     w.model,
		MaxTokens: w.maxTokens,
		System:    fmt.Sprintf(noteWriterSystem, max(req.MaxLinks, 0), w.instructions),
		Messages:  msgs,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "llm: note writer %s", w.slug)
	}
	logUsage("anthropic", w.model, w.slug, resp.Usage.InputTokens, resp.Usage.OutputTokens,
		w.cost.Claude(w.model, resp.Usage.InputTokens, resp.Usage.OutputTokens))

	var draft strategy.NoteDraft
	if err := anthropic.DecodeJSON(resp.Text(), &draft); err != nil {
		return nil, eris.Wrapf(err, "llm: note writer %s", w.slug)
	}
	draft.Text = strings.TrimSpace(draft.Text)
	if draft.Text == "" {
		return nil, eris.Errorf("llm: note writer %s: empty note text", w.slug)
	}
	if draft.Classification == "" {
		draft.Classification = model.NoteMisinformedOrMisleading
	}
	return &draft, nil
}
