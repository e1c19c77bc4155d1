// Package strategy defines the capability contracts implemented by pluggable
// analysis units and by the external collaborators of the note stage.
package strategy

import (
	"context"

	"github.com/sells-group/factcheck-cli/internal/model"
)

// Classifier labels a content item. Implementations validate their output
// against their declared shape before returning.
type Classifier interface {
	Classify(ctx context.Context, item model.ContentItem) (*model.ClassificationPayload, error)
}

// Eligibility is a fact-checker's advisory decision for one item.
type Eligibility struct {
	ShouldRun bool   `json:"should_run"`
	Reason    string `json:"reason"`
}

// FactCheckOutput is the raw result of a fact-checker. Verdict must not be
// model.VerdictError.
type FactCheckOutput struct {
	Body       string        `json:"body"`
	Verdict    model.Verdict `json:"verdict"`
	Confidence float64       `json:"confidence"`
	Claims     []string      `json:"claims,omitempty"`
	Sources    []string      `json:"sources,omitempty"`
}

// FactChecker decides whether it applies to an item and produces a verdict.
type FactChecker interface {
	ShouldRun(ctx context.Context, item model.ContentItem, classifications []model.ClassificationResult) (Eligibility, error)
	FactCheck(ctx context.Context, item model.ContentItem) (*FactCheckOutput, error)
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of the note-writing conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NoteRequest carries everything a note writer sees on one generate step.
// Conversation holds prior drafts and corrective instructions, oldest first.
type NoteRequest struct {
	Item         model.ContentItem
	FactCheck    model.FactCheck
	Conversation []Turn
	MaxLinks     int
}

// NoteDraft is one generated note.
type NoteDraft struct {
	Text               string                   `json:"text"`
	Links              []string                 `json:"links"`
	Classification     model.NoteClassification `json:"classification"`
	Tags               []string                 `json:"tags,omitempty"`
	TrustworthySources bool                     `json:"trustworthy_sources"`
}

// NoteWriter drafts a community note for a completed fact check.
type NoteWriter interface {
	WriteNote(ctx context.Context, req NoteRequest) (*NoteDraft, error)
}

// URLCheck is the validity of one link.
type URLCheck struct {
	URL        string `json:"url"`
	Valid      bool   `json:"valid"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// URLValidator checks the links of a draft.
type URLValidator interface {
	Validate(ctx context.Context, urls []string) ([]URLCheck, error)
}

// NoteEvaluator scores a drafted note. Higher is better.
type NoteEvaluator interface {
	Evaluate(ctx context.Context, text, itemRef string) (float64, error)
}

// SubmissionTransport delivers notes to the external target and reports
// their display status.
type SubmissionTransport interface {
	Submit(ctx context.Context, payload model.SubmissionPayload) (externalID string, err error)
	Status(ctx context.Context, externalID string) (string, error)
}
