package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/resilience"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = eris.New("not found")
	// ErrDuplicate is returned when a unique key already has a live row.
	ErrDuplicate = eris.New("duplicate key")
	// ErrStaleState is returned when a guarded transition finds the row in a
	// state other than the expected prior state.
	ErrStaleState = eris.New("stale state")
	// ErrInvalidTransition is returned for transitions the state machine forbids.
	ErrInvalidTransition = eris.New("invalid transition")
	// ErrIntegrity is returned when a row's prerequisite is not satisfied
	// (note for an incomplete fact check, submission for an incomplete note).
	ErrIntegrity = eris.New("integrity violation")
)

// ItemFilter specifies criteria for listing content items.
type ItemFilter struct {
	Platform string `json:"platform,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// FactCheckFilter specifies criteria for listing fact checks.
type FactCheckFilter struct {
	ItemID   string                  `json:"item_id,omitempty"`
	Slug     string                  `json:"slug,omitempty"`
	Statuses []model.FactCheckStatus `json:"statuses,omitempty"`
	Limit    int                     `json:"limit,omitempty"`
	Offset   int                     `json:"offset,omitempty"`
}

// NoteFilter specifies criteria for listing notes.
type NoteFilter struct {
	FactCheckID string             `json:"fact_check_id,omitempty"`
	Statuses    []model.NoteStatus `json:"statuses,omitempty"`
	Limit       int                `json:"limit,omitempty"`
}

// SubmissionFilter specifies criteria for listing submissions.
type SubmissionFilter struct {
	NoteID   string                   `json:"note_id,omitempty"`
	Statuses []model.SubmissionStatus `json:"statuses,omitempty"`
	// CreatedBefore keeps submissions created before the given time.
	CreatedBefore time.Time `json:"created_before,omitempty"`
	// LeastRecentlyChecked orders never-checked submissions first, then by
	// checked_at, instead of by creation.
	LeastRecentlyChecked bool `json:"least_recently_checked,omitempty"`
	Limit                int  `json:"limit,omitempty"`
}

// FactCheckUpdate is the full set of mutable fact-check fields written by a
// transition.
type FactCheckUpdate struct {
	Status     model.FactCheckStatus
	Verdict    model.Verdict
	Confidence float64
	Body       string
	Claims     []string
	Sources    []string
	RawOutput  json.RawMessage
	Error      string
}

// NoteUpdate is the full set of mutable note fields written by a transition.
type NoteUpdate struct {
	Status             model.NoteStatus
	Text               string
	Links              []string
	Classification     model.NoteClassification
	Tags               []string
	TrustworthySources bool
	Payload            *model.SubmissionPayload
	Evaluation         *model.Evaluation
	Iterations         int
	InvalidURLs        []string
	Error              string
}

// NoteEdit replaces the content of a completed note. The first edit
// snapshots the generated text and links.
type NoteEdit struct {
	Text       string
	Links      []string
	Payload    *model.SubmissionPayload
	Evaluation *model.Evaluation
}

// SubmissionUpdate is written by a submission transition.
type SubmissionUpdate struct {
	Status      model.SubmissionStatus
	ExternalID  string
	Error       string
	SubmittedAt *time.Time
	CheckedAt   *time.Time
}

// Store defines the persistence interface for the fact-check pipeline.
type Store interface {
	// Content items
	UpsertItem(ctx context.Context, item model.ContentItem) (*model.ContentItem, error)
	GetItem(ctx context.Context, id string) (*model.ContentItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]model.ContentItem, error)

	// Strategies
	UpsertStrategy(ctx context.Context, rec model.StrategyRecord) error
	GetStrategy(ctx context.Context, slug string) (*model.StrategyRecord, error)
	ListStrategies(ctx context.Context, kind model.StrategyKind, activeOnly bool) ([]model.StrategyRecord, error)

	// Classifications
	CreateClassification(ctx context.Context, itemID, slug string, payload model.ClassificationPayload) (*model.ClassificationResult, error)
	GetClassification(ctx context.Context, itemID, slug string) (*model.ClassificationResult, error)
	ListClassifications(ctx context.Context, itemID string) ([]model.ClassificationResult, error)
	DeleteClassification(ctx context.Context, itemID, slug string) error

	// Fact checks
	CreateFactCheck(ctx context.Context, itemID, slug string) (*model.FactCheck, error)
	GetFactCheck(ctx context.Context, id string) (*model.FactCheck, error)
	GetFactCheckByKey(ctx context.Context, itemID, slug string) (*model.FactCheck, error)
	ListFactChecks(ctx context.Context, filter FactCheckFilter) ([]model.FactCheck, error)
	TransitionFactCheck(ctx context.Context, id string, from model.FactCheckStatus, upd FactCheckUpdate) (*model.FactCheck, error)
	DeleteFactCheck(ctx context.Context, id string) error

	// Notes
	CreateNote(ctx context.Context, factCheckID, writerSlug string) (*model.Note, error)
	GetNote(ctx context.Context, id string) (*model.Note, error)
	GetNoteByKey(ctx context.Context, factCheckID, writerSlug string) (*model.Note, error)
	ListNotes(ctx context.Context, filter NoteFilter) ([]model.Note, error)
	TransitionNote(ctx context.Context, id string, from model.NoteStatus, upd NoteUpdate) (*model.Note, error)
	UpdateNoteContent(ctx context.Context, id string, edit NoteEdit) (*model.Note, error)
	DeleteNote(ctx context.Context, id string) error

	// Submissions
	CreateSubmission(ctx context.Context, noteID string) (*model.Submission, error)
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	GetActiveSubmission(ctx context.Context, noteID string) (*model.Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error)
	TransitionSubmission(ctx context.Context, id string, from model.SubmissionStatus, upd SubmissionUpdate) (*model.Submission, error)
	MarkSubmissionChecked(ctx context.Context, id string, status model.SubmissionStatus, at time.Time) error

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Monitoring
	StatusCounts(ctx context.Context) (*model.StatusCounts, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
