package model

import "time"

// NoteStatus is the state of a note row.
type NoteStatus string

const (
	NotePending    NoteStatus = "pending"
	NoteProcessing NoteStatus = "processing"
	NoteCompleted  NoteStatus = "completed"
	NoteFailed     NoteStatus = "failed"
)

// CanTransition reports whether from -> to is a legal note transition.
func (s NoteStatus) CanTransition(to NoteStatus) bool {
	switch s {
	case NotePending:
		return to == NoteProcessing || to == NoteFailed
	case NoteProcessing:
		return to == NoteCompleted || to == NoteFailed
	}
	return false
}

// NoteClassification is the writer's assessment of the content item.
type NoteClassification string

const (
	NoteMisinformedOrMisleading NoteClassification = "misinformed_or_potentially_misleading"
	NoteNotMisleading           NoteClassification = "not_misleading"
)

// Evaluation is the best-effort score of a drafted note. A failed evaluation
// is recorded as data (Error=true), never as a stage failure.
type Evaluation struct {
	Score       *float64  `json:"score,omitempty"`
	Error       bool      `json:"error,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Succeeded reports whether the evaluation produced a score.
func (e *Evaluation) Succeeded() bool {
	return e != nil && !e.Error && e.Score != nil
}

// SubmissionPayload is the submission-ready form of a note.
type SubmissionPayload struct {
	ItemRef            string             `json:"item_ref"`
	Text               string             `json:"text"`
	Links              []string           `json:"links"`
	Classification     NoteClassification `json:"classification"`
	Tags               []string           `json:"tags,omitempty"`
	TrustworthySources bool               `json:"trustworthy_sources"`
	RuneCount          int                `json:"rune_count"`
}

// Note is a drafted community note for a completed fact check. At most one
// exists per (FactCheckID, NoteWriterSlug).
type Note struct {
	ID                 string             `json:"id"`
	FactCheckID        string             `json:"fact_check_id"`
	NoteWriterSlug     string             `json:"note_writer_slug"`
	Status             NoteStatus         `json:"status"`
	Text               string             `json:"text,omitempty"`
	Links              []string           `json:"links,omitempty"`
	Classification     NoteClassification `json:"classification,omitempty"`
	Tags               []string           `json:"tags,omitempty"`
	TrustworthySources bool               `json:"trustworthy_sources"`
	Payload            *SubmissionPayload `json:"payload,omitempty"`
	Evaluation         *Evaluation        `json:"evaluation,omitempty"`
	Iterations         int                `json:"iterations"`
	InvalidURLs        []string           `json:"invalid_urls,omitempty"`
	OriginalText       string             `json:"original_text,omitempty"`
	OriginalLinks      []string           `json:"original_links,omitempty"`
	Edited             bool               `json:"edited"`
	Error              string             `json:"error,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}
