package queue

import "time"

// Kind names the pipeline step a task runs.
type Kind string

const (
	KindEvaluateEligibility Kind = "evaluate_eligibility"
	KindExecuteFactCheck    Kind = "execute_fact_check"
	KindWriteNote           Kind = "write_note"
	KindSubmitNote          Kind = "submit_note"
)

// Task is one unit of deferred pipeline work. Only the fields its Kind needs
// are set.
type Task struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	ItemID      string    `json:"item_id,omitempty"`
	Slug        string    `json:"slug,omitempty"`
	FactCheckID string    `json:"fact_check_id,omitempty"`
	NoteID      string    `json:"note_id,omitempty"`
	Force       bool      `json:"force,omitempty"`
	// JobID is the batch job that counts this task's outcome.
	JobID      string    `json:"job_id,omitempty"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
