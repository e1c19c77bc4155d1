package model

import "time"

// SubmissionStatus is the state of a note submission to the external target.
type SubmissionStatus string

const (
	SubmissionPending      SubmissionStatus = "pending"
	SubmissionSubmitted    SubmissionStatus = "submitted"
	SubmissionFailed       SubmissionStatus = "submission_failed"
	SubmissionDisplayed    SubmissionStatus = "displayed"
	SubmissionNotDisplayed SubmissionStatus = "not_displayed"
	SubmissionDeleted      SubmissionStatus = "deleted"
	// SubmissionUnknown marks an external status with no known mapping.
	SubmissionUnknown SubmissionStatus = "unknown"
)

// IsTerminal reports whether reconciliation must leave the status alone.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case SubmissionDisplayed, SubmissionNotDisplayed, SubmissionDeleted, SubmissionUnknown:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal submission transition.
func (s SubmissionStatus) CanTransition(to SubmissionStatus) bool {
	switch s {
	case SubmissionPending:
		return to == SubmissionSubmitted || to == SubmissionFailed
	case SubmissionSubmitted:
		return to.IsTerminal()
	}
	return false
}

// Reconcilable lists the statuses swept by reconciliation.
func Reconcilable() []SubmissionStatus {
	return []SubmissionStatus{SubmissionSubmitted}
}

// Submission records one attempt to submit a note.
type Submission struct {
	ID          string           `json:"id"`
	NoteID      string           `json:"note_id"`
	Status      SubmissionStatus `json:"status"`
	ExternalID  string           `json:"external_id,omitempty"`
	Error       string           `json:"error,omitempty"`
	SubmittedAt *time.Time       `json:"submitted_at,omitempty"`
	CheckedAt   *time.Time       `json:"checked_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
