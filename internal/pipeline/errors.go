package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/factcheck-cli/internal/store"
)

var (
	// ErrAlreadySubmitted is returned when a note already has a submission
	// outside the submission_failed state.
	ErrAlreadySubmitted = eris.New("note already submitted")
	// ErrUnresolvedInvalidURLs matches every *UnresolvedInvalidURLsError.
	ErrUnresolvedInvalidURLs = eris.New("unresolved invalid urls")
)

// IntegrityError rejects work whose prerequisite row is not in the required
// state. Nothing is written when it is returned.
type IntegrityError struct {
	Entity string
	ID     string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity: %s %s: %s", e.Entity, e.ID, e.Reason)
}

// Unwrap lets errors.Is match store.ErrIntegrity.
func (e *IntegrityError) Unwrap() error { return store.ErrIntegrity }

// UnresolvedInvalidURLsError is returned when a note still cites invalid
// links after the last permitted iteration. URLs holds every invalid link
// seen across iterations.
type UnresolvedInvalidURLsError struct {
	URLs       []string
	Iterations int
}

func (e *UnresolvedInvalidURLsError) Error() string {
	return fmt.Sprintf("notes: %d invalid urls unresolved after %d iterations: %s",
		len(e.URLs), e.Iterations, strings.Join(e.URLs, ", "))
}

func (e *UnresolvedInvalidURLsError) Is(target error) bool {
	return target == ErrUnresolvedInvalidURLs
}

// recordedError marks a failure already persisted on the owning row, so a
// task runner has nothing left to retry.
type recordedError struct {
	err error
}

func (e *recordedError) Error() string { return e.err.Error() }

func (e *recordedError) Unwrap() error { return e.err }

func isRecorded(err error) bool {
	var r *recordedError
	return errors.As(err, &r)
}

// SlugError is a failure of one strategy within an item-level operation.
type SlugError struct {
	Slug  string `json:"slug,omitempty"`
	Error string `json:"error"`
}
