package resilience

import (
	"encoding/json"
	"time"
)

// Error classes recorded on dead-lettered tasks.
const (
	ErrorTransient = "transient"
	ErrorPermanent = "permanent"
)

// DLQEntry is a task that exhausted its in-queue attempts. Payload holds the
// task's JSON-encoded arguments so it can be replayed without the original
// caller.
type DLQEntry struct {
	ID           string          `json:"id"`
	TaskKind     string          `json:"task_kind"`
	Payload      json.RawMessage `json:"payload"`
	Error        string          `json:"error"`
	ErrorType    string          `json:"error_type"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	NextRetryAt  time.Time       `json:"next_retry_at"`
	CreatedAt    time.Time       `json:"created_at"`
	LastFailedAt time.Time       `json:"last_failed_at"`
}

// DLQFilter narrows a dead letter queue read. Due restricts the result to
// entries whose NextRetryAt has passed.
type DLQFilter struct {
	ErrorType string    `json:"error_type,omitempty"`
	TaskKind  string    `json:"task_kind,omitempty"`
	DueBefore time.Time `json:"due_before,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// CanRetry reports whether the entry still has replays left.
func (e *DLQEntry) CanRetry() bool {
	return e.ErrorType != ErrorPermanent && e.RetryCount < e.MaxRetries
}

// NextBackoff returns when the entry should be replayed after another failure.
// The delay doubles per replay starting at base, capped at max.
func (e *DLQEntry) NextBackoff(now time.Time, base, max time.Duration) time.Time {
	d := base << e.RetryCount
	if d <= 0 || d > max {
		d = max
	}
	return now.Add(d)
}

// ClassifyError categorizes an error as transient or permanent.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTransient
	}
	return ErrorPermanent
}
