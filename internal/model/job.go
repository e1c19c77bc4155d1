package model

import (
	"math"
	"time"
)

// JobStatus is the state of a batch job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobKind names the batch operation a job tracks.
type JobKind string

const (
	JobKindClassify  JobKind = "classify"
	JobKindFactCheck JobKind = "fact_check"
)

// BatchJob tracks progress counters for a batch operation.
type BatchJob struct {
	ID        string    `json:"job_id"`
	Kind      JobKind   `json:"kind"`
	Status    JobStatus `json:"status"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Errors    []string  `json:"errors"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressPercentage returns processed/total as a percentage rounded to two
// decimals. An empty job is complete.
func (j *BatchJob) ProgressPercentage() float64 {
	if j.Total <= 0 {
		return 100
	}
	pct := float64(j.Processed) / float64(j.Total) * 100
	return math.Round(pct*100) / 100
}
