package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/factcheck-cli/internal/model"
)

// Snapshot holds a point-in-time view of pipeline state.
type Snapshot struct {
	Counts *model.StatusCounts `json:"counts"`

	// FactCheckFailRate is failed / (completed + failed).
	FactCheckFailRate  float64 `json:"fact_check_fail_rate"`
	FactChecksFinished int     `json:"fact_checks_finished"`

	// SubmissionFailRate is submission_failed over every submission that left pending.
	SubmissionFailRate float64 `json:"submission_fail_rate"`

	DLQDepth    int       `json:"dlq_depth"`
	CollectedAt time.Time `json:"collected_at"`
}

// StatusSource is the subset of store.Store the collector reads.
type StatusSource interface {
	StatusCounts(ctx context.Context) (*model.StatusCounts, error)
	CountDLQ(ctx context.Context) (int, error)
}

// Collector gathers snapshots from the store.
type Collector struct {
	src StatusSource
}

// NewCollector creates a new snapshot collector.
func NewCollector(src StatusSource) *Collector {
	return &Collector{src: src}
}

// Collect gathers a snapshot of the current row counts and DLQ depth.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	counts, err := c.src.StatusCounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: status counts")
	}
	dlq, err := c.src.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}

	snap := &Snapshot{
		Counts:      counts,
		DLQDepth:    dlq,
		CollectedAt: time.Now().UTC(),
	}

	failed := counts.FactChecks[model.FactCheckFailed]
	snap.FactChecksFinished = counts.FactChecks[model.FactCheckCompleted] + failed
	if snap.FactChecksFinished > 0 {
		snap.FactCheckFailRate = float64(failed) / float64(snap.FactChecksFinished)
	}

	var sent int
	for st, n := range counts.Submissions {
		if st != model.SubmissionPending {
			sent += n
		}
	}
	if sent > 0 {
		snap.SubmissionFailRate = float64(counts.Submissions[model.SubmissionFailed]) / float64(sent)
	}
	return snap, nil
}
