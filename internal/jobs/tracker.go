package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/model"
)

// Status is the poll view of a batch job.
type Status struct {
	JobID              string          `json:"job_id"`
	Kind               model.JobKind   `json:"kind"`
	Status             model.JobStatus `json:"status"`
	Total              int             `json:"total"`
	Processed          int             `json:"processed"`
	Succeeded          int             `json:"succeeded"`
	Skipped            int             `json:"skipped"`
	Errors             []string        `json:"errors"`
	ProgressPercentage float64         `json:"progress_percentage"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Tracker creates jobs and records per-item outcomes against a JobStore.
type Tracker struct {
	store JobStore
	now   func() time.Time
}

// NewTracker creates a tracker backed by store.
func NewTracker(store JobStore) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Start registers a running job expecting total items.
func (t *Tracker) Start(ctx context.Context, kind model.JobKind, total int) (*Job, error) {
	now := t.now().UTC()
	job := model.BatchJob{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    model.JobRunning,
		Total:     total,
		Errors:    []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.store.Create(ctx, job); err != nil {
		return nil, eris.Wrap(err, "jobs: start")
	}
	zap.L().Info("jobs: started",
		zap.String("job_id", job.ID),
		zap.String("kind", string(kind)),
		zap.Int("total", total),
	)
	return &Job{id: job.ID, t: t}, nil
}

// Job returns a handle on an existing job, for outcomes recorded after the
// code that started it has returned.
func (t *Tracker) Job(id string) *Job { return &Job{id: id, t: t} }

// Get returns the status view of a job.
func (t *Tracker) Get(ctx context.Context, id string) (*Status, error) {
	job, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return toStatus(job), nil
}

// List returns the most recent jobs.
func (t *Tracker) List(ctx context.Context, limit int) ([]Status, error) {
	jobs, err := t.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Status, len(jobs))
	for i := range jobs {
		out[i] = *toStatus(&jobs[i])
	}
	return out, nil
}

func toStatus(j *model.BatchJob) *Status {
	errs := j.Errors
	if errs == nil {
		errs = []string{}
	}
	return &Status{
		JobID:              j.ID,
		Kind:               j.Kind,
		Status:             j.Status,
		Total:              j.Total,
		Processed:          j.Processed,
		Succeeded:          j.Succeeded,
		Skipped:            j.Skipped,
		Errors:             errs,
		ProgressPercentage: j.ProgressPercentage(),
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
	}
}

// Job is a handle on a running job. Its methods are safe for concurrent use;
// each outcome is one atomic store update. A running job completes once
// every item is accounted for. Store failures are logged rather than
// returned so tracking never aborts the batch it observes.
type Job struct {
	id string
	t  *Tracker
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// Succeed records one item that produced new work.
func (j *Job) Succeed(ctx context.Context) {
	j.outcome(ctx, func(b *model.BatchJob) {
		b.Processed++
		b.Succeeded++
	})
}

// Skip records one item that needed no work.
func (j *Job) Skip(ctx context.Context) {
	j.outcome(ctx, func(b *model.BatchJob) {
		b.Processed++
		b.Skipped++
	})
}

// Fail records one item that errored.
func (j *Job) Fail(ctx context.Context, itemErr error) {
	j.outcome(ctx, func(b *model.BatchJob) {
		b.Processed++
		if len(b.Errors) < maxErrors {
			b.Errors = append(b.Errors, itemErr.Error())
		}
	})
}

// AddErrors records errors that do not count as processed items.
func (j *Job) AddErrors(ctx context.Context, msgs ...string) {
	if len(msgs) == 0 {
		return
	}
	j.update(ctx, func(b *model.BatchJob) {
		room := max(maxErrors-len(b.Errors), 0)
		b.Errors = append(b.Errors, msgs[:min(room, len(msgs))]...)
	})
}

// Finish marks the job completed, or failed when failed is set.
func (j *Job) Finish(ctx context.Context, failed bool) {
	status := model.JobCompleted
	if failed {
		status = model.JobFailed
	}
	j.update(ctx, func(b *model.BatchJob) {
		b.Status = status
	})
	zap.L().Info("jobs: finished", zap.String("job_id", j.id), zap.String("status", string(status)))
}

func (j *Job) outcome(ctx context.Context, fn func(*model.BatchJob)) {
	settled := false
	j.update(ctx, func(b *model.BatchJob) {
		fn(b)
		if b.Status == model.JobRunning && b.Processed >= b.Total {
			b.Status = model.JobCompleted
			settled = true
		}
	})
	if settled {
		zap.L().Info("jobs: finished", zap.String("job_id", j.id), zap.String("status", string(model.JobCompleted)))
	}
}

func (j *Job) update(ctx context.Context, fn func(*model.BatchJob)) {
	_, err := j.t.store.Update(context.WithoutCancel(ctx), j.id, func(b *model.BatchJob) error {
		fn(b)
		b.UpdatedAt = j.t.now().UTC()
		return nil
	})
	if err != nil {
		zap.L().Warn("jobs: update failed", zap.String("job_id", j.id), zap.Error(err))
	}
}
