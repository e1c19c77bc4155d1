package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/jobs"
	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/queue"
	"github.com/sells-group/factcheck-cli/internal/store"
	"github.com/sells-group/factcheck-cli/internal/strategy"
)

// FactCheckStart is the outcome of StartFactCheck. Created is false when an
// existing row was returned.
type FactCheckStart struct {
	FactCheck *model.FactCheck `json:"fact_check"`
	Created   bool             `json:"created"`
}

// StartFactCheck commits a pending fact check for (itemID, slug) and
// schedules its execution. An existing row is returned as is unless force is
// set, in which case it is deleted with its notes and replaced. A fact check
// with a note that has a pending or live submission is never replaced; that
// fails with ErrAlreadySubmitted. Ineligible rows are replaced without force.
// Callers poll the returned row for the result.
func (p *Pipeline) StartFactCheck(ctx context.Context, itemID, slug string, force bool) (*FactCheckStart, error) {
	return p.startFactCheck(ctx, itemID, slug, force, "")
}

// startFactCheck is StartFactCheck with the execution's outcome counted on
// jobID when it is set.
func (p *Pipeline) startFactCheck(ctx context.Context, itemID, slug string, force bool, jobID string) (*FactCheckStart, error) {
	if _, err := p.strategies.FactCheckers.Resolve(slug); err != nil {
		return nil, err
	}
	if _, err := p.store.GetItem(ctx, itemID); err != nil {
		return nil, eris.Wrapf(err, "factcheck: item %s", itemID)
	}

	existing, err := p.store.GetFactCheckByKey(ctx, itemID, slug)
	switch {
	case err == nil:
		if !force && existing.Status != model.FactCheckIneligible {
			return &FactCheckStart{FactCheck: existing}, nil
		}
		if err := p.refuseIfNotesSubmitted(ctx, existing.ID); err != nil {
			return nil, eris.Wrapf(err, "factcheck: replace %s/%s", itemID, slug)
		}
		if err := p.store.DeleteFactCheck(ctx, existing.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(err, "factcheck: replace %s/%s", itemID, slug)
		}
		zap.L().Info("factcheck: replacing existing fact check",
			zap.String("item_id", itemID),
			zap.String("slug", slug),
			zap.String("previous_id", existing.ID),
			zap.String("previous_status", string(existing.Status)),
		)
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, eris.Wrapf(err, "factcheck: read %s/%s", itemID, slug)
	}

	fc, err := p.store.CreateFactCheck(ctx, itemID, slug)
	if errors.Is(err, store.ErrDuplicate) {
		fc, err = p.store.GetFactCheckByKey(ctx, itemID, slug)
		if err != nil {
			return nil, eris.Wrapf(err, "factcheck: read %s/%s", itemID, slug)
		}
		return &FactCheckStart{FactCheck: fc}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "factcheck: create %s/%s", itemID, slug)
	}
	p.obs.ObserveStage(StageFactCheck, OutcomeCreated)

	task := queue.Task{Kind: queue.KindExecuteFactCheck, ItemID: itemID, Slug: slug, FactCheckID: fc.ID, JobID: jobID}
	if err := p.trigger(ctx, task); err != nil {
		_ = p.failFactCheck(ctx, fc.ID, model.FactCheckPending, err)
		return nil, err
	}
	return &FactCheckStart{FactCheck: fc, Created: true}, nil
}

func (p *Pipeline) refuseIfNotesSubmitted(ctx context.Context, factCheckID string) error {
	notes, err := p.store.ListNotes(ctx, store.NoteFilter{FactCheckID: factCheckID})
	if err != nil {
		return eris.Wrapf(err, "notes of %s", factCheckID)
	}
	for _, n := range notes {
		if err := p.refuseIfSubmitted(ctx, n.ID); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteFactCheck runs a pending fact check: it waits for an execution
// slot, moves the row to processing, runs the fact-checker and records
// completed or failed. Rows no longer pending are left alone. A completed
// fact check triggers note writing for every active note writer.
func (p *Pipeline) ExecuteFactCheck(ctx context.Context, id string) error {
	return p.executeFactCheck(ctx, id, "")
}

// executeFactCheck counts a settled execution on jobID when it is set.
// Errors left for the queue to retry are not counted; the attempt that
// settles the row is.
func (p *Pipeline) executeFactCheck(ctx context.Context, id, jobID string) error {
	done, err := p.execute(ctx, id)
	if jobID != "" {
		job := p.tracker.Job(jobID)
		switch {
		case isRecorded(err):
			job.Fail(ctx, eris.Wrapf(err, "fact check %s", id))
		case err != nil:
		case done != nil:
			job.Succeed(ctx)
		default:
			job.Skip(ctx)
		}
	}
	if err != nil || done == nil {
		return err
	}
	// Trigger failures are logged per writer. A retry would find the row
	// completed and do nothing.
	_ = p.triggerNotes(ctx, done)
	return nil
}

// execute returns the completed row, or nil when the row was gone, no longer
// pending or superseded.
func (p *Pipeline) execute(ctx context.Context, id string) (*model.FactCheck, error) {
	fc, err := p.store.GetFactCheck(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Info("factcheck: row gone before execution", zap.String("fact_check_id", id))
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "factcheck: read %s", id)
	}
	if fc.Status != model.FactCheckPending {
		return nil, nil
	}

	impl, err := p.strategies.FactCheckers.Resolve(fc.FactCheckerSlug)
	if err != nil {
		return nil, p.failFactCheck(ctx, id, model.FactCheckPending, err)
	}
	item, err := p.store.GetItem(ctx, fc.ItemID)
	if err != nil {
		return nil, p.failFactCheck(ctx, id, model.FactCheckPending, eris.Wrapf(err, "factcheck: item %s", fc.ItemID))
	}
	return p.runFactCheck(ctx, fc, impl, *item)
}

// runFactCheck holds an execution slot for the processing window only.
func (p *Pipeline) runFactCheck(ctx context.Context, fc *model.FactCheck, impl strategy.FactChecker, item model.ContentItem) (*model.FactCheck, error) {
	if err := p.factChecks.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "factcheck: wait for slot")
	}
	defer p.factChecks.Release(1)
	p.obs.AddInflight(1)
	defer p.obs.AddInflight(-1)

	log := zap.L().With(zap.String("fact_check_id", fc.ID), zap.String("slug", fc.FactCheckerSlug))

	_, err := p.store.TransitionFactCheck(ctx, fc.ID, model.FactCheckPending, store.FactCheckUpdate{Status: model.FactCheckProcessing})
	if errors.Is(err, store.ErrStaleState) || errors.Is(err, store.ErrNotFound) {
		log.Info("factcheck: superseded before processing", zap.Error(err))
		p.obs.ObserveStage(StageFactCheck, OutcomeSuperseded)
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "factcheck: start %s", fc.ID)
	}
	log.Info("factcheck: processing", zap.String("item_id", fc.ItemID))

	out, runErr := runFactChecker(ctx, impl, item)
	if runErr != nil {
		return nil, p.failFactCheck(ctx, fc.ID, model.FactCheckProcessing, runErr)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, p.failFactCheck(ctx, fc.ID, model.FactCheckProcessing, eris.Wrap(err, "factcheck: encode output"))
	}
	done, err := p.store.TransitionFactCheck(ctx, fc.ID, model.FactCheckProcessing, store.FactCheckUpdate{
		Status:     model.FactCheckCompleted,
		Verdict:    out.Verdict,
		Confidence: out.Confidence,
		Body:       out.Body,
		Claims:     out.Claims,
		Sources:    out.Sources,
		RawOutput:  raw,
	})
	if errors.Is(err, store.ErrStaleState) || errors.Is(err, store.ErrNotFound) {
		log.Info("factcheck: superseded while processing", zap.Error(err))
		p.obs.ObserveStage(StageFactCheck, OutcomeSuperseded)
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "factcheck: complete %s", fc.ID)
	}
	log.Info("factcheck: completed",
		zap.String("verdict", string(done.Verdict)),
		zap.Float64("confidence", done.Confidence),
	)
	p.obs.ObserveStage(StageFactCheck, OutcomeCompleted)
	return done, nil
}

// runFactChecker calls the strategy and normalizes its output.
func runFactChecker(ctx context.Context, impl strategy.FactChecker, item model.ContentItem) (*strategy.FactCheckOutput, error) {
	out, err := impl.FactCheck(ctx, item)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, &model.ValidationError{Reason: "fact checker returned no output"}
	}
	v, err := model.ParseVerdict(string(out.Verdict))
	if err != nil {
		return nil, err
	}
	if v == model.VerdictError {
		return nil, &model.ValidationError{Field: "verdict", Reason: "error verdict is reserved"}
	}
	out.Verdict = v
	out.Confidence = model.ClampConfidence(out.Confidence)
	return out, nil
}

// failFactCheck records cause on the row and returns it marked as recorded.
func (p *Pipeline) failFactCheck(ctx context.Context, id string, from model.FactCheckStatus, cause error) error {
	zap.L().Warn("factcheck: failed", zap.String("fact_check_id", id), zap.Error(cause))
	p.obs.ObserveStage(StageFactCheck, OutcomeFailed)
	_, err := p.store.TransitionFactCheck(context.WithoutCancel(ctx), id, from, store.FactCheckUpdate{
		Status:  model.FactCheckFailed,
		Verdict: model.VerdictError,
		Error:   cause.Error(),
	})
	if err != nil && !errors.Is(err, store.ErrStaleState) && !errors.Is(err, store.ErrNotFound) {
		return eris.Wrapf(err, "factcheck: record failure of %s", id)
	}
	return &recordedError{err: cause}
}

// triggerNotes schedules note writing for every active note writer.
func (p *Pipeline) triggerNotes(ctx context.Context, fc *model.FactCheck) error {
	recs, err := p.store.ListStrategies(ctx, model.StrategyKindNoteWriter, true)
	if err != nil {
		return eris.Wrap(err, "factcheck: list note writers")
	}
	var errs []error
	for _, rec := range recs {
		if _, err := p.strategies.NoteWriters.Resolve(rec.Slug); err != nil {
			zap.L().Warn("factcheck: skipping unregistered note writer", zap.String("slug", rec.Slug))
			continue
		}
		task := queue.Task{Kind: queue.KindWriteNote, ItemID: fc.ItemID, FactCheckID: fc.ID, Slug: rec.Slug}
		if err := p.trigger(ctx, task); err != nil {
			zap.L().Error("factcheck: trigger note writing",
				zap.String("fact_check_id", fc.ID),
				zap.String("slug", rec.Slug),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FactCheckBatch starts one fact-checker across items under a tracked job
// and returns the job status. Reused rows count as skipped and failed starts
// as failed. A started row is counted when its execution settles, so with a
// Scheduler the job stays running until the queued executions finish.
func (p *Pipeline) FactCheckBatch(ctx context.Context, itemIDs []string, slug string, force bool) (*jobs.Status, error) {
	job, err := p.startFactCheckJob(ctx, itemIDs, slug)
	if err != nil {
		return nil, err
	}
	p.runFactCheckBatch(ctx, job, itemIDs, slug, force)
	return p.tracker.Get(ctx, job.ID())
}

// StartFactCheckBatch runs FactCheckBatch in the background and returns the
// job id to poll.
func (p *Pipeline) StartFactCheckBatch(ctx context.Context, itemIDs []string, slug string, force bool) (string, error) {
	job, err := p.startFactCheckJob(ctx, itemIDs, slug)
	if err != nil {
		return "", err
	}
	p.goBackground(ctx, func(ctx context.Context) {
		p.runFactCheckBatch(ctx, job, itemIDs, slug, force)
	})
	return job.ID(), nil
}

func (p *Pipeline) startFactCheckJob(ctx context.Context, itemIDs []string, slug string) (*jobs.Job, error) {
	if _, err := p.strategies.FactCheckers.Resolve(slug); err != nil {
		return nil, err
	}
	job, err := p.tracker.Start(ctx, model.JobKindFactCheck, len(itemIDs))
	if err != nil {
		return nil, eris.Wrap(err, "factcheck: start job")
	}
	return job, nil
}

func (p *Pipeline) runFactCheckBatch(ctx context.Context, job *jobs.Job, itemIDs []string, slug string, force bool) {
	for _, id := range itemIDs {
		if ctx.Err() != nil {
			break
		}
		start, err := p.startFactCheck(ctx, id, slug, force, job.ID())
		switch {
		case err != nil:
			job.Fail(ctx, eris.Wrapf(err, "item %s", id))
		case !start.Created:
			job.Skip(ctx)
		}
	}
	if ctx.Err() != nil || len(itemIDs) == 0 {
		job.Finish(ctx, ctx.Err() != nil)
	}
}
