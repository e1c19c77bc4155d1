package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/resilience"
	"github.com/sells-group/factcheck-cli/internal/store"
)

// Submit sends a completed note to the external target. A note with a
// pending or live submission is refused with ErrAlreadySubmitted; only a
// submission_failed record permits another attempt. A failed send is
// recorded as submission_failed and its error, including any rejection
// reason from the target, is returned.
func (p *Pipeline) Submit(ctx context.Context, noteID string) (*model.Submission, error) {
	note, err := p.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, eris.Wrapf(err, "submit: note %s", noteID)
	}
	if note.Status != model.NoteCompleted {
		return nil, &IntegrityError{Entity: "note", ID: noteID, Reason: "is " + string(note.Status) + ", not completed"}
	}
	if p.transport == nil {
		return nil, eris.New("submit: no submission transport configured")
	}

	active, err := p.store.GetActiveSubmission(ctx, noteID)
	switch {
	case err == nil:
		p.obs.ObserveSubmission(OutcomeDuplicate)
		return nil, eris.Wrapf(ErrAlreadySubmitted, "submit: note %s has submission %s (%s)", noteID, active.ID, active.Status)
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, eris.Wrapf(err, "submit: active submission for %s", noteID)
	}

	sub, err := p.store.CreateSubmission(ctx, noteID)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		p.obs.ObserveSubmission(OutcomeDuplicate)
		return nil, eris.Wrapf(ErrAlreadySubmitted, "submit: note %s", noteID)
	case errors.Is(err, store.ErrIntegrity):
		return nil, &IntegrityError{Entity: "note", ID: noteID, Reason: "not completed"}
	case err != nil:
		return nil, eris.Wrapf(err, "submit: create submission for %s", noteID)
	}

	payload, err := p.submissionPayload(ctx, note)
	if err != nil {
		return nil, p.failSubmission(ctx, sub, err)
	}

	log := zap.L().With(zap.String("note_id", noteID), zap.String("submission_id", sub.ID))
	retry := p.retry
	retry.OnRetry = resilience.RetryLogger(serviceSubmission, "submit")
	externalID, err := resilience.Call(ctx, p.breakers.Get(serviceSubmission), retry, func(ctx context.Context) (string, error) {
		return p.transport.Submit(ctx, payload)
	})
	if err != nil {
		return nil, p.failSubmission(ctx, sub, err)
	}

	// The note is live on the target now. Recording it must outlive the
	// caller, or the row stays pending until a sweep expires it.
	now := time.Now().UTC()
	record := p.retry
	record.ShouldRetry = func(err error) bool {
		return !errors.Is(err, store.ErrStaleState) && !errors.Is(err, store.ErrNotFound)
	}
	record.OnRetry = resilience.RetryLogger("store", "record submission")
	done, err := resilience.DoVal(context.WithoutCancel(ctx), record, func(ctx context.Context) (*model.Submission, error) {
		return p.store.TransitionSubmission(ctx, sub.ID, model.SubmissionPending, store.SubmissionUpdate{
			Status:      model.SubmissionSubmitted,
			ExternalID:  externalID,
			SubmittedAt: &now,
		})
	})
	if err != nil {
		log.Error("submit: sent but not recorded", zap.String("external_id", externalID), zap.Error(err))
		return nil, eris.Wrapf(err, "submit: record submission %s", sub.ID)
	}
	log.Info("submit: submitted", zap.String("external_id", externalID))
	p.obs.ObserveSubmission(string(model.SubmissionSubmitted))
	p.obs.ObserveStage(StageSubmit, OutcomeCompleted)
	return done, nil
}

// refuseIfSubmitted returns ErrAlreadySubmitted when the note has a
// submission outside submission_failed. Replacing such a note would delete
// the only record of what was published.
func (p *Pipeline) refuseIfSubmitted(ctx context.Context, noteID string) error {
	active, err := p.store.GetActiveSubmission(ctx, noteID)
	switch {
	case err == nil:
		return eris.Wrapf(ErrAlreadySubmitted, "note %s has submission %s (%s)", noteID, active.ID, active.Status)
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return eris.Wrapf(err, "active submission for %s", noteID)
	}
}

// submissionPayload returns the stored payload, rebuilding it for notes
// written before payloads were stored.
func (p *Pipeline) submissionPayload(ctx context.Context, note *model.Note) (model.SubmissionPayload, error) {
	if note.Payload != nil {
		return *note.Payload, nil
	}
	fc, err := p.store.GetFactCheck(ctx, note.FactCheckID)
	if err != nil {
		return model.SubmissionPayload{}, eris.Wrapf(err, "submit: fact check %s", note.FactCheckID)
	}
	item, err := p.store.GetItem(ctx, fc.ItemID)
	if err != nil {
		return model.SubmissionPayload{}, eris.Wrapf(err, "submit: item %s", fc.ItemID)
	}
	draft := noteDraft(note)
	return BuildPayload(*item, fc.ID, draft, p.cfg.MoreDetailsURL), nil
}

// failSubmission records cause as submission_failed and returns it.
func (p *Pipeline) failSubmission(ctx context.Context, sub *model.Submission, cause error) error {
	outcome := OutcomeFailed
	if !resilience.IsTransient(cause) {
		outcome = OutcomeRejected
	}
	zap.L().Warn("submit: failed",
		zap.String("note_id", sub.NoteID),
		zap.String("submission_id", sub.ID),
		zap.String("outcome", outcome),
		zap.Error(cause),
	)
	p.obs.ObserveSubmission(outcome)
	p.obs.ObserveStage(StageSubmit, outcome)

	_, err := p.store.TransitionSubmission(context.WithoutCancel(ctx), sub.ID, model.SubmissionPending, store.SubmissionUpdate{
		Status: model.SubmissionFailed,
		Error:  cause.Error(),
	})
	if err != nil && !errors.Is(err, store.ErrStaleState) {
		return errors.Join(cause, eris.Wrapf(err, "submit: record failure of %s", sub.ID))
	}
	return eris.Wrapf(cause, "submit: note %s", sub.NoteID)
}
