package pipeline

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/queue"
	"github.com/sells-group/factcheck-cli/internal/resilience"
	"github.com/sells-group/factcheck-cli/internal/store"
)

// WriteNote drafts a note for a completed fact check with the named writer.
// The draft goes through the reflection loop until its links validate or the
// iteration bound is reached, in which case the note is marked failed and an
// *UnresolvedInvalidURLsError is returned. An accepted draft is stored with
// its submission payload and a best-effort evaluation; a score above the
// configured threshold triggers submission. An existing note for the key is
// returned unchanged unless force is set. Force never replaces a note with a
// pending or live submission; that fails with ErrAlreadySubmitted.
func (p *Pipeline) WriteNote(ctx context.Context, factCheckID, writerSlug string, force bool) (*model.Note, error) {
	writer, err := p.strategies.NoteWriters.Resolve(writerSlug)
	if err != nil {
		return nil, err
	}
	fc, err := p.store.GetFactCheck(ctx, factCheckID)
	if err != nil {
		return nil, eris.Wrapf(err, "notes: fact check %s", factCheckID)
	}
	if fc.Status != model.FactCheckCompleted {
		return nil, &IntegrityError{Entity: "fact check", ID: fc.ID, Reason: "is " + string(fc.Status) + ", not completed"}
	}

	existing, err := p.store.GetNoteByKey(ctx, fc.ID, writerSlug)
	switch {
	case err == nil:
		if !force {
			return existing, nil
		}
		if err := p.refuseIfSubmitted(ctx, existing.ID); err != nil {
			return nil, eris.Wrapf(err, "notes: replace %s/%s", fc.ID, writerSlug)
		}
		if err := p.store.DeleteNote(ctx, existing.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(err, "notes: replace %s/%s", fc.ID, writerSlug)
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, eris.Wrapf(err, "notes: read %s/%s", fc.ID, writerSlug)
	}

	note, err := p.store.CreateNote(ctx, fc.ID, writerSlug)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return p.store.GetNoteByKey(ctx, fc.ID, writerSlug)
	case errors.Is(err, store.ErrIntegrity):
		return nil, &IntegrityError{Entity: "fact check", ID: fc.ID, Reason: "not completed"}
	case err != nil:
		return nil, eris.Wrapf(err, "notes: create %s/%s", fc.ID, writerSlug)
	}

	log := zap.L().With(zap.String("note_id", note.ID), zap.String("fact_check_id", fc.ID), zap.String("slug", writerSlug))
	if _, err := p.store.TransitionNote(ctx, note.ID, model.NotePending, store.NoteUpdate{Status: model.NoteProcessing}); err != nil {
		return nil, eris.Wrapf(err, "notes: start %s", note.ID)
	}

	item, err := p.store.GetItem(ctx, fc.ItemID)
	if err != nil {
		return nil, p.failNote(ctx, note.ID, nil, eris.Wrapf(err, "notes: item %s", fc.ItemID))
	}

	run := newNoteRun(*item, *fc, p.cfg.MaxNoteIterations, p.cfg.MaxNoteLinks)
	draft, runErr := run.drive(ctx, writer, p.urls)
	p.obs.ObserveNoteIterations(run.iteration)
	if runErr != nil {
		return nil, p.failNote(ctx, note.ID, run, runErr)
	}

	payload := BuildPayload(*item, fc.ID, *draft, p.cfg.MoreDetailsURL)
	eval := p.evaluate(ctx, payload.Text, item.Ref())

	done, err := p.store.TransitionNote(ctx, note.ID, model.NoteProcessing, store.NoteUpdate{
		Status:             model.NoteCompleted,
		Text:               draft.Text,
		Links:              draft.Links,
		Classification:     payload.Classification,
		Tags:               draft.Tags,
		TrustworthySources: draft.TrustworthySources,
		Payload:            &payload,
		Evaluation:         eval,
		Iterations:         run.iteration,
		InvalidURLs:        run.accumulated,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notes: complete %s", note.ID)
	}
	log.Info("notes: completed",
		zap.Int("iterations", done.Iterations),
		zap.Int("links", len(done.Links)),
		zap.Bool("evaluated", eval.Succeeded()),
	)
	p.obs.ObserveStage(StageNote, OutcomeCompleted)

	if p.shouldAutoSubmit(eval) {
		if err := p.trigger(ctx, queue.Task{Kind: queue.KindSubmitNote, NoteID: done.ID, FactCheckID: fc.ID}); err != nil {
			log.Error("notes: auto-submission failed", zap.Error(err))
		}
	}
	return done, nil
}

// failNote records cause on a processing note. run may be nil when the loop
// never started.
func (p *Pipeline) failNote(ctx context.Context, noteID string, run *noteRun, cause error) error {
	zap.L().Warn("notes: failed", zap.String("note_id", noteID), zap.Error(cause))
	p.obs.ObserveStage(StageNote, OutcomeFailed)

	upd := store.NoteUpdate{Status: model.NoteFailed, Error: cause.Error()}
	if run != nil {
		upd.Iterations = run.iteration
		upd.InvalidURLs = run.accumulated
		if run.draft != nil {
			upd.Text = run.draft.Text
			upd.Links = run.draft.Links
			upd.Classification = run.draft.Classification
			upd.Tags = run.draft.Tags
		}
	}
	_, err := p.store.TransitionNote(context.WithoutCancel(ctx), noteID, model.NoteProcessing, upd)
	if err != nil && !errors.Is(err, store.ErrStaleState) && !errors.Is(err, store.ErrNotFound) {
		return eris.Wrapf(err, "notes: record failure of %s", noteID)
	}
	return &recordedError{err: cause}
}

// evaluate scores text. Failures are returned as data.
func (p *Pipeline) evaluate(ctx context.Context, text, itemRef string) *model.Evaluation {
	ev := &model.Evaluation{EvaluatedAt: time.Now().UTC()}
	if p.evaluator == nil {
		ev.Error = true
		ev.Detail = "no evaluator configured"
		return ev
	}
	retry := p.retry
	retry.OnRetry = resilience.RetryLogger(serviceEvaluator, "evaluate")
	score, err := resilience.Call(ctx, p.breakers.Get(serviceEvaluator), retry, func(ctx context.Context) (float64, error) {
		return p.evaluator.Evaluate(ctx, text, itemRef)
	})
	if err != nil {
		zap.L().Warn("notes: evaluation failed", zap.String("item_ref", itemRef), zap.Error(err))
		ev.Error = true
		ev.Detail = err.Error()
		return ev
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		ev.Error = true
		ev.Detail = "evaluator returned a non-finite score"
		return ev
	}
	ev.Score = &score
	return ev
}

func (p *Pipeline) shouldAutoSubmit(ev *model.Evaluation) bool {
	return p.cfg.AutoSubmit && ev.Succeeded() && *ev.Score > p.cfg.AutoSubmitThreshold
}

// NoteEdit is an operator's replacement text and links for a note.
type NoteEdit struct {
	Text  string   `json:"text" validate:"required"`
	Links []string `json:"links" validate:"omitempty,dive,url"`
}

// EditNote replaces the text and links of a completed note, rebuilds its
// payload and re-runs evaluation. The first edit keeps the generated
// content. Edits never trigger submission.
func (p *Pipeline) EditNote(ctx context.Context, noteID string, edit NoteEdit) (*model.Note, error) {
	note, err := p.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, eris.Wrapf(err, "notes: note %s", noteID)
	}
	if note.Status != model.NoteCompleted {
		return nil, &IntegrityError{Entity: "note", ID: noteID, Reason: "is " + string(note.Status) + ", not completed"}
	}
	text := strings.TrimSpace(edit.Text)
	if text == "" {
		return nil, &model.ValidationError{Field: "text", Reason: "note text is empty"}
	}

	fc, err := p.store.GetFactCheck(ctx, note.FactCheckID)
	if err != nil {
		return nil, eris.Wrapf(err, "notes: fact check %s", note.FactCheckID)
	}
	item, err := p.store.GetItem(ctx, fc.ItemID)
	if err != nil {
		return nil, eris.Wrapf(err, "notes: item %s", fc.ItemID)
	}

	draft := noteDraft(note)
	draft.Text = text
	draft.Links = cleanLinks(edit.Links, p.cfg.MaxNoteLinks)
	payload := BuildPayload(*item, fc.ID, draft, p.cfg.MoreDetailsURL)
	eval := p.evaluate(ctx, payload.Text, item.Ref())

	updated, err := p.store.UpdateNoteContent(ctx, noteID, store.NoteEdit{
		Text:       draft.Text,
		Links:      draft.Links,
		Payload:    &payload,
		Evaluation: eval,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notes: edit %s", noteID)
	}
	zap.L().Info("notes: edited", zap.String("note_id", noteID), zap.Bool("evaluated", eval.Succeeded()))
	return updated, nil
}
