package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/resilience"
	"github.com/sells-group/factcheck-cli/internal/store"
)

// ReconcileResult summarizes one reconciliation sweep.
type ReconcileResult struct {
	Checked   int `json:"checked"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	// Expired counts pending submissions failed for exceeding the timeout.
	Expired int               `json:"expired"`
	Errors  []SubmissionError `json:"errors"`
}

// SubmissionError is a failure to reconcile one submission.
type SubmissionError struct {
	SubmissionID string `json:"submission_id"`
	Error        string `json:"error"`
}

// Reconcile polls the external target for submitted notes, least recently
// checked first, and records their display status. Terminal statuses are
// never revisited, so repeated sweeps are monotonic. Submissions left pending
// past the configured timeout are failed first so their notes can be
// submitted again. Per-submission failures are collected in the result.
func (p *Pipeline) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	if p.transport == nil {
		return nil, eris.New("reconcile: no submission transport configured")
	}
	res := &ReconcileResult{Errors: []SubmissionError{}}
	if err := p.expirePending(ctx, res); err != nil {
		return nil, err
	}

	subs, err := p.store.ListSubmissions(ctx, store.SubmissionFilter{
		Statuses:             model.Reconcilable(),
		LeastRecentlyChecked: true,
		Limit:                p.reconcile.BatchSize,
	})
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: list submissions")
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.reconcile.Concurrency)
	for _, sub := range subs {
		g.Go(func() error {
			updated, err := p.reconcileOne(gctx, sub)
			mu.Lock()
			defer mu.Unlock()
			res.Checked++
			switch {
			case err != nil:
				res.Errors = append(res.Errors, SubmissionError{SubmissionID: sub.ID, Error: err.Error()})
				p.obs.ObserveStage(StageReconcile, OutcomeFailed)
			case updated:
				res.Updated++
				p.obs.ObserveStage(StageReconcile, OutcomeUpdated)
			default:
				res.Unchanged++
				p.obs.ObserveStage(StageReconcile, OutcomeUnchanged)
			}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("reconcile: sweep done",
		zap.Int("checked", res.Checked),
		zap.Int("updated", res.Updated),
		zap.Int("expired", res.Expired),
		zap.Int("errors", len(res.Errors)),
	)
	return res, ctx.Err()
}

// expirePending fails submissions still pending after the timeout. A send
// whose result was never recorded leaves such a row behind, and it blocks
// every later attempt for its note.
func (p *Pipeline) expirePending(ctx context.Context, res *ReconcileResult) error {
	timeout := time.Duration(p.reconcile.PendingTimeoutMins) * time.Minute
	stale, err := p.store.ListSubmissions(ctx, store.SubmissionFilter{
		Statuses:      []model.SubmissionStatus{model.SubmissionPending},
		CreatedBefore: p.now().UTC().Add(-timeout),
		Limit:         p.reconcile.BatchSize,
	})
	if err != nil {
		return eris.Wrap(err, "reconcile: list pending submissions")
	}
	for _, sub := range stale {
		_, err := p.store.TransitionSubmission(ctx, sub.ID, model.SubmissionPending, store.SubmissionUpdate{
			Status: model.SubmissionFailed,
			Error:  "still pending after " + timeout.String(),
		})
		switch {
		case errors.Is(err, store.ErrStaleState):
		case err != nil:
			res.Errors = append(res.Errors, SubmissionError{SubmissionID: sub.ID, Error: err.Error()})
		default:
			res.Expired++
			p.obs.ObserveStage(StageReconcile, OutcomeExpired)
			zap.L().Warn("reconcile: expired pending submission",
				zap.String("submission_id", sub.ID),
				zap.String("note_id", sub.NoteID),
				zap.Time("created_at", sub.CreatedAt),
			)
		}
	}
	return nil
}

func (p *Pipeline) reconcileOne(ctx context.Context, sub model.Submission) (bool, error) {
	if sub.ExternalID == "" {
		return false, eris.Errorf("reconcile: submission %s has no external id", sub.ID)
	}
	retry := p.retry
	retry.OnRetry = resilience.RetryLogger(serviceSubmission, "status")
	raw, err := resilience.Call(ctx, p.breakers.Get(serviceSubmission), retry, func(ctx context.Context) (string, error) {
		return p.transport.Status(ctx, sub.ExternalID)
	})
	now := time.Now().UTC()
	if err != nil {
		p.markChecked(ctx, sub, now)
		return false, eris.Wrapf(err, "reconcile: status of %s", sub.ExternalID)
	}

	to, changed := MapExternalStatus(raw)
	if !changed || to == sub.Status {
		p.markChecked(ctx, sub, now)
		return false, nil
	}
	_, err = p.store.TransitionSubmission(ctx, sub.ID, sub.Status, store.SubmissionUpdate{
		Status:     to,
		ExternalID: sub.ExternalID,
		CheckedAt:  &now,
	})
	if errors.Is(err, store.ErrStaleState) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "reconcile: record %s", sub.ID)
	}
	zap.L().Info("reconcile: status changed",
		zap.String("submission_id", sub.ID),
		zap.String("external_status", raw),
		zap.String("status", string(to)),
	)
	return true, nil
}

// markChecked stamps a poll that left sub unchanged, moving it to the back of
// the next sweep.
func (p *Pipeline) markChecked(ctx context.Context, sub model.Submission, at time.Time) {
	if err := p.store.MarkSubmissionChecked(context.WithoutCancel(ctx), sub.ID, sub.Status, at); err != nil {
		zap.L().Warn("reconcile: record check", zap.String("submission_id", sub.ID), zap.Error(err))
	}
}

// MapExternalStatus translates a status reported by the target. changed is
// false while the target has not decided yet. Unrecognized statuses map to
// unknown.
func MapExternalStatus(raw string) (status model.SubmissionStatus, changed bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "submitted", "pending", "needs_more_ratings":
		return "", false
	case "displayed", "currently_rated_helpful":
		return model.SubmissionDisplayed, true
	case "not_displayed", "currently_rated_not_helpful":
		return model.SubmissionNotDisplayed, true
	case "deleted":
		return model.SubmissionDeleted, true
	}
	return model.SubmissionUnknown, true
}
