package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/factcheck-cli/internal/jobs"
	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/queue"
	"github.com/sells-group/factcheck-cli/internal/store"
)

// ClassifyOptions selects classifiers. With no slugs every active classifier
// runs.
type ClassifyOptions struct {
	Slugs []string `json:"slugs,omitempty"`
	Force bool     `json:"force,omitempty"`
}

// ClassifyResult is the outcome of classifying one item.
type ClassifyResult struct {
	ItemID  string      `json:"item_id"`
	Created int         `json:"created"`
	Skipped int         `json:"skipped"`
	Errors  []SlugError `json:"errors"`
}

// Classify runs classifiers against one item. An existing result for a
// classifier is skipped unless opts.Force is set, in which case it is
// replaced. Per-classifier failures are collected in the result; an unknown
// named slug or a missing item aborts the call. When anything was created,
// eligibility evaluation is triggered for the item.
func (p *Pipeline) Classify(ctx context.Context, itemID string, opts ClassifyOptions) (*ClassifyResult, error) {
	item, err := p.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: item %s", itemID)
	}
	slugs, err := p.classifierSlugs(ctx, opts.Slugs)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("item_id", itemID))
	res := &ClassifyResult{ItemID: itemID, Errors: []SlugError{}}
	for _, slug := range slugs {
		created, err := p.classifyOne(ctx, *item, slug, opts.Force)
		switch {
		case err != nil:
			log.Warn("classify: classifier failed", zap.String("slug", slug), zap.Error(err))
			res.Errors = append(res.Errors, SlugError{Slug: slug, Error: err.Error()})
			p.obs.ObserveStage(StageClassify, OutcomeFailed)
		case created:
			res.Created++
			p.obs.ObserveStage(StageClassify, OutcomeCreated)
		default:
			res.Skipped++
			p.obs.ObserveStage(StageClassify, OutcomeSkipped)
		}
	}
	log.Info("classify: done",
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", len(res.Errors)),
	)

	if res.Created > 0 {
		if err := p.trigger(ctx, queue.Task{Kind: queue.KindEvaluateEligibility, ItemID: itemID}); err != nil {
			log.Error("classify: trigger eligibility", zap.Error(err))
			res.Errors = append(res.Errors, SlugError{Error: err.Error()})
		}
	}
	return res, nil
}

// classifierSlugs resolves the classifiers to run. Named slugs must be
// registered; otherwise the active records are used.
func (p *Pipeline) classifierSlugs(ctx context.Context, named []string) ([]string, error) {
	if len(named) > 0 {
		out := make([]string, 0, len(named))
		seen := make(map[string]bool, len(named))
		for _, slug := range named {
			if seen[slug] {
				continue
			}
			seen[slug] = true
			if _, err := p.strategies.Classifiers.Resolve(slug); err != nil {
				return nil, err
			}
			out = append(out, slug)
		}
		return out, nil
	}
	recs, err := p.store.ListStrategies(ctx, model.StrategyKindClassifier, true)
	if err != nil {
		return nil, eris.Wrap(err, "classify: list classifiers")
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Slug)
	}
	return out, nil
}

// classifyOne reports whether a new result was persisted.
func (p *Pipeline) classifyOne(ctx context.Context, item model.ContentItem, slug string, force bool) (bool, error) {
	impl, err := p.strategies.Classifiers.Resolve(slug)
	if err != nil {
		return false, err
	}

	_, err = p.store.GetClassification(ctx, item.ID, slug)
	switch {
	case err == nil:
		if !force {
			return false, nil
		}
		if err := p.store.DeleteClassification(ctx, item.ID, slug); err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, eris.Wrapf(err, "classify: replace %s", slug)
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return false, eris.Wrapf(err, "classify: read %s", slug)
	}

	var shape model.OutputShape
	if rec, err := p.store.GetStrategy(ctx, slug); err == nil {
		shape = rec.OutputShape
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, eris.Wrapf(err, "classify: read strategy %s", slug)
	}

	payload, err := impl.Classify(ctx, item)
	if err != nil {
		return false, eris.Wrapf(err, "classify: %s", slug)
	}
	if payload == nil {
		return false, &model.ValidationError{Reason: "classifier returned no payload"}
	}
	if shape == "" {
		shape = payload.Type
	}
	if err := payload.Validate(shape); err != nil {
		return false, err
	}

	if _, err := p.store.CreateClassification(ctx, item.ID, slug, *payload); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return false, nil
		}
		return false, eris.Wrapf(err, "classify: persist %s", slug)
	}
	return true, nil
}

// ClassifyBatch classifies items concurrently under a tracked job and
// returns the final job status. One item's failure never stops the others.
func (p *Pipeline) ClassifyBatch(ctx context.Context, itemIDs []string, opts ClassifyOptions) (*jobs.Status, error) {
	job, err := p.startClassifyJob(ctx, itemIDs, opts)
	if err != nil {
		return nil, err
	}
	p.runClassifyBatch(ctx, job, itemIDs, opts)
	return p.tracker.Get(ctx, job.ID())
}

// StartClassifyBatch starts ClassifyBatch in the background and returns the
// job id to poll.
func (p *Pipeline) StartClassifyBatch(ctx context.Context, itemIDs []string, opts ClassifyOptions) (string, error) {
	job, err := p.startClassifyJob(ctx, itemIDs, opts)
	if err != nil {
		return "", err
	}
	p.goBackground(ctx, func(ctx context.Context) {
		p.runClassifyBatch(ctx, job, itemIDs, opts)
	})
	return job.ID(), nil
}

func (p *Pipeline) startClassifyJob(ctx context.Context, itemIDs []string, opts ClassifyOptions) (*jobs.Job, error) {
	if len(opts.Slugs) > 0 {
		if _, err := p.classifierSlugs(ctx, opts.Slugs); err != nil {
			return nil, err
		}
	}
	job, err := p.tracker.Start(ctx, model.JobKindClassify, len(itemIDs))
	if err != nil {
		return nil, eris.Wrap(err, "classify: start job")
	}
	return job, nil
}

func (p *Pipeline) runClassifyBatch(ctx context.Context, job *jobs.Job, itemIDs []string, opts ClassifyOptions) {
	var g errgroup.Group
	g.SetLimit(p.cfg.ClassifyConcurrency)
	for _, id := range itemIDs {
		g.Go(func() error {
			res, err := p.Classify(ctx, id, opts)
			switch {
			case err != nil:
				job.Fail(ctx, eris.Wrapf(err, "item %s", id))
			case len(res.Errors) > 0:
				msgs := make([]string, 0, len(res.Errors))
				for _, e := range res.Errors {
					msgs = append(msgs, e.Slug+": "+e.Error)
				}
				job.Fail(ctx, eris.Errorf("item %s: %s", id, strings.Join(msgs, "; ")))
			case res.Created > 0:
				job.Succeed(ctx)
			default:
				job.Skip(ctx)
			}
			return nil
		})
	}
	_ = g.Wait()
	job.Finish(ctx, ctx.Err() != nil)
}
