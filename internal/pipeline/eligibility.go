package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/store"
)

// EligibilityDecision is one fact-checker's answer for an item.
type EligibilityDecision struct {
	Slug      string `json:"slug"`
	ShouldRun bool   `json:"should_run"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// EligibilityReport collects the decisions for one item in candidate order.
type EligibilityReport struct {
	ItemID    string                `json:"item_id"`
	Decisions []EligibilityDecision `json:"decisions"`
}

// EvaluateEligibility asks fact-checkers whether they should run on an item,
// in parallel. It writes nothing. With no slugs only active fact-checkers
// are asked; named slugs are asked regardless of their active flag and must
// be registered.
func (p *Pipeline) EvaluateEligibility(ctx context.Context, itemID string, slugs []string) (*EligibilityReport, error) {
	item, err := p.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, eris.Wrapf(err, "eligibility: item %s", itemID)
	}
	classifications, err := p.store.ListClassifications(ctx, itemID)
	if err != nil {
		return nil, eris.Wrapf(err, "eligibility: classifications for %s", itemID)
	}
	candidates, err := p.factCheckerSlugs(ctx, slugs)
	if err != nil {
		return nil, err
	}

	decisions := make([]EligibilityDecision, len(candidates))
	var g errgroup.Group
	g.SetLimit(p.cfg.EligibilityConcurrency)
	for i, slug := range candidates {
		g.Go(func() error {
			decisions[i] = p.evaluateOne(ctx, *item, classifications, slug)
			return nil
		})
	}
	_ = g.Wait()

	return &EligibilityReport{ItemID: itemID, Decisions: decisions}, nil
}

func (p *Pipeline) evaluateOne(ctx context.Context, item model.ContentItem, classifications []model.ClassificationResult, slug string) EligibilityDecision {
	d := EligibilityDecision{Slug: slug}
	impl, err := p.strategies.FactCheckers.Resolve(slug)
	if err != nil {
		d.Error = err.Error()
		p.obs.ObserveStage(StageEligibility, OutcomeFailed)
		return d
	}
	e, err := impl.ShouldRun(ctx, item, classifications)
	if err != nil {
		zap.L().Warn("eligibility: evaluation failed",
			zap.String("item_id", item.ID),
			zap.String("slug", slug),
			zap.Error(err),
		)
		d.Error = err.Error()
		p.obs.ObserveStage(StageEligibility, OutcomeFailed)
		return d
	}
	d.ShouldRun = e.ShouldRun
	d.Reason = e.Reason
	p.obs.ObserveStage(StageEligibility, OutcomeCompleted)
	return d
}

func (p *Pipeline) factCheckerSlugs(ctx context.Context, named []string) ([]string, error) {
	if len(named) > 0 {
		out := make([]string, 0, len(named))
		seen := make(map[string]bool, len(named))
		for _, slug := range named {
			if seen[slug] {
				continue
			}
			seen[slug] = true
			if _, err := p.strategies.FactCheckers.Resolve(slug); err != nil {
				return nil, err
			}
			out = append(out, slug)
		}
		return out, nil
	}
	recs, err := p.store.ListStrategies(ctx, model.StrategyKindFactChecker, true)
	if err != nil {
		return nil, eris.Wrap(err, "eligibility: list fact checkers")
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Slug)
	}
	return out, nil
}

// TriggerResult is the outcome of TriggerFactChecks.
type TriggerResult struct {
	Report  *EligibilityReport `json:"report"`
	Started []string           `json:"started"`
	Errors  []SlugError        `json:"errors"`
}

// TriggerFactChecks evaluates the active fact-checkers for an item and starts
// those that should run. Checkers that decline and have no row yet are
// recorded as ineligible with their reason.
func (p *Pipeline) TriggerFactChecks(ctx context.Context, itemID string) (*TriggerResult, error) {
	report, err := p.EvaluateEligibility(ctx, itemID, nil)
	if err != nil {
		return nil, err
	}

	res := &TriggerResult{Report: report, Started: []string{}, Errors: []SlugError{}}
	for _, d := range report.Decisions {
		switch {
		case d.Error != "":
			res.Errors = append(res.Errors, SlugError{Slug: d.Slug, Error: d.Error})
		case d.ShouldRun:
			start, err := p.StartFactCheck(ctx, itemID, d.Slug, false)
			if err != nil {
				res.Errors = append(res.Errors, SlugError{Slug: d.Slug, Error: err.Error()})
				continue
			}
			if start.Created {
				res.Started = append(res.Started, d.Slug)
			}
		default:
			if err := p.recordIneligible(ctx, itemID, d); err != nil {
				res.Errors = append(res.Errors, SlugError{Slug: d.Slug, Error: err.Error()})
			}
		}
	}
	zap.L().Info("eligibility: triggered fact checks",
		zap.String("item_id", itemID),
		zap.Strings("started", res.Started),
		zap.Int("errors", len(res.Errors)),
	)
	return res, nil
}

func (p *Pipeline) recordIneligible(ctx context.Context, itemID string, d EligibilityDecision) error {
	fc, err := p.store.CreateFactCheck(ctx, itemID, d.Slug)
	if errors.Is(err, store.ErrDuplicate) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "eligibility: record %s", d.Slug)
	}
	_, err = p.store.TransitionFactCheck(ctx, fc.ID, model.FactCheckPending, store.FactCheckUpdate{
		Status: model.FactCheckIneligible,
		Body:   d.Reason,
	})
	if err != nil && !errors.Is(err, store.ErrStaleState) && !errors.Is(err, store.ErrNotFound) {
		return eris.Wrapf(err, "eligibility: mark %s ineligible", d.Slug)
	}
	return nil
}
