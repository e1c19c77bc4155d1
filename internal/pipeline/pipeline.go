// Package pipeline moves content items through classification, eligibility,
// fact-check execution, note writing and submission. Each stage commits its
// own state transitions and triggers the next stage through a Scheduler.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/factcheck-cli/internal/config"
	"github.com/sells-group/factcheck-cli/internal/jobs"
	"github.com/sells-group/factcheck-cli/internal/queue"
	"github.com/sells-group/factcheck-cli/internal/registry"
	"github.com/sells-group/factcheck-cli/internal/resilience"
	"github.com/sells-group/factcheck-cli/internal/store"
	"github.com/sells-group/factcheck-cli/internal/strategy"
	"github.com/sells-group/factcheck-cli/pkg/linkcheck"
)

// Stage names reported to the Observer.
const (
	StageClassify    = "classify"
	StageEligibility = "eligibility"
	StageFactCheck   = "fact_check"
	StageNote        = "note"
	StageSubmit      = "submit"
	StageReconcile   = "reconcile"
)

// Stage outcomes reported to the Observer.
const (
	OutcomeCreated    = "created"
	OutcomeSkipped    = "skipped"
	OutcomeCompleted  = "completed"
	OutcomeFailed     = "failed"
	OutcomeSuperseded = "superseded"
	OutcomeRejected   = "rejected"
	OutcomeDuplicate  = "duplicate"
	OutcomeUpdated    = "updated"
	OutcomeUnchanged  = "unchanged"
	OutcomeExpired    = "expired"
)

const (
	serviceEvaluator  = "evaluator"
	serviceSubmission = "submission"
)

// Scheduler accepts follow-up work. *queue.Queue implements it.
type Scheduler interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Observer receives stage metrics. *monitoring.Metrics implements it.
type Observer interface {
	ObserveStage(stage, outcome string)
	AddInflight(delta int)
	ObserveNoteIterations(n int)
	ObserveSubmission(outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, string) {}
func (nopObserver) AddInflight(int)             {}
func (nopObserver) ObserveNoteIterations(int)   {}
func (nopObserver) ObserveSubmission(string)    {}

// Deps are the collaborators of a Pipeline. Store, Strategies and Tracker
// are required.
type Deps struct {
	Store      store.Store
	Strategies *registry.Set
	Tracker    *jobs.Tracker
	// URLs validates note links. Defaults to a linkcheck validator.
	URLs      strategy.URLValidator
	Evaluator strategy.NoteEvaluator
	Transport strategy.SubmissionTransport
	// Scheduler receives triggered work. Without one, triggered work runs
	// inline before the triggering call returns.
	Scheduler Scheduler
	Breakers  *resilience.ServiceBreakers
	Observer  Observer
}

// Pipeline orchestrates the stages for all content items.
type Pipeline struct {
	cfg       config.PipelineConfig
	reconcile config.ReconcileConfig
	retry     resilience.RetryConfig

	store      store.Store
	strategies *registry.Set
	tracker    *jobs.Tracker
	urls       strategy.URLValidator
	evaluator  strategy.NoteEvaluator
	transport  strategy.SubmissionTransport
	sched      Scheduler
	breakers   *resilience.ServiceBreakers
	obs        Observer

	// factChecks is the only gate on concurrent fact-check executions.
	factChecks *semaphore.Weighted
	background sync.WaitGroup
	now        func() time.Time
}

// New creates a Pipeline. Unset limits fall back to the configuration
// defaults.
func New(cfg *config.Config, deps Deps) *Pipeline {
	pc := cfg.Pipeline
	if pc.FactCheckConcurrency <= 0 {
		pc.FactCheckConcurrency = 15
	}
	if pc.ClassifyConcurrency <= 0 {
		pc.ClassifyConcurrency = 5
	}
	if pc.EligibilityConcurrency <= 0 {
		pc.EligibilityConcurrency = 8
	}
	if pc.MaxNoteIterations <= 0 {
		pc.MaxNoteIterations = 3
	}
	if pc.MaxNoteLinks <= 0 {
		pc.MaxNoteLinks = 5
	}

	rc := cfg.Reconcile
	if rc.BatchSize <= 0 {
		rc.BatchSize = 200
	}
	if rc.Concurrency <= 0 {
		rc.Concurrency = 4
	}
	if rc.PendingTimeoutMins <= 0 {
		rc.PendingTimeoutMins = 30
	}

	p := &Pipeline{
		cfg:        pc,
		reconcile:  rc,
		retry:      resilience.NewRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs, 0),
		store:      deps.Store,
		strategies: deps.Strategies,
		tracker:    deps.Tracker,
		urls:       deps.URLs,
		evaluator:  deps.Evaluator,
		transport:  deps.Transport,
		sched:      deps.Scheduler,
		breakers:   deps.Breakers,
		obs:        deps.Observer,
		factChecks: semaphore.NewWeighted(int64(pc.FactCheckConcurrency)),
		now:        time.Now,
	}
	if p.urls == nil {
		p.urls = linkcheck.New(linkcheck.Options{})
	}
	if p.breakers == nil {
		cbCfg := resilience.NewCircuitBreakerConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)
		// Rejections do not trip a breaker.
		cbCfg.ShouldTrip = resilience.IsTransient
		p.breakers = resilience.NewServiceBreakers(cbCfg)
	}
	if p.obs == nil {
		p.obs = nopObserver{}
	}
	if p.tracker == nil {
		p.tracker = jobs.NewTracker(jobs.NewMemoryStore())
	}
	return p
}

// Wait blocks until background batch jobs have finished.
func (p *Pipeline) Wait() {
	p.background.Wait()
}

// trigger hands t to the scheduler, or runs it inline when there is none.
func (p *Pipeline) trigger(ctx context.Context, t queue.Task) error {
	if p.sched == nil {
		return p.HandleTask(ctx, t)
	}
	if err := p.sched.Enqueue(ctx, t); err != nil {
		return eris.Wrapf(err, "pipeline: schedule %s", t.Kind)
	}
	zap.L().Debug("pipeline: scheduled task",
		zap.String("kind", string(t.Kind)),
		zap.String("item_id", t.ItemID),
		zap.String("fact_check_id", t.FactCheckID),
		zap.String("note_id", t.NoteID),
	)
	return nil
}

// goBackground runs fn detached from the caller's cancellation and tracks it
// for Wait.
func (p *Pipeline) goBackground(ctx context.Context, fn func(ctx context.Context)) {
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		fn(context.WithoutCancel(ctx))
	}()
}
