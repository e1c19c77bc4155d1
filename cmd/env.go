package main

import (
	"context"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/cost"
	"github.com/sells-group/factcheck-cli/internal/jobs"
	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/monitoring"
	"github.com/sells-group/factcheck-cli/internal/pipeline"
	"github.com/sells-group/factcheck-cli/internal/queue"
	"github.com/sells-group/factcheck-cli/internal/registry"
	"github.com/sells-group/factcheck-cli/internal/resilience"
	"github.com/sells-group/factcheck-cli/internal/store"
	"github.com/sells-group/factcheck-cli/internal/strategy/llm"
	anthropicpkg "github.com/sells-group/factcheck-cli/pkg/anthropic"
	"github.com/sells-group/factcheck-cli/pkg/linkcheck"
	"github.com/sells-group/factcheck-cli/pkg/notes"
	"github.com/sells-group/factcheck-cli/pkg/notion"
	"github.com/sells-group/factcheck-cli/pkg/perplexity"
)

// appEnv holds the store, clients, registries and the pipeline needed by
// the pipeline commands.
type appEnv struct {
	Store      store.Store
	JobStore   jobs.JobStore
	Tracker    *jobs.Tracker
	Strategies *registry.Set
	Records    []model.StrategyRecord
	Notes      *notes.Client // nil without notes.base_url
	Queue      *queue.Queue  // nil unless requested
	Breakers   *resilience.ServiceBreakers
	Registry   *prometheus.Registry
	Metrics    *monitoring.Metrics
	Pipeline   *pipeline.Pipeline
}

// Close releases resources held by the environment. The queue is drained
// before the stores close.
func (e *appEnv) Close() {
	if e.Queue != nil {
		e.Queue.Close()
	}
	if e.Pipeline != nil {
		e.Pipeline.Wait()
	}
	if e.JobStore != nil {
		_ = e.JobStore.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, job tracker, strategy registry, clients and the
// Pipeline for the given config mode. With withQueue the pipeline schedules
// triggered work on a worker queue that the caller must Start; otherwise
// triggered work runs inline. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string, withQueue bool) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	env.JobStore, err = initJobStore()
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "open job store")
	}
	env.Tracker = jobs.NewTracker(env.JobStore)

	env.Records, err = loadStrategyRecords(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	if err := registry.SyncStrategies(ctx, st, env.Records); err != nil {
		env.Close()
		return nil, err
	}
	env.Strategies = registry.NewSet()
	if err := llm.RegisterAll(env.Strategies, env.Records, llm.Deps{
		Anthropic:  anthropicpkg.NewClient(cfg.Anthropic.Key),
		Perplexity: perplexity.NewClient(cfg.Perplexity.Key, perplexity.WithBaseURL(cfg.Perplexity.BaseURL), perplexity.WithModel(cfg.Perplexity.Model)),
		Model:      cfg.Anthropic.Model,
		FastModel:  cfg.Anthropic.FastModel,
		MaxTokens:  cfg.Anthropic.MaxTokens,
		Cost:       cost.NewCalculator(pricing()),
	}); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "register strategies")
	}

	env.Registry = prometheus.NewRegistry()
	env.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	env.Metrics = monitoring.NewMetrics(env.Registry)
	cbCfg := resilience.NewCircuitBreakerConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)
	cbCfg.ShouldTrip = resilience.IsTransient
	env.Breakers = resilience.NewServiceBreakers(cbCfg)

	deps := pipeline.Deps{
		Store:      st,
		Strategies: env.Strategies,
		Tracker:    env.Tracker,
		URLs: linkcheck.New(linkcheck.Options{
			UserAgent:         cfg.LinkCheck.UserAgent,
			Timeout:           time.Duration(cfg.LinkCheck.TimeoutSecs) * time.Second,
			Concurrency:       cfg.LinkCheck.Concurrency,
			RequestsPerSecond: cfg.LinkCheck.RequestsPerSecond,
		}),
		Breakers: env.Breakers,
		Observer: env.Metrics,
	}

	if cfg.Notes.BaseURL != "" {
		env.Notes = notes.NewClient(cfg.Notes.BaseURL, cfg.Notes.Key,
			notes.WithRateLimit(cfg.Notes.RequestsPerSecond),
			notes.WithTimeout(time.Duration(cfg.Notes.TimeoutSecs)*time.Second),
		)
		deps.Evaluator = env.Notes
		deps.Transport = env.Notes
	} else {
		zap.L().Warn("notes.base_url not set, evaluation and submission disabled")
	}

	if withQueue {
		qcfg := queue.DefaultConfig()
		qcfg.Workers = cfg.Queue.Workers
		qcfg.Capacity = cfg.Queue.Capacity
		qcfg.MaxAttempts = cfg.Queue.MaxAttempts
		qcfg.Retry = resilience.NewRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs, 0)
		env.Queue = queue.New(qcfg, nil, st)
		env.Queue.SetObserver(env.Metrics)
		deps.Scheduler = env.Queue
	}

	env.Pipeline = pipeline.New(cfg, deps)
	if env.Queue != nil {
		env.Queue.SetHandler(env.Pipeline.HandleTask)
	}
	return env, nil
}

// loadStrategyRecords reads strategy records from the Notion database when
// one is configured and from the fixture file otherwise. A missing fixture
// file yields no strategies.
func loadStrategyRecords(ctx context.Context) ([]model.StrategyRecord, error) {
	if cfg.Notion.Token != "" && cfg.Notion.StrategyDB != "" {
		recs, err := registry.LoadStrategyRecords(ctx, notion.NewClient(cfg.Notion.Token), cfg.Notion.StrategyDB)
		if err != nil {
			return nil, eris.Wrap(err, "load strategy records")
		}
		return recs, nil
	}

	path := cfg.Pipeline.StrategiesPath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		zap.L().Warn("no strategies file, starting without strategies", zap.String("path", path))
		return nil, nil
	}
	recs, err := registry.LoadStrategiesFromFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "load strategy fixtures")
	}
	return recs, nil
}

// pricing returns the configured rates, falling back to the built-in table
// when none are set.
func pricing() cost.Rates {
	if len(cfg.Pricing.Anthropic) == 0 && cfg.Pricing.Perplexity.PerQuery == 0 {
		return cost.DefaultRates()
	}
	return cfg.Pricing
}
