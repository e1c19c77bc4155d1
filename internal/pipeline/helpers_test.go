package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/config"
	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/queue"
	"github.com/sells-group/factcheck-cli/internal/registry"
	"github.com/sells-group/factcheck-cli/internal/store"
	"github.com/sells-group/factcheck-cli/internal/strategy"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			FactCheckConcurrency:   15,
			ClassifyConcurrency:    5,
			EligibilityConcurrency: 8,
			MaxNoteIterations:      3,
			MaxNoteLinks:           5,
			AutoSubmitThreshold:    -0.5,
			AutoSubmit:             true,
			MoreDetailsURL:         "https://factcheck.test/fact-checks/%s",
		},
		Retry: config.RetryConfig{MaxAttempts: 1},
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// newTestPipeline fills unset deps with a fresh SQLite store, an empty
// registry set and a validator that accepts every link.
func newTestPipeline(t *testing.T, cfg *config.Config, deps Deps) (*Pipeline, store.Store) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	if deps.Store == nil {
		deps.Store = newTestStore(t)
	}
	if deps.Strategies == nil {
		deps.Strategies = registry.NewSet()
	}
	if deps.URLs == nil {
		deps.URLs = &fakeValidator{}
	}
	p := New(cfg, deps)
	t.Cleanup(p.Wait)
	return p, deps.Store
}

var itemSeq atomic.Int64

func seedItem(t *testing.T, s store.Store) *model.ContentItem {
	t.Helper()
	it, err := s.UpsertItem(context.Background(), model.ContentItem{
		Platform:       "x",
		PlatformItemID: fmt.Sprintf("post-%d", itemSeq.Add(1)),
		Text:           "Drinking bleach cures the flu.",
	})
	require.NoError(t, err)
	return it
}

func seedStrategy(t *testing.T, s store.Store, kind model.StrategyKind, slug string, active bool, shape model.OutputShape) {
	t.Helper()
	require.NoError(t, s.UpsertStrategy(context.Background(), model.StrategyRecord{
		Slug:        slug,
		Kind:        kind,
		Name:        slug,
		Active:      active,
		OutputShape: shape,
	}))
}

// seedCompletedFactCheck drives a fact check to completed through the store.
func seedCompletedFactCheck(t *testing.T, s store.Store, itemID, slug string) *model.FactCheck {
	t.Helper()
	ctx := context.Background()
	fc, err := s.CreateFactCheck(ctx, itemID, slug)
	require.NoError(t, err)
	_, err = s.TransitionFactCheck(ctx, fc.ID, model.FactCheckPending, store.FactCheckUpdate{Status: model.FactCheckProcessing})
	require.NoError(t, err)
	fc, err = s.TransitionFactCheck(ctx, fc.ID, model.FactCheckProcessing, store.FactCheckUpdate{
		Status:     model.FactCheckCompleted,
		Verdict:    model.VerdictFalse,
		Confidence: 0.92,
		Body:       "Health agencies warn bleach is poisonous.",
	})
	require.NoError(t, err)
	return fc
}

type fakeClassifier struct {
	payload *model.ClassificationPayload
	err     error
	calls   atomic.Int32
}

func (f *fakeClassifier) Classify(context.Context, model.ContentItem) (*model.ClassificationPayload, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.payload
	return &cp, nil
}

type fakeFactChecker struct {
	eligible bool
	reason   string
	eligErr  error
	out      strategy.FactCheckOutput
	err      error
	// gate, when set, holds every FactCheck call until it is closed.
	gate chan struct{}

	calls   atomic.Int32
	running atomic.Int32
	peak    atomic.Int32
}

func (f *fakeFactChecker) ShouldRun(context.Context, model.ContentItem, []model.ClassificationResult) (strategy.Eligibility, error) {
	if f.eligErr != nil {
		return strategy.Eligibility{}, f.eligErr
	}
	return strategy.Eligibility{ShouldRun: f.eligible, Reason: f.reason}, nil
}

func (f *fakeFactChecker) FactCheck(context.Context, model.ContentItem) (*strategy.FactCheckOutput, error) {
	f.calls.Add(1)
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	out := f.out
	return &out, nil
}

// scriptedWriter returns its drafts in order and repeats the last one.
type scriptedWriter struct {
	drafts []strategy.NoteDraft
	err    error

	mu       sync.Mutex
	requests []strategy.NoteRequest
}

func (w *scriptedWriter) WriteNote(_ context.Context, req strategy.NoteRequest) (*strategy.NoteDraft, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests = append(w.requests, req)
	if w.err != nil {
		return nil, w.err
	}
	d := w.drafts[min(len(w.requests), len(w.drafts))-1]
	d.Links = slices.Clone(d.Links)
	return &d, nil
}

func (w *scriptedWriter) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.requests)
}

// fakeValidator rejects the links in invalid with their diagnostic.
type fakeValidator struct {
	invalid map[string]string
	err     error
}

func (v *fakeValidator) Validate(_ context.Context, urls []string) ([]strategy.URLCheck, error) {
	if v.err != nil {
		return nil, v.err
	}
	out := make([]strategy.URLCheck, 0, len(urls))
	for _, u := range urls {
		diag, bad := v.invalid[u]
		out = append(out, strategy.URLCheck{URL: u, Valid: !bad, Diagnostic: diag})
	}
	return out, nil
}

type fakeEvaluator struct {
	score float64
	err   error
	calls atomic.Int32
}

func (e *fakeEvaluator) Evaluate(context.Context, string, string) (float64, error) {
	e.calls.Add(1)
	return e.score, e.err
}

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Submit(ctx context.Context, payload model.SubmissionPayload) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

func (m *mockTransport) Status(ctx context.Context, externalID string) (string, error) {
	args := m.Called(ctx, externalID)
	return args.String(0), args.Error(1)
}

type recordingScheduler struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
}

func (r *recordingScheduler) Enqueue(_ context.Context, t queue.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *recordingScheduler) ofKind(kind queue.Kind) []queue.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []queue.Task
	for _, t := range r.tasks {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

type countingObserver struct {
	mu          sync.Mutex
	stages      map[string]int
	submissions map[string]int
	iterations  []int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{stages: map[string]int{}, submissions: map[string]int{}}
}

func (o *countingObserver) ObserveStage(stage, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages[stage+"/"+outcome]++
}

func (o *countingObserver) AddInflight(int) {}

func (o *countingObserver) ObserveNoteIterations(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.iterations = append(o.iterations, n)
}

func (o *countingObserver) ObserveSubmission(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submissions[outcome]++
}

func (o *countingObserver) stage(stage, outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stages[stage+"/"+outcome]
}
