package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/queue"
	"github.com/sells-group/factcheck-cli/internal/registry"
)

func classifyFixture(t *testing.T) (*Pipeline, *recordingScheduler, *fakeClassifier, *model.ContentItem) {
	t.Helper()
	set := registry.NewSet()
	cls := &fakeClassifier{payload: model.NewSinglePayload("health", nil)}
	set.Classifiers.Register("x", cls)
	sched := &recordingScheduler{}
	p, s := newTestPipeline(t, nil, Deps{Strategies: set, Scheduler: sched})
	seedStrategy(t, s, model.StrategyKindClassifier, "x", true, model.OutputShapeSingle)
	return p, sched, cls, seedItem(t, s)
}

func TestClassify_RepeatCallSkips(t *testing.T) {
	p, sched, cls, item := classifyFixture(t)
	ctx := context.Background()

	first, err := p.Classify(ctx, item.ID, ClassifyOptions{Slugs: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)
	assert.Equal(t, 0, first.Skipped)
	assert.Empty(t, first.Errors)

	second, err := p.Classify(ctx, item.ID, ClassifyOptions{Slugs: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Skipped)

	results, err := p.store.ListClassifications(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.EqualValues(t, 1, cls.calls.Load())

	tasks := sched.ofKind(queue.KindEvaluateEligibility)
	require.Len(t, tasks, 1, "only the call that created a result triggers eligibility")
	assert.Equal(t, item.ID, tasks[0].ItemID)
}

func TestClassify_ForceReplaces(t *testing.T) {
	p, _, cls, item := classifyFixture(t)
	ctx := context.Background()

	_, err := p.Classify(ctx, item.ID, ClassifyOptions{})
	require.NoError(t, err)
	cls.payload = model.NewSinglePayload("politics", nil)

	res, err := p.Classify(ctx, item.ID, ClassifyOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	got, err := p.store.GetClassification(ctx, item.ID, "x")
	require.NoError(t, err)
	assert.Equal(t, "politics", got.Payload.Single.Value)
	assert.EqualValues(t, 2, cls.calls.Load())
}

func TestClassify_ShapeMismatchIsNotPersisted(t *testing.T) {
	set := registry.NewSet()
	set.Classifiers.Register("topics", &fakeClassifier{payload: model.NewSinglePayload("health", nil)})
	sched := &recordingScheduler{}
	p, s := newTestPipeline(t, nil, Deps{Strategies: set, Scheduler: sched})
	seedStrategy(t, s, model.StrategyKindClassifier, "topics", true, model.OutputShapeMulti)
	item := seedItem(t, s)

	res, err := p.Classify(context.Background(), item.ID, ClassifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "topics", res.Errors[0].Slug)
	assert.Contains(t, res.Errors[0].Error, "validation")

	results, err := s.ListClassifications(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, sched.ofKind(queue.KindEvaluateEligibility))
}

func TestClassify_FailureIsIsolated(t *testing.T) {
	set := registry.NewSet()
	set.Classifiers.Register("ok", &fakeClassifier{payload: model.NewSinglePayload("health", nil)})
	set.Classifiers.Register("broken", &fakeClassifier{err: errors.New("model overloaded")})
	p, s := newTestPipeline(t, nil, Deps{Strategies: set, Scheduler: &recordingScheduler{}})
	seedStrategy(t, s, model.StrategyKindClassifier, "ok", true, model.OutputShapeSingle)
	seedStrategy(t, s, model.StrategyKindClassifier, "broken", true, model.OutputShapeSingle)
	item := seedItem(t, s)

	res, err := p.Classify(context.Background(), item.ID, ClassifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "broken", res.Errors[0].Slug)
	assert.Contains(t, res.Errors[0].Error, "model overloaded")
}

func TestClassify_InactiveSkippedUnlessNamed(t *testing.T) {
	set := registry.NewSet()
	cls := &fakeClassifier{payload: model.NewSinglePayload("health", nil)}
	set.Classifiers.Register("dormant", cls)
	p, s := newTestPipeline(t, nil, Deps{Strategies: set, Scheduler: &recordingScheduler{}})
	seedStrategy(t, s, model.StrategyKindClassifier, "dormant", false, model.OutputShapeSingle)
	item := seedItem(t, s)
	ctx := context.Background()

	res, err := p.Classify(ctx, item.ID, ClassifyOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Zero(t, cls.calls.Load())

	res, err = p.Classify(ctx, item.ID, ClassifyOptions{Slugs: []string{"dormant"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
}

func TestClassify_UnknownSlugAborts(t *testing.T) {
	p, sched, cls, item := classifyFixture(t)

	_, err := p.Classify(context.Background(), item.ID, ClassifyOptions{Slugs: []string{"x", "nope"}})
	require.Error(t, err)
	assert.True(t, registry.IsUnknownStrategy(err))
	assert.Zero(t, cls.calls.Load())
	assert.Empty(t, sched.ofKind(queue.KindEvaluateEligibility))
}

func TestClassify_MissingItem(t *testing.T) {
	p, _, _, _ := classifyFixture(t)

	_, err := p.Classify(context.Background(), "no-such-item", ClassifyOptions{})
	require.Error(t, err)
}

func TestClassifyBatch(t *testing.T) {
	p, _, _, first := classifyFixture(t)
	ctx := context.Background()
	second := seedItem(t, p.store)

	_, err := p.Classify(ctx, second.ID, ClassifyOptions{})
	require.NoError(t, err)
	third := seedItem(t, p.store)

	status, err := p.ClassifyBatch(ctx, []string{first.ID, second.ID, third.ID, "missing"}, ClassifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, status.Status)
	assert.Equal(t, 4, status.Total)
	assert.Equal(t, 4, status.Processed)
	assert.Equal(t, 2, status.Succeeded)
	assert.Equal(t, 1, status.Skipped)
	require.Len(t, status.Errors, 1)
	assert.Contains(t, status.Errors[0], "missing")
	assert.InDelta(t, 100.0, status.ProgressPercentage, 0.001)
}

func TestStartClassifyBatch_Polls(t *testing.T) {
	p, _, _, item := classifyFixture(t)
	ctx := context.Background()

	id, err := p.StartClassifyBatch(ctx, []string{item.ID}, ClassifyOptions{})
	require.NoError(t, err)
	p.Wait()

	status, err := p.tracker.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, status.Status)
	assert.Equal(t, 1, status.Succeeded)
}

func TestStartClassifyBatch_UnknownSlug(t *testing.T) {
	p, _, _, item := classifyFixture(t)

	_, err := p.StartClassifyBatch(context.Background(), []string{item.ID}, ClassifyOptions{Slugs: []string{"nope"}})
	assert.True(t, registry.IsUnknownStrategy(err))
}
