package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type memDLQ struct {
	mu      sync.Mutex
	entries map[string]resilience.DLQEntry
}

func newMemDLQ() *memDLQ { return &memDLQ{entries: map[string]resilience.DLQEntry{}} }

func (m *memDLQ) EnqueueDLQ(_ context.Context, e resilience.DLQEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e
	return nil
}

func (m *memDLQ) DequeueDLQ(_ context.Context, f resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []resilience.DLQEntry
	for _, e := range m.entries {
		if f.ErrorType != "" && e.ErrorType != f.ErrorType {
			continue
		}
		if !f.DueBefore.IsZero() && e.NextRetryAt.After(f.DueBefore) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memDLQ) IncrementDLQRetry(_ context.Context, id string, next time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	e.RetryCount++
	e.NextRetryAt = next
	e.Error = lastErr
	m.entries[id] = e
	return nil
}

func (m *memDLQ) RemoveDLQ(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *memDLQ) all() []resilience.DLQEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]resilience.DLQEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *countingObserver) SetQueueDepth(int) {}

func (o *countingObserver) ObserveTask(_, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[outcome]++
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.Capacity = 4
	cfg.Retry = resilience.RetryConfig{InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 1}
	return cfg
}

func transient() error {
	return resilience.NewTransientError(errors.New("upstream 503"), 503)
}

func TestQueue_RunsEveryTask(t *testing.T) {
	var ran atomic.Int32
	q := New(testConfig(), func(context.Context, Task) error {
		ran.Add(1)
		return nil
	}, newMemDLQ())
	obs := &countingObserver{}
	q.SetObserver(obs)
	q.Start(context.Background())

	for range 20 {
		require.NoError(t, q.Enqueue(context.Background(), Task{Kind: KindWriteNote}))
	}
	q.Close()

	assert.Equal(t, int32(20), ran.Load())
	assert.Equal(t, 0, q.Depth())
	assert.Equal(t, 20, obs.outcomes[OutcomeSucceeded])
}

func TestQueue_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	dlq := newMemDLQ()
	q := New(testConfig(), func(_ context.Context, task Task) error {
		if calls.Add(1) < 3 {
			return transient()
		}
		assert.Equal(t, 3, task.Attempt)
		return nil
	}, dlq)
	q.Start(context.Background())
	require.NoError(t, q.Enqueue(context.Background(), Task{Kind: KindSubmitNote}))
	q.Close()

	assert.Equal(t, int32(3), calls.Load())
	assert.Empty(t, dlq.all())
}

func TestQueue_DeadLettersExhaustedTask(t *testing.T) {
	dlq := newMemDLQ()
	var calls atomic.Int32
	q := New(testConfig(), func(context.Context, Task) error {
		calls.Add(1)
		return transient()
	}, dlq)
	q.Start(context.Background())
	require.NoError(t, q.Enqueue(context.Background(), Task{Kind: KindExecuteFactCheck, FactCheckID: "fc-1"}))
	q.Close()

	assert.Equal(t, int32(3), calls.Load())
	entries := dlq.all()
	require.Len(t, entries, 1)
	assert.Equal(t, resilience.ErrorTransient, entries[0].ErrorType)
	assert.Equal(t, string(KindExecuteFactCheck), entries[0].TaskKind)

	var task Task
	require.NoError(t, json.Unmarshal(entries[0].Payload, &task))
	assert.Equal(t, "fc-1", task.FactCheckID)
}

func TestQueue_PermanentFailureNotRetried(t *testing.T) {
	dlq := newMemDLQ()
	var calls atomic.Int32
	q := New(testConfig(), func(context.Context, Task) error {
		calls.Add(1)
		return errors.New("unknown strategy")
	}, dlq)
	q.Start(context.Background())
	require.NoError(t, q.Enqueue(context.Background(), Task{Kind: KindEvaluateEligibility}))
	q.Close()

	assert.Equal(t, int32(1), calls.Load())
	entries := dlq.all()
	require.Len(t, entries, 1)
	assert.Equal(t, resilience.ErrorPermanent, entries[0].ErrorType)
}

func TestQueue_EnqueueBlocksWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.Capacity = 1
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := New(cfg, func(context.Context, Task) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}, newMemDLQ())
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), Task{Kind: KindWriteNote}))
	<-started
	require.NoError(t, q.Enqueue(context.Background(), Task{Kind: KindWriteNote}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, Task{Kind: KindWriteNote})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(release)
	q.Close()
}

func TestQueue_HandlerFollowUpsDoNotBlock(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.Capacity = 1
	var q *Queue
	var notes atomic.Int32
	q = New(cfg, func(ctx context.Context, task Task) error {
		if task.Kind == KindWriteNote {
			notes.Add(1)
			return nil
		}
		for range 3 {
			if err := q.Enqueue(ctx, Task{Kind: KindWriteNote, FactCheckID: task.FactCheckID}); err != nil {
				return err
			}
		}
		return nil
	}, newMemDLQ())
	q.Start(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 4 {
			assert.NoError(t, q.Enqueue(context.Background(), Task{Kind: KindExecuteFactCheck}))
		}
		q.Close()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue stalled on follow-up tasks")
	}
	assert.Equal(t, int32(12), notes.Load())
	assert.Equal(t, 0, q.Depth())
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q := New(testConfig(), func(context.Context, Task) error { return nil }, nil)
	q.Start(context.Background())
	q.Close()
	q.Close()
	assert.True(t, errors.Is(q.Enqueue(context.Background(), Task{}), ErrClosed))
}

func TestQueue_CloseWithoutWorkersDeadLetters(t *testing.T) {
	dlq := newMemDLQ()
	q := New(testConfig(), func(context.Context, Task) error { return nil }, dlq)
	require.NoError(t, q.Enqueue(context.Background(), Task{Kind: KindWriteNote}))
	q.Close()

	entries := dlq.all()
	require.Len(t, entries, 1)
	assert.Equal(t, resilience.ErrorTransient, entries[0].ErrorType)
}

func TestQueue_ReplayDLQ(t *testing.T) {
	ctx := context.Background()
	dlq := newMemDLQ()
	past := time.Now().Add(-time.Minute)
	okTask, _ := json.Marshal(Task{ID: "ok", Kind: KindSubmitNote, NoteID: "n1"})
	badTask, _ := json.Marshal(Task{ID: "bad", Kind: KindSubmitNote, NoteID: "n2"})
	futureTask, _ := json.Marshal(Task{ID: "later", Kind: KindSubmitNote})

	require.NoError(t, dlq.EnqueueDLQ(ctx, resilience.DLQEntry{ID: "d1", Payload: okTask, ErrorType: resilience.ErrorTransient, MaxRetries: 3, NextRetryAt: past}))
	require.NoError(t, dlq.EnqueueDLQ(ctx, resilience.DLQEntry{ID: "d2", Payload: badTask, ErrorType: resilience.ErrorTransient, MaxRetries: 3, NextRetryAt: past}))
	require.NoError(t, dlq.EnqueueDLQ(ctx, resilience.DLQEntry{ID: "d3", Payload: futureTask, ErrorType: resilience.ErrorTransient, MaxRetries: 3, NextRetryAt: time.Now().Add(time.Hour)}))
	require.NoError(t, dlq.EnqueueDLQ(ctx, resilience.DLQEntry{ID: "d4", Payload: okTask, ErrorType: resilience.ErrorPermanent, MaxRetries: 3, NextRetryAt: past}))

	var seen sync.Map
	q := New(testConfig(), func(_ context.Context, task Task) error {
		seen.Store(task.ID, true)
		if task.NoteID == "n2" {
			return errors.New("still failing")
		}
		return nil
	}, dlq)

	n, err := q.ReplayDLQ(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ranLater := seen.Load("later")
	assert.False(t, ranLater)

	dlq.mu.Lock()
	defer dlq.mu.Unlock()
	assert.NotContains(t, dlq.entries, "d1")
	require.Contains(t, dlq.entries, "d2")
	assert.Equal(t, 1, dlq.entries["d2"].RetryCount)
	assert.True(t, dlq.entries["d2"].NextRetryAt.After(time.Now()))
	assert.Equal(t, "still failing", dlq.entries["d2"].Error)
	assert.Contains(t, dlq.entries, "d3")
	assert.Contains(t, dlq.entries, "d4")
}
