// Package queue runs pipeline stage triggers on a bounded pool of workers.
// Tasks that keep failing are written to the dead letter queue, from which
// they can be replayed.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/resilience"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = eris.New("queue: closed")

// Handler runs one task. Returned errors that resilience classifies as
// transient are retried.
type Handler func(ctx context.Context, t Task) error

// DeadLetters persists tasks that exhausted their attempts.
type DeadLetters interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
}

// Observer receives queue metrics.
type Observer interface {
	SetQueueDepth(n int)
	ObserveTask(kind, outcome string)
}

// Task outcomes reported to the Observer.
const (
	OutcomeSucceeded    = "succeeded"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeReplayed     = "replayed"
)

// Config sizes the queue.
type Config struct {
	Workers     int
	Capacity    int
	MaxAttempts int
	Retry       resilience.RetryConfig
	// DLQMaxReplays bounds how often a dead-lettered task is replayed.
	DLQMaxReplays  int
	DLQBaseBackoff time.Duration
	DLQMaxBackoff  time.Duration
}

// DefaultConfig returns the defaults used when no configuration is given.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		Capacity:       256,
		MaxAttempts:    3,
		Retry:          resilience.DefaultRetryConfig(),
		DLQMaxReplays:  5,
		DLQBaseBackoff: time.Minute,
		DLQMaxBackoff:  time.Hour,
	}
}

// Queue is a bounded in-process task queue. Tasks enqueued by a running
// handler never block: when the channel is full they go to an overflow lane
// that workers drain first.
type Queue struct {
	cfg      Config
	handler  Handler
	dlq      DeadLetters
	observer Observer

	tasks chan Task
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
	ctx   context.Context
	depth atomic.Int64

	mu       sync.Mutex
	overflow []Task
}

// workerKey marks contexts handed to handlers by this queue's workers.
type workerKey struct{}

// New creates a queue. handler must be set before Start.
func New(cfg Config, handler Handler, dlq DeadLetters) *Queue {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.DLQMaxReplays <= 0 {
		cfg.DLQMaxReplays = def.DLQMaxReplays
	}
	if cfg.DLQBaseBackoff <= 0 {
		cfg.DLQBaseBackoff = def.DLQBaseBackoff
	}
	if cfg.DLQMaxBackoff <= 0 {
		cfg.DLQMaxBackoff = def.DLQMaxBackoff
	}
	cfg.Retry.MaxAttempts = cfg.MaxAttempts
	return &Queue{
		cfg:     cfg,
		handler: handler,
		dlq:     dlq,
		tasks:   make(chan Task, cfg.Capacity),
		quit:    make(chan struct{}),
	}
}

// SetHandler replaces the handler. It must be called before Start.
func (q *Queue) SetHandler(h Handler) { q.handler = h }

// SetObserver attaches a metrics observer. It must be called before Start.
func (q *Queue) SetObserver(o Observer) { q.observer = o }

// Start launches the workers. Handlers run with ctx.
func (q *Queue) Start(ctx context.Context) {
	q.ctx = ctx
	for i := range q.cfg.Workers {
		q.wg.Add(1)
		go q.work(i)
	}
	zap.L().Info("queue: started", zap.Int("workers", q.cfg.Workers), zap.Int("capacity", q.cfg.Capacity))
}

// Enqueue adds a task, blocking while the queue is full until ctx is done.
// Calls made from within a handler never block; a worker waiting on its own
// queue would stall the pool once every worker did it.
func (q *Queue) Enqueue(ctx context.Context, t Task) error {
	fromWorker := ctx.Value(workerKey{}) == q
	if !fromWorker {
		select {
		case <-q.quit:
			return ErrClosed
		default:
		}
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}

	if fromWorker {
		select {
		case q.tasks <- t:
		default:
			q.mu.Lock()
			q.overflow = append(q.overflow, t)
			q.mu.Unlock()
		}
		q.setDepth(q.depth.Add(1))
		return nil
	}

	select {
	case q.tasks <- t:
		q.setDepth(q.depth.Add(1))
		return nil
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "queue: enqueue %s", t.Kind)
	case <-q.quit:
		return ErrClosed
	}
}

// Depth returns the number of tasks waiting for a worker.
func (q *Queue) Depth() int { return int(q.depth.Load()) }

// Close stops accepting tasks, lets workers drain what is queued and waits
// for them. Tasks that slip in after the drain are dead-lettered so they can
// be replayed later.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.quit)
		q.wg.Wait()
		ctx := q.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		for {
			t, ok := q.next()
			if !ok {
				zap.L().Info("queue: closed")
				return
			}
			q.deadLetter(context.WithoutCancel(ctx), t, eris.New("queue: shut down before task ran"), resilience.ErrorTransient)
		}
	})
}

func (q *Queue) work(id int) {
	defer q.wg.Done()
	for {
		if t, ok := q.popOverflow(); ok {
			q.process(t)
			continue
		}
		select {
		case t := <-q.tasks:
			q.setDepth(q.depth.Add(-1))
			q.process(t)
		case <-q.quit:
			for {
				t, ok := q.next()
				if !ok {
					zap.L().Debug("queue: worker stopped", zap.Int("worker", id))
					return
				}
				q.process(t)
			}
		}
	}
}

// next returns a waiting task without blocking, overflow first.
func (q *Queue) next() (Task, bool) {
	if t, ok := q.popOverflow(); ok {
		return t, true
	}
	select {
	case t := <-q.tasks:
		q.setDepth(q.depth.Add(-1))
		return t, true
	default:
		return Task{}, false
	}
}

func (q *Queue) popOverflow() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.overflow) == 0 {
		return Task{}, false
	}
	t := q.overflow[0]
	q.overflow[0] = Task{}
	q.overflow = q.overflow[1:]
	q.setDepth(q.depth.Add(-1))
	return t, true
}

func (q *Queue) process(t Task) {
	ctx := context.WithValue(q.ctx, workerKey{}, q)
	retry := q.cfg.Retry
	retry.OnRetry = func(attempt int, err error) {
		zap.L().Warn("queue: retrying task",
			zap.String("task_id", t.ID),
			zap.String("kind", string(t.Kind)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		t.Attempt++
		return q.handler(ctx, t)
	})
	if err == nil {
		q.observe(t.Kind, OutcomeSucceeded)
		return
	}

	zap.L().Error("queue: task failed",
		zap.String("task_id", t.ID),
		zap.String("kind", string(t.Kind)),
		zap.Int("attempts", t.Attempt),
		zap.Error(err),
	)
	q.deadLetter(context.WithoutCancel(ctx), t, err, resilience.ClassifyError(err))
}

func (q *Queue) deadLetter(ctx context.Context, t Task, cause error, errorType string) {
	if q.dlq == nil {
		return
	}
	payload, err := json.Marshal(t)
	if err != nil {
		zap.L().Error("queue: marshal dead letter", zap.String("task_id", t.ID), zap.Error(err))
		return
	}
	now := time.Now().UTC()
	entry := resilience.DLQEntry{
		ID:           uuid.New().String(),
		TaskKind:     string(t.Kind),
		Payload:      payload,
		Error:        cause.Error(),
		ErrorType:    errorType,
		MaxRetries:   q.cfg.DLQMaxReplays,
		NextRetryAt:  now.Add(q.cfg.DLQBaseBackoff),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := q.dlq.EnqueueDLQ(ctx, entry); err != nil {
		zap.L().Error("queue: persist dead letter", zap.String("task_id", t.ID), zap.Error(err))
		return
	}
	q.observe(t.Kind, OutcomeDeadLettered)
}

// ReplayDLQ re-runs due, retryable dead letters through the handler. Entries
// that succeed are removed; failures are rescheduled with a longer backoff.
// It returns the number of entries that succeeded.
func (q *Queue) ReplayDLQ(ctx context.Context, limit int) (int, error) {
	if q.dlq == nil {
		return 0, nil
	}
	entries, err := q.dlq.DequeueDLQ(ctx, resilience.DLQFilter{
		ErrorType: resilience.ErrorTransient,
		DueBefore: time.Now().UTC(),
		Limit:     limit,
	})
	if err != nil {
		return 0, eris.Wrap(err, "queue: read dead letters")
	}

	replayed := 0
	for _, e := range entries {
		if !e.CanRetry() {
			continue
		}
		var t Task
		if err := json.Unmarshal(e.Payload, &t); err != nil {
			zap.L().Error("queue: undecodable dead letter", zap.String("dlq_id", e.ID), zap.Error(err))
			continue
		}
		t.Attempt = 0

		if runErr := q.handler(ctx, t); runErr != nil {
			next := e.NextBackoff(time.Now().UTC(), q.cfg.DLQBaseBackoff, q.cfg.DLQMaxBackoff)
			if err := q.dlq.IncrementDLQRetry(ctx, e.ID, next, runErr.Error()); err != nil {
				return replayed, eris.Wrapf(err, "queue: reschedule %s", e.ID)
			}
			zap.L().Warn("queue: replay failed",
				zap.String("dlq_id", e.ID),
				zap.String("kind", e.TaskKind),
				zap.Int("retry_count", e.RetryCount+1),
				zap.Error(runErr),
			)
			continue
		}
		if err := q.dlq.RemoveDLQ(ctx, e.ID); err != nil {
			return replayed, eris.Wrapf(err, "queue: remove %s", e.ID)
		}
		replayed++
		q.observe(t.Kind, OutcomeReplayed)
	}
	return replayed, nil
}

func (q *Queue) setDepth(n int64) {
	if q.observer != nil {
		q.observer.SetQueueDepth(int(n))
	}
}

func (q *Queue) observe(kind Kind, outcome string) {
	if q.observer != nil {
		q.observer.ObserveTask(string(kind), outcome)
	}
}
