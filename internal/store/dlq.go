package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/factcheck-cli/internal/resilience"
)

func (s *sqlStore) EnqueueDLQ(ctx context.Context, e resilience.DLQEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	ts := now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = ts
	}
	if e.LastFailedAt.IsZero() {
		e.LastFailedAt = ts
	}
	if e.NextRetryAt.IsZero() {
		e.NextRetryAt = ts
	}
	var payload any
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}
	_, err := s.c.exec(ctx, s.sb.Insert("dead_letter_queue").
		Columns("id", "task_kind", "payload", "error", "error_type", "retry_count", "max_retries",
			"next_retry_at", "created_at", "last_failed_at").
		Values(e.ID, e.TaskKind, payload, e.Error, e.ErrorType, e.RetryCount, e.MaxRetries,
			e.NextRetryAt.UTC(), e.CreatedAt.UTC(), e.LastFailedAt.UTC()))
	return s.wrapIter(err, "enqueue dlq "+e.TaskKind)
}

func (s *sqlStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	q := s.sb.Select(dlqColumns).From("dead_letter_queue").
		OrderBy("next_retry_at ASC", "id ASC").
		Limit(limitOf(filter.Limit))
	if filter.ErrorType != "" {
		q = q.Where(sq.Eq{"error_type": filter.ErrorType})
	}
	if filter.TaskKind != "" {
		q = q.Where(sq.Eq{"task_kind": filter.TaskKind})
	}
	if !filter.DueBefore.IsZero() {
		q = q.Where(sq.LtOrEq{"next_retry_at": filter.DueBefore.UTC()})
	}
	rows, err := s.c.query(ctx, q)
	if err != nil {
		return nil, s.wrap(err, "dequeue dlq")
	}
	defer rows.Close()

	var out []resilience.DLQEntry
	for rows.Next() {
		e, err := scanDLQ(rows)
		if err != nil {
			return nil, s.wrap(err, "scan dlq entry")
		}
		out = append(out, *e)
	}
	return out, s.wrapIter(rows.Err(), "dequeue dlq")
}

func (s *sqlStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	n, err := s.c.exec(ctx, s.sb.Update("dead_letter_queue").
		Set("retry_count", sq.Expr("retry_count + 1")).
		Set("next_retry_at", nextRetryAt.UTC()).
		Set("error", lastErr).
		Set("last_failed_at", now()).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return s.wrap(err, "increment dlq retry %s", id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "dlq entry %s", id)
	}
	return nil
}

func (s *sqlStore) RemoveDLQ(ctx context.Context, id string) error {
	n, err := s.c.exec(ctx, s.sb.Delete("dead_letter_queue").Where(sq.Eq{"id": id}))
	if err != nil {
		return s.wrap(err, "remove dlq %s", id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "dlq entry %s", id)
	}
	return nil
}

func (s *sqlStore) CountDLQ(ctx context.Context) (int, error) {
	var n int
	if err := s.c.queryRow(ctx, s.sb.Select("COUNT(*)").From("dead_letter_queue")).Scan(&n); err != nil {
		return 0, s.wrap(err, "count dlq")
	}
	return n, nil
}
