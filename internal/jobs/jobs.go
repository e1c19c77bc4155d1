// Package jobs tracks the progress of batch operations. Progress lives in a
// JobStore so pollers see it across requests and, with the badger store,
// across restarts.
package jobs

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/factcheck-cli/internal/model"
)

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = eris.New("job not found")

// JobStore persists batch jobs. Update must apply fn atomically: concurrent
// updates to the same job never lose an increment.
type JobStore interface {
	Create(ctx context.Context, job model.BatchJob) error
	Get(ctx context.Context, id string) (*model.BatchJob, error)
	Update(ctx context.Context, id string, fn func(*model.BatchJob) error) (*model.BatchJob, error)
	List(ctx context.Context, limit int) ([]model.BatchJob, error)
	Close() error
}

// maxErrors bounds the error list kept per job.
const maxErrors = 200
