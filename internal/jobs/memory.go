package jobs

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/factcheck-cli/internal/model"
)

// MemoryStore keeps jobs in process memory. Jobs are lost on restart.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*model.BatchJob
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*model.BatchJob)}
}

func (m *MemoryStore) Create(_ context.Context, job model.BatchJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return eris.Errorf("jobs: job %s already exists", job.ID)
	}
	m.jobs[job.ID] = clone(&job)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*model.BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(j), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*model.BatchJob) error) (*model.BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := clone(j)
	if err := fn(next); err != nil {
		return nil, err
	}
	m.jobs[id] = next
	return clone(next), nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]model.BatchJob, error) {
	m.mu.Lock()
	out := make([]model.BatchJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *clone(j))
	}
	m.mu.Unlock()
	return newestFirst(out, limit), nil
}

func (m *MemoryStore) Close() error { return nil }

func clone(j *model.BatchJob) *model.BatchJob {
	c := *j
	c.Errors = slices.Clone(j.Errors)
	return &c
}

func newestFirst(jobs []model.BatchJob, limit int) []model.BatchJob {
	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].ID > jobs[b].ID
		}
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}
