package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/model"
)

// BadgerConfig configures the embedded job store.
type BadgerConfig struct {
	Path     string
	InMemory bool
	// TTL expires finished and abandoned jobs. Zero keeps them forever.
	TTL time.Duration
	// GCInterval runs value-log GC periodically. Zero disables it.
	GCInterval time.Duration
}

const (
	keyPrefix          = "job/"
	maxConflictRetries = 64
)

// BadgerStore persists jobs in an embedded badger database. Updates run in
// read-write transactions and are retried on commit conflicts.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration

	stop chan struct{}
	done chan struct{}
}

// OpenBadger opens (or creates) the job database.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, eris.New("jobs: badger path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, eris.Wrapf(err, "jobs: create %s", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil).WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: open badger")
	}

	s := &BadgerStore{db: db, ttl: cfg.TTL}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

func (s *BadgerStore) Create(ctx context.Context, job model.BatchJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(jobKey(job.ID)); err == nil {
			return eris.Errorf("jobs: job %s already exists", job.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return s.put(txn, &job)
	})
	return eris.Wrapf(err, "jobs: create %s", job.ID)
}

func (s *BadgerStore) Get(ctx context.Context, id string) (*model.BatchJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var job *model.BatchJob
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		job, err = get(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Update applies fn inside a transaction, retrying when another writer
// committed the same job first.
func (s *BadgerStore) Update(ctx context.Context, id string, fn func(*model.BatchJob) error) (*model.BatchJob, error) {
	for attempt := range maxConflictRetries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			time.Sleep(time.Duration(rand.IntN(attempt*500+1)) * time.Microsecond)
		}
		var job *model.BatchJob
		err := s.db.Update(func(txn *badger.Txn) error {
			var err error
			job, err = get(txn, id)
			if err != nil {
				return err
			}
			if err := fn(job); err != nil {
				return err
			}
			return s.put(txn, job)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return job, nil
	}
	return nil, eris.Errorf("jobs: update %s: too many conflicts", id)
}

func (s *BadgerStore) List(ctx context.Context, limit int) ([]model.BatchJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []model.BatchJob
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var job model.BatchJob
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &job)
			}); err != nil {
				return err
			}
			out = append(out, job)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "jobs: list")
	}
	return newestFirst(out, limit), nil
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	if s.stop != nil {
		close(s.stop)
		<-s.done
	}
	return s.db.Close()
}

func (s *BadgerStore) put(txn *badger.Txn, job *model.BatchJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "jobs: marshal")
	}
	e := badger.NewEntry(jobKey(job.ID), data)
	if s.ttl > 0 {
		e = e.WithTTL(s.ttl)
	}
	return txn.SetEntry(e)
}

func get(txn *badger.Txn, id string) (*model.BatchJob, error) {
	item, err := txn.Get(jobKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "jobs: get %s", id)
	}
	var job model.BatchJob
	if err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &job)
	}); err != nil {
		return nil, eris.Wrapf(err, "jobs: decode %s", id)
	}
	return &job, nil
}

func (s *BadgerStore) runGC(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				zap.L().Warn("jobs: value log GC failed", zap.Error(err))
			}
		}
	}
}

func jobKey(id string) []byte {
	return []byte(keyPrefix + id)
}
