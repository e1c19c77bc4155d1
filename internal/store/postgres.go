package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/factcheck-cli/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	*sqlStore
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	d := dialect{
		name:        "postgres",
		placeholder: sq.Dollar,
		lockShared:  "FOR SHARE",
		isUnique:    db.IsUniqueViolation,
	}
	inTx := func(ctx context.Context, fn func(c conn) error) error {
		return db.InTx(ctx, pool, func(tx pgx.Tx) error {
			return fn(pgConn{q: tx})
		})
	}
	return &PostgresStore{
		sqlStore: newSQLStore(d, pgConn{q: pool}, inTx),
		pool:     pool,
		closeFn:  closeFn,
	}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS content_items (
	id               TEXT PRIMARY KEY,
	platform         TEXT NOT NULL,
	platform_item_id TEXT NOT NULL,
	text             TEXT NOT NULL DEFAULT '',
	payload          JSONB,
	author           TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL DEFAULT '',
	posted_at        TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (platform, platform_item_id)
);

CREATE TABLE IF NOT EXISTS strategies (
	slug         TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	active       BOOLEAN NOT NULL DEFAULT true,
	output_shape TEXT NOT NULL DEFAULT '',
	config       JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS classification_results (
	id              TEXT PRIMARY KEY,
	item_id         TEXT NOT NULL REFERENCES content_items(id) ON DELETE CASCADE,
	classifier_slug TEXT NOT NULL,
	payload         JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (item_id, classifier_slug)
);

CREATE TABLE IF NOT EXISTS fact_checks (
	id                TEXT PRIMARY KEY,
	item_id           TEXT NOT NULL REFERENCES content_items(id) ON DELETE CASCADE,
	fact_checker_slug TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	verdict           TEXT NOT NULL DEFAULT '',
	confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
	body              TEXT NOT NULL DEFAULT '',
	claims            JSONB,
	sources           JSONB,
	raw_output        JSONB,
	error             TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at      TIMESTAMPTZ,
	UNIQUE (item_id, fact_checker_slug)
);

CREATE INDEX IF NOT EXISTS idx_fact_checks_status ON fact_checks(status);

CREATE TABLE IF NOT EXISTS notes (
	id                  TEXT PRIMARY KEY,
	fact_check_id       TEXT NOT NULL REFERENCES fact_checks(id),
	note_writer_slug    TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'pending',
	text                TEXT NOT NULL DEFAULT '',
	links               JSONB,
	classification      TEXT NOT NULL DEFAULT '',
	tags                JSONB,
	trustworthy_sources BOOLEAN NOT NULL DEFAULT false,
	payload             JSONB,
	evaluation          JSONB,
	iterations          INTEGER NOT NULL DEFAULT 0,
	invalid_urls        JSONB,
	original_text       TEXT NOT NULL DEFAULT '',
	original_links      JSONB,
	edited              BOOLEAN NOT NULL DEFAULT false,
	error               TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (fact_check_id, note_writer_slug)
);

CREATE TABLE IF NOT EXISTS submissions (
	id           TEXT PRIMARY KEY,
	note_id      TEXT NOT NULL REFERENCES notes(id),
	status       TEXT NOT NULL DEFAULT 'pending',
	external_id  TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ,
	checked_at   TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_active_note
	ON submissions(note_id) WHERE status <> 'submission_failed';
CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	task_kind      TEXT NOT NULL,
	payload        JSONB,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// querier is satisfied by both db.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgConn struct {
	q querier
}

func (c pgConn) exec(ctx context.Context, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, eris.Wrap(err, "build query")
	}
	tag, err := c.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c pgConn) queryRow(ctx context.Context, b sq.Sqlizer) scannable {
	query, args, err := b.ToSql()
	if err != nil {
		return errRow{eris.Wrap(err, "build query")}
	}
	return c.q.QueryRow(ctx, query, args...)
}

func (c pgConn) query(ctx context.Context, b sq.Sqlizer) (rowIter, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "build query")
	}
	rows, err := c.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
