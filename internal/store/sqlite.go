package store

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	*sqlStore
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Writes are serialized through a single connection.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}

	d := dialect{
		name:        "sqlite",
		placeholder: sq.Question,
		isUnique:    isSQLiteUnique,
	}
	inTx := func(ctx context.Context, fn func(c conn) error) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return eris.Wrap(err, "sqlite: begin")
		}
		if err := fn(sqlConn{q: tx}); err != nil {
			_ = tx.Rollback()
			return err
		}
		return eris.Wrap(tx.Commit(), "sqlite: commit")
	}
	return &SQLiteStore{sqlStore: newSQLStore(d, sqlConn{q: db}, inTx), db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS content_items (
	id               TEXT PRIMARY KEY,
	platform         TEXT NOT NULL,
	platform_item_id TEXT NOT NULL,
	text             TEXT NOT NULL DEFAULT '',
	payload          TEXT,
	author           TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL DEFAULT '',
	posted_at        DATETIME,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (platform, platform_item_id)
);

CREATE TABLE IF NOT EXISTS strategies (
	slug         TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	active       INTEGER NOT NULL DEFAULT 1,
	output_shape TEXT NOT NULL DEFAULT '',
	config       TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS classification_results (
	id              TEXT PRIMARY KEY,
	item_id         TEXT NOT NULL REFERENCES content_items(id),
	classifier_slug TEXT NOT NULL,
	payload         TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (item_id, classifier_slug)
);

CREATE TABLE IF NOT EXISTS fact_checks (
	id                TEXT PRIMARY KEY,
	item_id           TEXT NOT NULL REFERENCES content_items(id),
	fact_checker_slug TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	verdict           TEXT NOT NULL DEFAULT '',
	confidence        REAL NOT NULL DEFAULT 0,
	body              TEXT NOT NULL DEFAULT '',
	claims            TEXT,
	sources           TEXT,
	raw_output        TEXT,
	error             TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at      DATETIME,
	UNIQUE (item_id, fact_checker_slug)
);

CREATE INDEX IF NOT EXISTS idx_fact_checks_status ON fact_checks(status);

CREATE TABLE IF NOT EXISTS notes (
	id                  TEXT PRIMARY KEY,
	fact_check_id       TEXT NOT NULL REFERENCES fact_checks(id),
	note_writer_slug    TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'pending',
	text                TEXT NOT NULL DEFAULT '',
	links               TEXT,
	classification      TEXT NOT NULL DEFAULT '',
	tags                TEXT,
	trustworthy_sources INTEGER NOT NULL DEFAULT 0,
	payload             TEXT,
	evaluation          TEXT,
	iterations          INTEGER NOT NULL DEFAULT 0,
	invalid_urls        TEXT,
	original_text       TEXT NOT NULL DEFAULT '',
	original_links      TEXT,
	edited              INTEGER NOT NULL DEFAULT 0,
	error               TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (fact_check_id, note_writer_slug)
);

CREATE TABLE IF NOT EXISTS submissions (
	id           TEXT PRIMARY KEY,
	note_id      TEXT NOT NULL REFERENCES notes(id),
	status       TEXT NOT NULL DEFAULT 'pending',
	external_id  TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	submitted_at DATETIME,
	checked_at   DATETIME,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_active_note
	ON submissions(note_id) WHERE status <> 'submission_failed';
CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	task_kind      TEXT NOT NULL,
	payload        TEXT,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	last_failed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlConn struct {
	q sqlQuerier
}

func (c sqlConn) exec(ctx context.Context, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, eris.Wrap(err, "build query")
	}
	res, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c sqlConn) queryRow(ctx context.Context, b sq.Sqlizer) scannable {
	query, args, err := b.ToSql()
	if err != nil {
		return errRow{eris.Wrap(err, "build query")}
	}
	return c.q.QueryRowContext(ctx, query, args...)
}

func (c sqlConn) query(ctx context.Context, b sq.Sqlizer) (rowIter, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "build query")
	}
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() { _ = r.Rows.Close() }
