package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/resilience"
)

type scannable interface {
	Scan(dest ...any) error
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

// toJSON encodes v for a JSON column. Nil values become SQL NULL.
func toJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return string(b), nil
}

func fromJSON(b []byte, dst any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func statusStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

const itemColumns = "id, platform, platform_item_id, text, payload, author, url, posted_at, created_at"

func scanItem(row scannable) (*model.ContentItem, error) {
	var it model.ContentItem
	var payload []byte
	var posted sql.NullTime
	if err := row.Scan(&it.ID, &it.Platform, &it.PlatformItemID, &it.Text, &payload,
		&it.Author, &it.URL, &posted, &it.CreatedAt); err != nil {
		return nil, err
	}
	if err := fromJSON(payload, &it.Payload); err != nil {
		return nil, eris.Wrap(err, "unmarshal item payload")
	}
	it.PostedAt = nullTime(posted)
	return &it, nil
}

const strategyColumns = "slug, kind, name, description, active, output_shape, config, created_at, updated_at"

func scanStrategy(row scannable) (*model.StrategyRecord, error) {
	var r model.StrategyRecord
	var cfg []byte
	if err := row.Scan(&r.Slug, &r.Kind, &r.Name, &r.Description, &r.Active,
		&r.OutputShape, &cfg, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := fromJSON(cfg, &r.Config); err != nil {
		return nil, eris.Wrap(err, "unmarshal strategy config")
	}
	return &r, nil
}

const classificationColumns = "id, item_id, classifier_slug, payload, created_at"

func scanClassification(row scannable) (*model.ClassificationResult, error) {
	var c model.ClassificationResult
	var payload []byte
	if err := row.Scan(&c.ID, &c.ItemID, &c.ClassifierSlug, &payload, &c.CreatedAt); err != nil {
		return nil, err
	}
	if err := fromJSON(payload, &c.Payload); err != nil {
		return nil, eris.Wrap(err, "unmarshal classification payload")
	}
	return &c, nil
}

const factCheckColumns = "id, item_id, fact_checker_slug, status, verdict, confidence, body, claims, sources, raw_output, error, created_at, updated_at, completed_at"

func scanFactCheck(row scannable) (*model.FactCheck, error) {
	var fc model.FactCheck
	var claims, sources, raw []byte
	var completed sql.NullTime
	if err := row.Scan(&fc.ID, &fc.ItemID, &fc.FactCheckerSlug, &fc.Status, &fc.Verdict,
		&fc.Confidence, &fc.Body, &claims, &sources, &raw, &fc.Error,
		&fc.CreatedAt, &fc.UpdatedAt, &completed); err != nil {
		return nil, err
	}
	if err := fromJSON(claims, &fc.Claims); err != nil {
		return nil, eris.Wrap(err, "unmarshal claims")
	}
	if err := fromJSON(sources, &fc.Sources); err != nil {
		return nil, eris.Wrap(err, "unmarshal sources")
	}
	if len(raw) > 0 {
		fc.RawOutput = json.RawMessage(raw)
	}
	fc.CompletedAt = nullTime(completed)
	return &fc, nil
}

const noteColumns = "id, fact_check_id, note_writer_slug, status, text, links, classification, tags, trustworthy_sources, payload, evaluation, iterations, invalid_urls, original_text, original_links, edited, error, created_at, updated_at"

func scanNote(row scannable) (*model.Note, error) {
	var n model.Note
	var links, tags, payload, eval, invalid, origLinks []byte
	if err := row.Scan(&n.ID, &n.FactCheckID, &n.NoteWriterSlug, &n.Status, &n.Text, &links,
		&n.Classification, &tags, &n.TrustworthySources, &payload, &eval, &n.Iterations,
		&invalid, &n.OriginalText, &origLinks, &n.Edited, &n.Error,
		&n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{links, &n.Links}, {tags, &n.Tags}, {payload, &n.Payload},
		{eval, &n.Evaluation}, {invalid, &n.InvalidURLs}, {origLinks, &n.OriginalLinks},
	} {
		if err := fromJSON(f.raw, f.dst); err != nil {
			return nil, eris.Wrap(err, "unmarshal note column")
		}
	}
	return &n, nil
}

const submissionColumns = "id, note_id, status, external_id, error, submitted_at, checked_at, created_at, updated_at"

func scanSubmission(row scannable) (*model.Submission, error) {
	var s model.Submission
	var submitted, checked sql.NullTime
	if err := row.Scan(&s.ID, &s.NoteID, &s.Status, &s.ExternalID, &s.Error,
		&submitted, &checked, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.SubmittedAt = nullTime(submitted)
	s.CheckedAt = nullTime(checked)
	return &s, nil
}

const dlqColumns = "id, task_kind, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at"

func scanDLQ(row scannable) (*resilience.DLQEntry, error) {
	var e resilience.DLQEntry
	var payload []byte
	if err := row.Scan(&e.ID, &e.TaskKind, &payload, &e.Error, &e.ErrorType, &e.RetryCount,
		&e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		e.Payload = json.RawMessage(payload)
	}
	return &e, nil
}
