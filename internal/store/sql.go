package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/factcheck-cli/internal/model"
)

const defaultListLimit = 100

// conn executes built statements against one driver. Both stores share the
// query logic below and differ only in their conn and dialect.
type conn interface {
	exec(ctx context.Context, q sq.Sqlizer) (int64, error)
	queryRow(ctx context.Context, q sq.Sqlizer) scannable
	query(ctx context.Context, q sq.Sqlizer) (rowIter, error)
}

type rowIter interface {
	scannable
	Next() bool
	Err() error
	Close()
}

type dialect struct {
	name        string
	placeholder sq.PlaceholderFormat
	// lockShared is appended to reads that guard a dependent insert.
	lockShared string
	isUnique   func(error) bool
}

// sqlStore implements the table logic of Store over a conn.
type sqlStore struct {
	d    dialect
	sb   sq.StatementBuilderType
	c    conn
	inTx func(ctx context.Context, fn func(c conn) error) error
}

func newSQLStore(d dialect, c conn, inTx func(ctx context.Context, fn func(c conn) error) error) *sqlStore {
	return &sqlStore{
		d:    d,
		sb:   sq.StatementBuilder.PlaceholderFormat(d.placeholder),
		c:    c,
		inTx: inTx,
	}
}

func (s *sqlStore) wrap(err error, format string, args ...any) error {
	return eris.Wrapf(err, s.d.name+": "+format, args...)
}

func limitOf(n int) uint64 {
	if n <= 0 {
		return defaultListLimit
	}
	return uint64(n)
}

func now() time.Time { return time.Now().UTC() }

// --- content items ---

func (s *sqlStore) UpsertItem(ctx context.Context, item model.ContentItem) (*model.ContentItem, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now()
	}
	payload, err := toJSON(item.Payload)
	if err != nil {
		return nil, s.wrap(err, "marshal item payload")
	}
	q := s.sb.Insert("content_items").
		Columns("id", "platform", "platform_item_id", "text", "payload", "author", "url", "posted_at", "created_at").
		Values(item.ID, item.Platform, item.PlatformItemID, item.Text, payload, item.Author, item.URL,
			timeArg(item.PostedAt), item.CreatedAt.UTC()).
		Suffix(`ON CONFLICT (platform, platform_item_id) DO UPDATE SET
			text = excluded.text, payload = excluded.payload, author = excluded.author,
			url = excluded.url, posted_at = excluded.posted_at`)
	if _, err := s.c.exec(ctx, q); err != nil {
		return nil, s.wrap(err, "upsert item %s", item.Ref())
	}
	row := s.c.queryRow(ctx, s.sb.Select(itemColumns).From("content_items").
		Where(sq.Eq{"platform": item.Platform, "platform_item_id": item.PlatformItemID}))
	got, err := scanItem(row)
	if err != nil {
		return nil, s.wrap(err, "reload item %s", item.Ref())
	}
	return got, nil
}

func (s *sqlStore) GetItem(ctx context.Context, id string) (*model.ContentItem, error) {
	row := s.c.queryRow(ctx, s.sb.Select(itemColumns).From("content_items").Where(sq.Eq{"id": id}))
	it, err := scanItem(row)
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "content item %s", id)
	}
	if err != nil {
		return nil, s.wrap(err, "get item %s", id)
	}
	return it, nil
}

func (s *sqlStore) ListItems(ctx context.Context, filter ItemFilter) ([]model.ContentItem, error) {
	q := s.sb.Select(itemColumns).From("content_items").
		OrderBy("created_at ASC", "id ASC").
		Limit(limitOf(filter.Limit)).Offset(uint64(max(filter.Offset, 0)))
	if filter.Platform != "" {
		q = q.Where(sq.Eq{"platform": filter.Platform})
	}
	rows, err := s.c.query(ctx, q)
	if err != nil {
		return nil, s.wrap(err, "list items")
	}
	defer rows.Close()

	var out []model.ContentItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, s.wrap(err, "scan item")
		}
		out = append(out, *it)
	}
	return out, s.wrapIter(rows.Err(), "list items")
}

// --- strategies ---

func (s *sqlStore) UpsertStrategy(ctx context.Context, rec model.StrategyRecord) error {
	if rec.Slug == "" {
		return eris.New(s.d.name + ": strategy slug is required")
	}
	cfg, err := toJSON(rec.Config)
	if err != nil {
		return s.wrap(err, "marshal strategy config")
	}
	ts := now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = ts
	}
	q := s.sb.Insert("strategies").
		Columns("slug", "kind", "name", "description", "active", "output_shape", "config", "created_at", "updated_at").
		Values(rec.Slug, string(rec.Kind), rec.Name, rec.Description, rec.Active, string(rec.OutputShape),
			cfg, rec.CreatedAt.UTC(), ts).
		Suffix(`ON CONFLICT (slug) DO UPDATE SET
			kind = excluded.kind, name = excluded.name, description = excluded.description,
			active = excluded.active, output_shape = excluded.output_shape,
			config = excluded.config, updated_at = excluded.updated_at`)
	_, err = s.c.exec(ctx, q)
	return s.wrapIter(err, "upsert strategy "+rec.Slug)
}

func (s *sqlStore) GetStrategy(ctx context.Context, slug string) (*model.StrategyRecord, error) {
	row := s.c.queryRow(ctx, s.sb.Select(strategyColumns).From("strategies").Where(sq.Eq{"slug": slug}))
	rec, err := scanStrategy(row)
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "strategy %s", slug)
	}
	if err != nil {
		return nil, s.wrap(err, "get strategy %s", slug)
	}
	return rec, nil
}

func (s *sqlStore) ListStrategies(ctx context.Context, kind model.StrategyKind, activeOnly bool) ([]model.StrategyRecord, error) {
	q := s.sb.Select(strategyColumns).From("strategies").OrderBy("kind ASC", "slug ASC")
	if kind != "" {
		q = q.Where(sq.Eq{"kind": string(kind)})
	}
	if activeOnly {
		q = q.Where(sq.Eq{"active": true})
	}
	rows, err := s.c.query(ctx, q)
	if err != nil {
		return nil, s.wrap(err, "list strategies")
	}
	defer rows.Close()

	var out []model.StrategyRecord
	for rows.Next() {
		rec, err := scanStrategy(rows)
		if err != nil {
			return nil, s.wrap(err, "scan strategy")
		}
		out = append(out, *rec)
	}
	return out, s.wrapIter(rows.Err(), "list strategies")
}

// --- classifications ---

func (s *sqlStore) CreateClassification(ctx context.Context, itemID, slug string, payload model.ClassificationPayload) (*model.ClassificationResult, error) {
	body, err := toJSON(payload)
	if err != nil {
		return nil, s.wrap(err, "marshal classification payload")
	}
	res := &model.ClassificationResult{
		ID:             uuid.New().String(),
		ItemID:         itemID,
		ClassifierSlug: slug,
		Payload:        payload,
		CreatedAt:      now(),
	}
	n, err := s.c.exec(ctx, s.sb.Insert("classification_results").
		Columns("id", "item_id", "classifier_slug", "payload", "created_at").
		Values(res.ID, itemID, slug, body, res.CreatedAt).
		Suffix("ON CONFLICT DO NOTHING"))
	if err != nil {
		return nil, s.wrap(err, "insert classification %s/%s", itemID, slug)
	}
	if n == 0 {
		return nil, eris.Wrapf(ErrDuplicate, "classification %s/%s", itemID, slug)
	}
	return res, nil
}

func (s *sqlStore) GetClassification(ctx context.Context, itemID, slug string) (*model.ClassificationResult, error) {
	row := s.c.queryRow(ctx, s.sb.Select(classificationColumns).From("classification_results").
		Where(sq.Eq{"item_id": itemID, "classifier_slug": slug}))
	c, err := scanClassification(row)
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "classification %s/%s", itemID, slug)
	}
	if err != nil {
		return nil, s.wrap(err, "get classification %s/%s", itemID, slug)
	}
	return c, nil
}

func (s *sqlStore) ListClassifications(ctx context.Context, itemID string) ([]model.ClassificationResult, error) {
	rows, err := s.c.query(ctx, s.sb.Select(classificationColumns).From("classification_results").
		Where(sq.Eq{"item_id": itemID}).OrderBy("classifier_slug ASC"))
	if err != nil {
		return nil, s.wrap(err, "list classifications %s", itemID)
	}
	defer rows.Close()

	var out []model.ClassificationResult
	for rows.Next() {
		c, err := scanClassification(rows)
		if err != nil {
			return nil, s.wrap(err, "scan classification")
		}
		out = append(out, *c)
	}
	return out, s.wrapIter(rows.Err(), "list classifications")
}

func (s *sqlStore) DeleteClassification(ctx context.Context, itemID, slug string) error {
	n, err := s.c.exec(ctx, s.sb.Delete("classification_results").
		Where(sq.Eq{"item_id": itemID, "classifier_slug": slug}))
	if err != nil {
		return s.wrap(err, "delete classification %s/%s", itemID, slug)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "classification %s/%s", itemID, slug)
	}
	return nil
}

// --- fact checks ---

func (s *sqlStore) CreateFactCheck(ctx context.Context, itemID, slug string) (*model.FactCheck, error) {
	ts := now()
	fc := &model.FactCheck{
		ID:              uuid.New().String(),
		ItemID:          itemID,
		FactCheckerSlug: slug,
		Status:          model.FactCheckPending,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	n, err := s.c.exec(ctx, s.sb.Insert("fact_checks").
		Columns("id", "item_id", "fact_checker_slug", "status", "created_at", "updated_at").
		Values(fc.ID, itemID, slug, string(fc.Status), ts, ts).
		Suffix("ON CONFLICT DO NOTHING"))
	if err != nil {
		return nil, s.wrap(err, "insert fact check %s/%s", itemID, slug)
	}
	if n == 0 {
		return nil, eris.Wrapf(ErrDuplicate, "fact check %s/%s", itemID, slug)
	}
	return fc, nil
}

func (s *sqlStore) GetFactCheck(ctx context.Context, id string) (*model.FactCheck, error) {
	return s.getFactCheck(ctx, s.c, sq.Eq{"id": id}, id)
}

func (s *sqlStore) GetFactCheckByKey(ctx context.Context, itemID, slug string) (*model.FactCheck, error) {
	return s.getFactCheck(ctx, s.c, sq.Eq{"item_id": itemID, "fact_checker_slug": slug}, itemID+"/"+slug)
}

func (s *sqlStore) getFactCheck(ctx context.Context, c conn, where sq.Eq, label string) (*model.FactCheck, error) {
	fc, err := scanFactCheck(c.queryRow(ctx, s.sb.Select(factCheckColumns).From("fact_checks").Where(where)))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "fact check %s", label)
	}
	if err != nil {
		return nil, s.wrap(err, "get fact check %s", label)
	}
	return fc, nil
}

func (s *sqlStore) ListFactChecks(ctx context.Context, filter FactCheckFilter) ([]model.FactCheck, error) {
	q := s.sb.Select(factCheckColumns).From("fact_checks").
		OrderBy("created_at ASC", "id ASC").
		Limit(limitOf(filter.Limit)).Offset(uint64(max(filter.Offset, 0)))
	if filter.ItemID != "" {
		q = q.Where(sq.Eq{"item_id": filter.ItemID})
	}
	if filter.Slug != "" {
		q = q.Where(sq.Eq{"fact_checker_slug": filter.Slug})
	}
	if len(filter.Statuses) > 0 {
		q = q.Where(sq.Eq{"status": statusStrings(filter.Statuses)})
	}
	rows, err := s.c.query(ctx, q)
	if err != nil {
		return nil, s.wrap(err, "list fact checks")
	}
	defer rows.Close()

	var out []model.FactCheck
	for rows.Next() {
		fc, err := scanFactCheck(rows)
		if err != nil {
			return nil, s.wrap(err, "scan fact check")
		}
		out = append(out, *fc)
	}
	return out, s.wrapIter(rows.Err(), "list fact checks")
}

// TransitionFactCheck writes upd only if the row is still in state from.
func (s *sqlStore) TransitionFactCheck(ctx context.Context, id string, from model.FactCheckStatus, upd FactCheckUpdate) (*model.FactCheck, error) {
	if !from.CanTransition(upd.Status) {
		return nil, eris.Wrapf(ErrInvalidTransition, "fact check %s: %s -> %s", id, from, upd.Status)
	}
	claims, err := toJSON(upd.Claims)
	if err != nil {
		return nil, s.wrap(err, "marshal claims")
	}
	sources, err := toJSON(upd.Sources)
	if err != nil {
		return nil, s.wrap(err, "marshal sources")
	}
	var raw any
	if len(upd.RawOutput) > 0 {
		raw = string(upd.RawOutput)
	}
	ts := now()
	var completed any
	if upd.Status.IsTerminal() {
		completed = ts
	}
	n, err := s.c.exec(ctx, s.sb.Update("fact_checks").SetMap(map[string]any{
		"status":       string(upd.Status),
		"verdict":      string(upd.Verdict),
		"confidence":   upd.Confidence,
		"body":         upd.Body,
		"claims":       claims,
		"sources":      sources,
		"raw_output":   raw,
		"error":        upd.Error,
		"updated_at":   ts,
		"completed_at": completed,
	}).Where(sq.Eq{"id": id, "status": string(from)}))
	if err != nil {
		return nil, s.wrap(err, "transition fact check %s", id)
	}
	if n == 0 {
		return nil, s.staleFactCheck(ctx, id, from)
	}
	return s.GetFactCheck(ctx, id)
}

func (s *sqlStore) staleFactCheck(ctx context.Context, id string, from model.FactCheckStatus) error {
	cur, err := s.GetFactCheck(ctx, id)
	if err != nil {
		return err
	}
	return eris.Wrapf(ErrStaleState, "fact check %s is %s, expected %s", id, cur.Status, from)
}

// DeleteFactCheck removes a fact check with its notes and their submissions.
func (s *sqlStore) DeleteFactCheck(ctx context.Context, id string) error {
	return s.inTx(ctx, func(c conn) error {
		if _, err := c.exec(ctx, s.sb.Delete("submissions").
			Where("note_id IN (SELECT id FROM notes WHERE fact_check_id = ?)", id)); err != nil {
			return s.wrap(err, "delete submissions for fact check %s", id)
		}
		if _, err := c.exec(ctx, s.sb.Delete("notes").Where(sq.Eq{"fact_check_id": id})); err != nil {
			return s.wrap(err, "delete notes for fact check %s", id)
		}
		n, err := c.exec(ctx, s.sb.Delete("fact_checks").Where(sq.Eq{"id": id}))
		if err != nil {
			return s.wrap(err, "delete fact check %s", id)
		}
		if n == 0 {
			return eris.Wrapf(ErrNotFound, "fact check %s", id)
		}
		return nil
	})
}

// --- notes ---

// CreateNote inserts a pending note. The parent fact check must be completed
// at insert time.
func (s *sqlStore) CreateNote(ctx context.Context, factCheckID, writerSlug string) (*model.Note, error) {
	ts := now()
	note := &model.Note{
		ID:             uuid.New().String(),
		FactCheckID:    factCheckID,
		NoteWriterSlug: writerSlug,
		Status:         model.NotePending,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	err := s.inTx(ctx, func(c conn) error {
		var status string
		q := s.sb.Select("status").From("fact_checks").Where(sq.Eq{"id": factCheckID})
		if s.d.lockShared != "" {
			q = q.Suffix(s.d.lockShared)
		}
		err := c.queryRow(ctx, q).Scan(&status)
		if isNoRows(err) {
			return eris.Wrapf(ErrNotFound, "fact check %s", factCheckID)
		}
		if err != nil {
			return s.wrap(err, "read fact check %s", factCheckID)
		}
		if status != string(model.FactCheckCompleted) {
			return eris.Wrapf(ErrIntegrity, "fact check %s is %s, not completed", factCheckID, status)
		}
		_, err = c.exec(ctx, s.sb.Insert("notes").
			Columns("id", "fact_check_id", "note_writer_slug", "status", "created_at", "updated_at").
			Values(note.ID, factCheckID, writerSlug, string(note.Status), ts, ts))
		if err != nil && s.d.isUnique(err) {
			return eris.Wrapf(ErrDuplicate, "note %s/%s", factCheckID, writerSlug)
		}
		return s.wrapIter(err, "insert note")
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

func (s *sqlStore) GetNote(ctx context.Context, id string) (*model.Note, error) {
	return s.getNote(ctx, sq.Eq{"id": id}, id)
}

func (s *sqlStore) GetNoteByKey(ctx context.Context, factCheckID, writerSlug string) (*model.Note, error) {
	return s.getNote(ctx, sq.Eq{"fact_check_id": factCheckID, "note_writer_slug": writerSlug}, factCheckID+"/"+writerSlug)
}

func (s *sqlStore) getNote(ctx context.Context, where sq.Eq, label string) (*model.Note, error) {
	n, err := scanNote(s.c.queryRow(ctx, s.sb.Select(noteColumns).From("notes").Where(where)))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "note %s", label)
	}
	if err != nil {
		return nil, s.wrap(err, "get note %s", label)
	}
	return n, nil
}

func (s *sqlStore) ListNotes(ctx context.Context, filter NoteFilter) ([]model.Note, error) {
	q := s.sb.Select(noteColumns).From("notes").OrderBy("created_at ASC", "id ASC").Limit(limitOf(filter.Limit))
	if filter.FactCheckID != "" {
		q = q.Where(sq.Eq{"fact_check_id": filter.FactCheckID})
	}
	if len(filter.Statuses) > 0 {
		q = q.Where(sq.Eq{"status": statusStrings(filter.Statuses)})
	}
	rows, err := s.c.query(ctx, q)
	if err != nil {
		return nil, s.wrap(err, "list notes")
	}
	defer rows.Close()

	var out []model.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, s.wrap(err, "scan note")
		}
		out = append(out, *n)
	}
	return out, s.wrapIter(rows.Err(), "list notes")
}

func (s *sqlStore) TransitionNote(ctx context.Context, id string, from model.NoteStatus, upd NoteUpdate) (*model.Note, error) {
	if !from.CanTransition(upd.Status) {
		return nil, eris.Wrapf(ErrInvalidTransition, "note %s: %s -> %s", id, from, upd.Status)
	}
	set := map[string]any{
		"status":              string(upd.Status),
		"text":                upd.Text,
		"classification":      string(upd.Classification),
		"trustworthy_sources": upd.TrustworthySources,
		"iterations":          upd.Iterations,
		"error":               upd.Error,
		"updated_at":          now(),
	}
	for col, v := range map[string]any{
		"links":        upd.Links,
		"tags":         upd.Tags,
		"payload":      upd.Payload,
		"evaluation":   upd.Evaluation,
		"invalid_urls": upd.InvalidURLs,
	} {
		enc, err := toJSON(v)
		if err != nil {
			return nil, s.wrap(err, "marshal note %s", col)
		}
		set[col] = enc
	}
	n, err := s.c.exec(ctx, s.sb.Update("notes").SetMap(set).Where(sq.Eq{"id": id, "status": string(from)}))
	if err != nil {
		return nil, s.wrap(err, "transition note %s", id)
	}
	if n == 0 {
		cur, err := s.GetNote(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, eris.Wrapf(ErrStaleState, "note %s is %s, expected %s", id, cur.Status, from)
	}
	return s.GetNote(ctx, id)
}

// UpdateNoteContent replaces the text and links of a completed note. The
// generated content is preserved in original_text/original_links on the
// first edit.
func (s *sqlStore) UpdateNoteContent(ctx context.Context, id string, edit NoteEdit) (*model.Note, error) {
	set := map[string]any{
		"original_text":  sq.Expr("CASE WHEN edited THEN original_text ELSE text END"),
		"original_links": sq.Expr("CASE WHEN edited THEN original_links ELSE links END"),
		"text":           edit.Text,
		"edited":         true,
		"updated_at":     now(),
	}
	for col, v := range map[string]any{
		"links":      edit.Links,
		"payload":    edit.Payload,
		"evaluation": edit.Evaluation,
	} {
		enc, err := toJSON(v)
		if err != nil {
			return nil, s.wrap(err, "marshal note %s", col)
		}
		set[col] = enc
	}
	n, err := s.c.exec(ctx, s.sb.Update("notes").SetMap(set).
		Where(sq.Eq{"id": id, "status": string(model.NoteCompleted)}))
	if err != nil {
		return nil, s.wrap(err, "edit note %s", id)
	}
	if n == 0 {
		cur, err := s.GetNote(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, eris.Wrapf(ErrStaleState, "note %s is %s, not completed", id, cur.Status)
	}
	return s.GetNote(ctx, id)
}

// DeleteNote removes a note and its submissions.
func (s *sqlStore) DeleteNote(ctx context.Context, id string) error {
	return s.inTx(ctx, func(c conn) error {
		if _, err := c.exec(ctx, s.sb.Delete("submissions").Where(sq.Eq{"note_id": id})); err != nil {
			return s.wrap(err, "delete submissions for note %s", id)
		}
		n, err := c.exec(ctx, s.sb.Delete("notes").Where(sq.Eq{"id": id}))
		if err != nil {
			return s.wrap(err, "delete note %s", id)
		}
		if n == 0 {
			return eris.Wrapf(ErrNotFound, "note %s", id)
		}
		return nil
	})
}

// --- submissions ---

// CreateSubmission inserts a pending submission for a completed note. A note
// has at most one submission outside the submission_failed state.
func (s *sqlStore) CreateSubmission(ctx context.Context, noteID string) (*model.Submission, error) {
	ts := now()
	sub := &model.Submission{
		ID:        uuid.New().String(),
		NoteID:    noteID,
		Status:    model.SubmissionPending,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	err := s.inTx(ctx, func(c conn) error {
		var status string
		q := s.sb.Select("status").From("notes").Where(sq.Eq{"id": noteID})
		if s.d.lockShared != "" {
			q = q.Suffix(s.d.lockShared)
		}
		err := c.queryRow(ctx, q).Scan(&status)
		if isNoRows(err) {
			return eris.Wrapf(ErrNotFound, "note %s", noteID)
		}
		if err != nil {
			return s.wrap(err, "read note %s", noteID)
		}
		if status != string(model.NoteCompleted) {
			return eris.Wrapf(ErrIntegrity, "note %s is %s, not completed", noteID, status)
		}
		_, err = c.exec(ctx, s.sb.Insert("submissions").
			Columns("id", "note_id", "status", "created_at", "updated_at").
			Values(sub.ID, noteID, string(sub.Status), ts, ts))
		if err != nil && s.d.isUnique(err) {
			return eris.Wrapf(ErrDuplicate, "active submission for note %s", noteID)
		}
		return s.wrapIter(err, "insert submission")
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *sqlStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	sub, err := scanSubmission(s.c.queryRow(ctx, s.sb.Select(submissionColumns).From("submissions").Where(sq.Eq{"id": id})))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "submission %s", id)
	}
	if err != nil {
		return nil, s.wrap(err, "get submission %s", id)
	}
	return sub, nil
}

// GetActiveSubmission returns the note's submission that is not in
// submission_failed, if any.
func (s *sqlStore) GetActiveSubmission(ctx context.Context, noteID string) (*model.Submission, error) {
	sub, err := scanSubmission(s.c.queryRow(ctx, s.sb.Select(submissionColumns).From("submissions").
		Where(sq.Eq{"note_id": noteID}).
		Where(sq.NotEq{"status": string(model.SubmissionFailed)})))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "active submission for note %s", noteID)
	}
	if err != nil {
		return nil, s.wrap(err, "get active submission %s", noteID)
	}
	return sub, nil
}

func (s *sqlStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error) {
	q := s.sb.Select(submissionColumns).From("submissions").Limit(limitOf(filter.Limit))
	if filter.LeastRecentlyChecked {
		q = q.OrderBy("checked_at IS NOT NULL", "checked_at ASC", "created_at ASC", "id ASC")
	} else {
		q = q.OrderBy("created_at ASC", "id ASC")
	}
	if filter.NoteID != "" {
		q = q.Where(sq.Eq{"note_id": filter.NoteID})
	}
	if len(filter.Statuses) > 0 {
		q = q.Where(sq.Eq{"status": statusStrings(filter.Statuses)})
	}
	if !filter.CreatedBefore.IsZero() {
		q = q.Where(sq.Lt{"created_at": filter.CreatedBefore.UTC()})
	}
	rows, err := s.c.query(ctx, q)
	if err != nil {
		return nil, s.wrap(err, "list submissions")
	}
	defer rows.Close()

	var out []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, s.wrap(err, "scan submission")
		}
		out = append(out, *sub)
	}
	return out, s.wrapIter(rows.Err(), "list submissions")
}

// MarkSubmissionChecked records a status poll that left the submission in
// status. A submission that has moved on is left alone.
func (s *sqlStore) MarkSubmissionChecked(ctx context.Context, id string, status model.SubmissionStatus, at time.Time) error {
	_, err := s.c.exec(ctx, s.sb.Update("submissions").
		Set("checked_at", timeArg(&at)).
		Where(sq.Eq{"id": id, "status": string(status)}))
	if err != nil {
		return s.wrap(err, "mark submission %s checked", id)
	}
	return nil
}

func (s *sqlStore) TransitionSubmission(ctx context.Context, id string, from model.SubmissionStatus, upd SubmissionUpdate) (*model.Submission, error) {
	if !from.CanTransition(upd.Status) {
		return nil, eris.Wrapf(ErrInvalidTransition, "submission %s: %s -> %s", id, from, upd.Status)
	}
	q := s.sb.Update("submissions").
		Set("status", string(upd.Status)).
		Set("error", upd.Error).
		Set("updated_at", now()).
		Where(sq.Eq{"id": id, "status": string(from)})
	if upd.ExternalID != "" {
		q = q.Set("external_id", upd.ExternalID)
	}
	if upd.SubmittedAt != nil {
		q = q.Set("submitted_at", timeArg(upd.SubmittedAt))
	}
	if upd.CheckedAt != nil {
		q = q.Set("checked_at", timeArg(upd.CheckedAt))
	}
	n, err := s.c.exec(ctx, q)
	if err != nil {
		return nil, s.wrap(err, "transition submission %s", id)
	}
	if n == 0 {
		cur, err := s.GetSubmission(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, eris.Wrapf(ErrStaleState, "submission %s is %s, expected %s", id, cur.Status, from)
	}
	return s.GetSubmission(ctx, id)
}

// --- monitoring ---

func (s *sqlStore) StatusCounts(ctx context.Context) (*model.StatusCounts, error) {
	out := &model.StatusCounts{
		FactChecks:  make(map[model.FactCheckStatus]int),
		Notes:       make(map[model.NoteStatus]int),
		Submissions: make(map[model.SubmissionStatus]int),
	}
	if err := s.c.queryRow(ctx, s.sb.Select("COUNT(*)").From("content_items")).Scan(&out.Items); err != nil {
		return nil, s.wrap(err, "count items")
	}
	if err := s.c.queryRow(ctx, s.sb.Select("COUNT(*)").From("classification_results")).Scan(&out.Classifications); err != nil {
		return nil, s.wrap(err, "count classifications")
	}
	for _, t := range []struct {
		table string
		put   func(status string, n int)
	}{
		{"fact_checks", func(st string, n int) { out.FactChecks[model.FactCheckStatus(st)] = n }},
		{"notes", func(st string, n int) { out.Notes[model.NoteStatus(st)] = n }},
		{"submissions", func(st string, n int) { out.Submissions[model.SubmissionStatus(st)] = n }},
	} {
		if err := s.countByStatus(ctx, t.table, t.put); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *sqlStore) countByStatus(ctx context.Context, table string, put func(string, int)) error {
	rows, err := s.c.query(ctx, s.sb.Select("status", "COUNT(*)").From(table).GroupBy("status"))
	if err != nil {
		return s.wrap(err, "count %s", table)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return s.wrap(err, "scan %s count", table)
		}
		put(status, n)
	}
	return s.wrapIter(rows.Err(), "count "+table)
}

// wrapIter wraps a possibly-nil error.
func (s *sqlStore) wrapIter(err error, msg string) error {
	if err == nil {
		return nil
	}
	return eris.Wrap(err, s.d.name+": "+msg)
}
