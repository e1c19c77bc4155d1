package registry

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/pkg/notion"
)

// RecordSink persists strategy records. Satisfied by store.Store.
type RecordSink interface {
	UpsertStrategy(ctx context.Context, rec model.StrategyRecord) error
}

type strategiesFile struct {
	Strategies []model.StrategyRecord `yaml:"strategies"`
}

// LoadStrategiesFromFile reads strategy records from a YAML file of the form
// `strategies: [...]`.
func LoadStrategiesFromFile(path string) ([]model.StrategyRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read strategies file")
	}
	var f strategiesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal strategies file")
	}
	for i, rec := range f.Strategies {
		if err := checkRecord(rec); err != nil {
			return nil, eris.Wrapf(err, "registry: strategy %d", i)
		}
	}
	return f.Strategies, nil
}

// LoadStrategyRecords queries a Notion database for active strategy records.
// Malformed pages are skipped with a warning.
func LoadStrategyRecords(ctx context.Context, client notion.Client, dbID string) ([]model.StrategyRecord, error) {
	pages, err := notion.QueryAll(ctx, client, dbID, notion.StatusFilter("Status", "Active"))
	if err != nil {
		return nil, eris.Wrap(err, "registry: load strategy records")
	}

	var out []model.StrategyRecord
	for _, p := range pages {
		rec, err := parseStrategyPage(p)
		if err != nil {
			zap.L().Warn("registry: skipping malformed strategy page",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseStrategyPage(p notionapi.Page) (model.StrategyRecord, error) {
	rec := model.StrategyRecord{Active: true}

	if tp, ok := p.Properties["Slug"].(*notionapi.TitleProperty); ok {
		rec.Slug = plainText(tp.Title)
	}
	if sp, ok := p.Properties["Kind"].(*notionapi.SelectProperty); ok {
		rec.Kind = model.StrategyKind(sp.Select.Name)
	}
	if rp, ok := p.Properties["Name"].(*notionapi.RichTextProperty); ok {
		rec.Name = plainText(rp.RichText)
	}
	if rp, ok := p.Properties["Description"].(*notionapi.RichTextProperty); ok {
		rec.Description = plainText(rp.RichText)
	}
	if sp, ok := p.Properties["OutputShape"].(*notionapi.SelectProperty); ok {
		rec.OutputShape = model.OutputShape(sp.Select.Name)
	}
	if rp, ok := p.Properties["Config"].(*notionapi.RichTextProperty); ok {
		if raw := strings.TrimSpace(plainText(rp.RichText)); raw != "" {
			if err := json.Unmarshal([]byte(raw), &rec.Config); err != nil {
				return rec, eris.Wrap(err, "parse Config property")
			}
		}
	}
	return rec, checkRecord(rec)
}

func checkRecord(rec model.StrategyRecord) error {
	if rec.Slug == "" {
		return eris.New("missing slug")
	}
	if !rec.Kind.Valid() {
		return eris.Errorf("strategy %s: invalid kind %q", rec.Slug, rec.Kind)
	}
	if rec.Kind == model.StrategyKindClassifier && !rec.OutputShape.Valid() {
		return eris.Errorf("classifier %s: invalid output shape %q", rec.Slug, rec.OutputShape)
	}
	return nil
}

// SyncStrategies upserts every record into sink.
func SyncStrategies(ctx context.Context, sink RecordSink, recs []model.StrategyRecord) error {
	for _, rec := range recs {
		if err := sink.UpsertStrategy(ctx, rec); err != nil {
			return eris.Wrapf(err, "registry: sync strategy %s", rec.Slug)
		}
	}
	zap.L().Info("registry: strategies synced", zap.Int("count", len(recs)))
	return nil
}

func plainText(rt []notionapi.RichText) string {
	var b strings.Builder
	for _, t := range rt {
		b.WriteString(t.PlainText)
	}
	return b.String()
}
