package main

import (
	"context"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import content items from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		items, err := readItemsFile(args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		imported, err := importItems(ctx, st, items)
		if err != nil {
			return err
		}
		for _, it := range imported {
			cmd.Println(it.ID, it.Ref())
		}
		zap.L().Info("import complete",
			zap.Int("items", len(imported)),
			zap.String("file", args[0]),
		)
		return nil
	},
}

type itemsFile struct {
	Items []model.ContentItem `yaml:"items"`
}

// readItemsFile parses an items file. YAML is a superset of JSON, so both
// {"items": [...]} and an items: list are accepted.
func readItemsFile(path string) ([]model.ContentItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "import: read file")
	}
	var f itemsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "import: parse file")
	}
	if len(f.Items) == 0 {
		return nil, eris.Errorf("import: no items in %s", path)
	}

	v := validator.New()
	for i, it := range f.Items {
		if err := v.Struct(it); err != nil {
			return nil, eris.Wrapf(err, "import: item %d", i)
		}
	}
	return f.Items, nil
}

// importItems upserts items by (platform, platform_item_id).
func importItems(ctx context.Context, st store.Store, items []model.ContentItem) ([]model.ContentItem, error) {
	out := make([]model.ContentItem, 0, len(items))
	for _, it := range items {
		got, err := st.UpsertItem(ctx, it)
		if err != nil {
			return nil, eris.Wrapf(err, "import: upsert %s", it.Ref())
		}
		out = append(out, *got)
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(importCmd)
}
