package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/registry"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "Manage strategy records",
}

var strategiesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Load strategy records from Notion or the fixture file into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("strategies"); err != nil {
			return err
		}

		recs, err := loadStrategyRecords(ctx)
		if err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := registry.SyncStrategies(ctx, st, recs); err != nil {
			return err
		}
		zap.L().Info("strategies synced", zap.Int("count", len(recs)))
		formatStrategies(cmd.OutOrStdout(), recs)
		return nil
	},
}

var strategiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored strategy records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("strategies"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		kind, _ := cmd.Flags().GetString("kind")
		active, _ := cmd.Flags().GetBool("active")
		recs, err := st.ListStrategies(ctx, model.StrategyKind(kind), active)
		if err != nil {
			return eris.Wrap(err, "strategies list")
		}
		if len(recs) == 0 {
			cmd.PrintErrln("No strategies found.")
			return nil
		}
		formatStrategies(cmd.OutOrStdout(), recs)
		return nil
	},
}

func init() {
	strategiesListCmd.Flags().String("kind", "", "filter by kind (classifier, fact_checker, note_writer)")
	strategiesListCmd.Flags().Bool("active", false, "only active strategies")

	strategiesCmd.AddCommand(strategiesSyncCmd)
	strategiesCmd.AddCommand(strategiesListCmd)
	rootCmd.AddCommand(strategiesCmd)
}
