package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/factcheck-cli/internal/pipeline"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <item-id>...",
	Short: "Classify content items",
	Long:  "Runs the active classifiers (or those named with --slug) on each item. Existing results are kept unless --force is given. Several ids run as a tracked batch job.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "classify", false)
		if err != nil {
			return err
		}
		defer env.Close()

		slugs, _ := cmd.Flags().GetString("slug")
		force, _ := cmd.Flags().GetBool("force")
		opts := pipeline.ClassifyOptions{Slugs: splitSlugs(slugs), Force: force}

		if len(args) == 1 {
			res, err := env.Pipeline.Classify(ctx, args[0], opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}
		st, err := env.Pipeline.ClassifyBatch(ctx, args, opts)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

func init() {
	classifyCmd.Flags().String("slug", "", "comma-separated classifier slugs (default: all active)")
	classifyCmd.Flags().Bool("force", false, "replace existing classification results")
	rootCmd.AddCommand(classifyCmd)
}
