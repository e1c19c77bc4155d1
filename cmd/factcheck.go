package main

import (
	"github.com/spf13/cobra"
)

var factcheckCmd = &cobra.Command{
	Use:   "factcheck <item-id>...",
	Short: "Run fact checks on content items",
	Long: `With --slug, starts that fact checker on each item. Without it, asks the
active fact checkers whether they should run and starts the eligible ones.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "factcheck", false)
		if err != nil {
			return err
		}
		defer env.Close()

		slug, _ := cmd.Flags().GetString("slug")
		force, _ := cmd.Flags().GetBool("force")
		wait, _ := cmd.Flags().GetBool("wait")
		out := cmd.OutOrStdout()

		if slug == "" {
			for _, id := range args {
				res, err := env.Pipeline.TriggerFactChecks(ctx, id)
				if err != nil {
					return err
				}
				if err := printJSON(out, res); err != nil {
					return err
				}
			}
			return nil
		}

		if len(args) > 1 {
			st, err := env.Pipeline.FactCheckBatch(ctx, args, slug, force)
			if err != nil {
				return err
			}
			return printJSON(out, st)
		}

		start, err := env.Pipeline.StartFactCheck(ctx, args[0], slug, force)
		if err != nil {
			return err
		}
		if !wait {
			return printJSON(out, start)
		}
		env.Pipeline.Wait()
		fc, err := env.Store.GetFactCheck(ctx, start.FactCheck.ID)
		if err != nil {
			return err
		}
		return printJSON(out, fc)
	},
}

func init() {
	factcheckCmd.Flags().String("slug", "", "fact checker slug (default: all eligible active checkers)")
	factcheckCmd.Flags().Bool("force", false, "replace an existing fact check and its notes")
	factcheckCmd.Flags().Bool("wait", false, "print the finished fact check instead of the start result")
	rootCmd.AddCommand(factcheckCmd)
}
