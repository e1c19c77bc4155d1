package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/factcheck-cli/internal/jobs"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "Show a batch job, or list recent jobs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("jobs"); err != nil {
			return err
		}

		js, err := initJobStore()
		if err != nil {
			return eris.Wrap(err, "open job store")
		}
		defer js.Close() //nolint:errcheck
		tracker := jobs.NewTracker(js)

		if len(args) == 1 {
			st, err := tracker.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		list, err := tracker.List(ctx, limit)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			cmd.PrintErrln("No jobs found.")
			return nil
		}
		formatJobs(cmd.OutOrStdout(), list)
		return nil
	},
}

func init() {
	jobsCmd.Flags().Int("limit", 20, "max number of jobs to list")
	rootCmd.AddCommand(jobsCmd)
}
