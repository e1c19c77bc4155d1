package main

import (
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <note-id>",
	Short: "Submit a completed note to the notes platform",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "submit", false)
		if err != nil {
			return err
		}
		defer env.Close()

		sub, err := env.Pipeline.Submit(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), sub)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Refresh the status of submitted notes from the notes platform",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "reconcile", false)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Reconcile(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(reconcileCmd)
}
