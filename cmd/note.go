package main

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/factcheck-cli/internal/pipeline"
)

var noteCmd = &cobra.Command{
	Use:   "note <fact-check-id>",
	Short: "Write a note for a completed fact check",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "note", false)
		if err != nil {
			return err
		}
		defer env.Close()

		writer, _ := cmd.Flags().GetString("writer")
		force, _ := cmd.Flags().GetBool("force")

		note, err := env.Pipeline.WriteNote(ctx, args[0], writer, force)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), note)
	},
}

var noteEditCmd = &cobra.Command{
	Use:   "edit <note-id>",
	Short: "Replace a note's text and links and re-evaluate it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "note", false)
		if err != nil {
			return err
		}
		defer env.Close()

		text, _ := cmd.Flags().GetString("text")
		if text == "-" {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return eris.Wrap(err, "note edit: read stdin")
			}
			text = string(b)
		}
		links, _ := cmd.Flags().GetStringSlice("link")

		note, err := env.Pipeline.EditNote(ctx, args[0], pipeline.NoteEdit{Text: text, Links: links})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), note)
	},
}

func init() {
	noteCmd.Flags().String("writer", "", "note writer slug (required)")
	noteCmd.Flags().Bool("force", false, "replace an existing note")
	_ = noteCmd.MarkFlagRequired("writer")

	noteEditCmd.Flags().String("text", "", "new note text, or - to read stdin (required)")
	noteEditCmd.Flags().StringSlice("link", nil, "note link (repeatable)")
	_ = noteEditCmd.MarkFlagRequired("text")

	noteCmd.AddCommand(noteEditCmd)
	rootCmd.AddCommand(noteCmd)
}
