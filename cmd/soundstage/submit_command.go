package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var language string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "submit <audio-file>",
		Short: "Submit an audio file for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var job apiJob
			if err := client.submit(args[0], language, &job); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted job %s (digest %s)\n", job.ID, shortDigest(job.InputDigest))
			return nil
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "Language hint for transcription (BCP 47 tag)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the created job as JSON")
	return cmd
}
