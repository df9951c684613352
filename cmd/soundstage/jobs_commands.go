package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect jobs known to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListJobs(cmd, ctx, "")
		},
	}

	var status string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListJobs(cmd, ctx, status)
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "Only show jobs with this status")

	showCmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var job apiJob
			if err := client.getJSON("/jobs/"+url.PathEscape(args[0]), &job); err != nil {
				return err
			}
			return writeJSON(cmd, job)
		},
	}

	jobsCmd.AddCommand(listCmd)
	jobsCmd.AddCommand(showCmd)
	return jobsCmd
}

func runListJobs(cmd *cobra.Command, ctx *commandContext, status string) error {
	client, err := ctx.apiClient()
	if err != nil {
		return err
	}

	path := "/jobs"
	if trimmed := strings.TrimSpace(status); trimmed != "" {
		path += "?status=" + url.QueryEscape(trimmed)
	}

	var payload struct {
		Jobs []apiJob `json:"jobs"`
	}
	if err := client.getJSON(path, &payload); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !isTerminal(out) {
		return writeJSON(cmd, payload)
	}
	if len(payload.Jobs) == 0 {
		fmt.Fprintln(out, "no jobs")
		return nil
	}

	rows := make([][]string, 0, len(payload.Jobs))
	for _, job := range payload.Jobs {
		rows = append(rows, []string{
			shortID(job.ID),
			job.Status,
			stageSummary(job),
			job.InputFile,
			job.Language,
			job.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "STATUS", "STAGES", "INPUT", "LANG", "CREATED"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
	return nil
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var result struct {
				ID              string `json:"id"`
				CancelRequested bool   `json:"cancel_requested"`
			}
			if err := client.postJSON("/jobs/"+url.PathEscape(args[0])+"/cancel", &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for job %s\n", result.ID)
			return nil
		},
	}
}
