package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Stage cache utilities",
	}
	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show stage cache entry counts and disk usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var stats struct {
				Entries    map[string]int `json:"entries"`
				TotalBytes int64          `json:"total_bytes"`
				DiskTotal  uint64         `json:"disk_total_bytes"`
				DiskFree   uint64         `json:"disk_free_bytes"`
			}
			if err := client.getJSON("/cache/stats", &stats); err != nil {
				return err
			}
			if jsonOutput || !isTerminal(cmd.OutOrStdout()) {
				return writeJSON(cmd, stats)
			}

			rows := [][]string{}
			for _, name := range []string{"separation", "transcription", "position"} {
				rows = append(rows, []string{name, fmt.Sprintf("%d", stats.Entries[name])})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"STAGE", "ENTRIES"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			fmt.Fprintf(out, "cache size: %s, disk free: %s of %s\n",
				humanBytes(uint64(stats.TotalBytes)), humanBytes(stats.DiskFree), humanBytes(stats.DiskTotal))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print statistics as JSON")
	return cmd
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for n/div >= unit && exp < 4 {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTP"[exp])
}
