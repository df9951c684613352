package main

import (
	"github.com/spf13/cobra"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report readiness of the daemon and its stage providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var health struct {
				OK     bool `json:"ok"`
				Stages []struct {
					Stage    string `json:"stage"`
					Provider string `json:"provider"`
					Ready    bool   `json:"ready"`
					Detail   string `json:"detail"`
				} `json:"stages"`
			}
			if err := client.getJSON("/healthz", &health); err != nil {
				return err
			}
			return writeJSON(cmd, health)
		},
	}
}
