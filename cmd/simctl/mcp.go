package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/similard/internal/mcp"
)

func newMCPCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve similarity and sync tools over MCP stdio",
		Long: `Run an MCP server on stdin/stdout exposing the similar_products,
sync_catalog and sync_status tools. Logs go to stderr.

Example MCP client configuration:
  {"command": "simctl", "args": ["mcp", "--config", "/etc/similard.yaml"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, cleanup, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer cleanup()

			a.Scheduler.Start(ctx)
			defer a.Scheduler.Stop()

			srv, err := mcp.NewServer(&mcp.Config{
				Name:    "similard",
				Version: version,
				Logger:  a.Logger.Underlying().Named("mcp"),
			}, a.Facade, a.Scheduler)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}
