// Package main implements simctl, the command-line client for similard.
//
// Commands that build components (sync, recommend, mcp) read the same
// configuration as the daemon and work against the same vector store and
// sync state. status talks to a running daemon over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/similard/internal/app"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	serverURL  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "simctl",
		Short: "CLI for the similard product similarity service",
		Long: `simctl syncs the product catalog into the vector store, looks up similar
products and reports on a running similard daemon.`,
		Version:       fmt.Sprintf("%s (%s)", version, gitCommit),
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to the YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.serverURL, "server", "http://127.0.0.1:8088", "similard server URL")

	root.AddCommand(
		newSyncCmd(flags),
		newRecommendCmd(flags),
		newStatusCmd(flags),
		newMCPCmd(flags),
		newVersionCmd(),
	)
	return root
}

// openApp loads configuration and wires components, logging to stderr so
// stdout stays clean for command output.
func openApp(ctx context.Context, flags *globalFlags, opts ...app.Option) (*app.App, func(), error) {
	rt, err := app.Bootstrap(ctx, app.RuntimeOptions{
		ConfigPath:  flags.configPath,
		LogToStderr: true,
		LogLevel:    flags.logLevel,
		Version:     version,
	})
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, rt.Config, rt.Logger, opts...)
	if err != nil {
		_ = rt.Shutdown(ctx)
		return nil, nil, err
	}
	cleanup := func() {
		_ = a.Close()
		_ = rt.Shutdown(ctx)
	}
	return a, cleanup, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "simctl %s (commit %s)\n", version, gitCommit)
		},
	}
}
