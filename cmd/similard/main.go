// Similard is the product similarity daemon.
//
// It keeps the vector store in sync with the product catalog and serves
// similarity lookups over HTTP. Syncs run on a schedule, on catalog file
// changes, on NATS change events and on request.
//
// Configuration is read from a YAML file, .env and SIMILARD_* environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with ~/.config/similard/config.yaml
//	similard
//
//	# Explicit config file and port override
//	SIMILARD_SERVER_PORT=9090 similard -config ./similard.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/similard/internal/app"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	logLevel := flag.String("log-level", "", "override logging.level")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion(os.Stdout)
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  similard [-config file] [-log-level level]   Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  similard version                             Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, app.RuntimeOptions{
		ConfigPath: *configPath,
		LogLevel:   *logLevel,
		Version:    version,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "similard: %v\n", err)
		os.Exit(1)
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "similard by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}

// run wires the daemon and blocks until ctx is canceled:
//  1. Loads configuration, telemetry and the logger
//  2. Builds the catalog, vector store, embedder, sync engine and façade
//  3. Serves HTTP and runs the scheduler, watcher and optional event
//     subscribers
//  4. Shuts everything down in reverse order
func run(ctx context.Context, opts app.RuntimeOptions) error {
	rt, err := app.Bootstrap(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = rt.Shutdown(ctx)
	}()
	logger := rt.Logger

	logger.Info(ctx, "starting similard",
		zap.String("version", version),
		zap.String("addr", rt.Config.Server.Addr()),
		zap.Bool("telemetry", rt.Telemetry.IsEnabled()),
	)

	a, err := app.New(ctx, rt.Config, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn(ctx, "closing components", zap.Error(err))
		}
	}()

	if err := a.Serve(ctx); err != nil {
		return err
	}
	logger.Info(ctx, "similard stopped")
	return nil
}
