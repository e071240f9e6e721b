package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/similard/internal/config"
	"github.com/fyrsmithlabs/similard/internal/logging"
	"github.com/fyrsmithlabs/similard/internal/telemetry"
)

// RuntimeOptions controls how Bootstrap loads configuration and sets up
// logging.
type RuntimeOptions struct {
	ConfigPath string
	EnvFiles   []string

	// LogToStderr keeps stdout free, for MCP over stdio and CLI output.
	LogToStderr bool

	// LogLevel overrides logging.level when set.
	LogLevel string

	Version string
}

// Runtime holds the process-wide pieces built before the components.
type Runtime struct {
	Config    *config.Config
	Telemetry *telemetry.Telemetry
	Logger    *logging.Logger
}

// Bootstrap loads configuration, then telemetry, then the logger, which
// is bridged to the telemetry log provider when one is configured.
func Bootstrap(ctx context.Context, opts RuntimeOptions) (*Runtime, error) {
	if opts.EnvFiles == nil {
		opts.EnvFiles = []string{".env"}
	}
	cfg, err := config.LoadWithOptions(config.Options{Path: opts.ConfigPath, EnvFiles: opts.EnvFiles})
	if err != nil {
		return nil, err
	}

	telCfg := telemetry.NewDefaultConfig()
	if opts.Version != "" {
		telCfg.ServiceVersion = opts.Version
	}
	if err := cfg.Unmarshal("telemetry", telCfg); err != nil {
		return nil, fmt.Errorf("decoding telemetry config: %w", err)
	}
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return nil, err
	}

	logCfg := logging.NewDefaultConfig()
	if err := cfg.Unmarshal("logging", logCfg); err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("decoding logging config: %w", err)
	}
	if opts.LogToStderr && logCfg.Output.Stdout {
		logCfg.Output.Stdout = false
		logCfg.Output.Stderr = true
	}
	if opts.LogLevel != "" {
		if logCfg.Level, err = logging.LevelFromString(opts.LogLevel); err != nil {
			_ = tel.Shutdown(ctx)
			return nil, err
		}
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	return &Runtime{Config: cfg, Telemetry: tel, Logger: logger}, nil
}

// Shutdown flushes the logger and telemetry exporters. It runs even when
// ctx is already canceled, bounded by the telemetry shutdown timeout.
func (r *Runtime) Shutdown(ctx context.Context) error {
	return errors.Join(r.Logger.Sync(), r.Telemetry.Shutdown(context.WithoutCancel(ctx)))
}
