package logging

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

const instrumentationName = "github.com/fyrsmithlabs/similard"

// newCore builds the console and OTEL cores and wraps them with sampling.
func newCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Stdout || cfg.Output.Stderr {
		var encoder zapcore.Encoder = newEncoder(cfg.Format)
		if cfg.Redaction.Enabled {
			re, err := NewRedactingEncoder(encoder, cfg.Redaction)
			if err != nil {
				return nil, err
			}
			encoder = re
		}
		sink := os.Stdout
		if cfg.Output.Stderr {
			sink = os.Stderr
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(sink), cfg.Level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		cores = append(cores, &levelFilterCore{
			Core:    otelzap.NewCore(instrumentationName, otelzap.WithLoggerProvider(otelProvider)),
			enabler: cfg.Level,
		})
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("no log output available")
	}
	return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
}
