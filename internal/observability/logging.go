// Package observability owns logger construction for the delivery service.
//
// Two loggers are exposed: CLILogger for command-line output paths, and a
// request-scoped logger factory for the HTTP server. Both are zap-based so
// log fields stay structured all the way down to the staging/mover engines.
package observability

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger used by commands before the server
// composition has happened. It defaults to a no-op logger so tests and
// library consumers never hit a nil logger.
var CLILogger = zap.NewNop()

// InitCLILogger replaces CLILogger with a configured logger.
//
// level accepts the usual zap level names; unknown values fall back to info.
// When jsonOutput is false a console encoder is used, which is what operators
// see when running the service in the foreground.
func InitCLILogger(level string, jsonOutput bool) {
	CLILogger = New(level, jsonOutput)
}

// New builds a logger with the given level and encoding.
func New(level string, jsonOutput bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if !jsonOutput {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		// zap only fails on invalid sink configuration; fall back rather
		// than making logging setup a fatal path.
		return zap.NewNop()
	}
	return logger
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
