package common

import (
	"log/slog"
	"os"
)

type LoggingOpts struct {
	Debug   bool
	JSON    bool
	Service string
	Version string
}

func LoggerJSON(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: level == slog.LevelDebug,
		Level:     level,
	}))
}

func LoggerText(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// SetupLogger builds the process logger. Service and version, when set, are
// attached to every record.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	if opts.JSON {
		log = LoggerJSON(logLevel)
	} else {
		log = LoggerText(logLevel)
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}

	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}

	return log
}
