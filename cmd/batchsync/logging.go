package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"

	"github.com/c360/batchsync/config"
	"github.com/c360/batchsync/errors"
)

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger writes records to w in the configured format. With a
// diagnostics file set, records also fan out to that file as JSON so skipped
// runs can be reviewed after the fact. The returned func closes the file.
func setupLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, func() error, error) {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: strings.EqualFold(cfg.Level, "debug"),
	}

	var console slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		console = slog.NewJSONHandler(w, opts)
	} else {
		console = slog.NewTextHandler(w, opts)
	}

	cleanup := func() error { return nil }
	handler := console

	if cfg.DiagnosticsFile != "" {
		file, err := os.OpenFile(cfg.DiagnosticsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, errors.WrapInvalid(err, "cli", "setupLogger", "open diagnostics file")
		}
		handler = slogmulti.Fanout(console, slog.NewJSONHandler(file, opts))
		cleanup = file.Close
	}

	logger := slog.New(handler).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	)
	return logger, cleanup, nil
}
