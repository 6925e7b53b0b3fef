package logging

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
func NewLogger(env string) *slog.Logger {
	return slog.New(newHandler(os.Stdout, env))
}

func newHandler(w io.Writer, env string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		return slog.NewJSONHandler(w, opts)
	}

	opts.Level = slog.LevelDebug

	return slog.NewTextHandler(w, opts)
}

// WithFolderLog returns a logger that writes every record both to the
// base logger's handler and to the folder's own log file. The file
// always receives text records regardless of environment so it stays
// readable with tail.
func WithFolderLog(base *slog.Logger, fl *FolderLog) *slog.Logger {
	fileHandler := slog.NewTextHandler(fl, &slog.HandlerOptions{Level: slog.LevelInfo})

	return slog.New(&teeHandler{handlers: []slog.Handler{base.Handler(), fileHandler}})
}
