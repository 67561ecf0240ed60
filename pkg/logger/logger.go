package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var Log = slog.Default()

// Setup initializes the global logger based on the environment.
// If env is "production", it uses JSON handler at info level.
// Otherwise, it uses Text handler (more human-readable) at debug level.
func Setup(env string) {
	SetupWriter(env, os.Stdout)
}

// SetupWriter is Setup writing to w.
func SetupWriter(env string, w io.Writer) {
	var handler slog.Handler

	if strings.EqualFold(env, "production") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	}

	Log = slog.New(handler)
	slog.SetDefault(Log)
}
