package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/go-logr/logr"
)

var (
	loggerMu    sync.RWMutex
	logger      logr.Logger
	loggerLevel = new(slog.LevelVar)
)

func init() {
	logger = newLogger(os.Stdout)
}

func newLogger(w io.Writer) logr.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: loggerLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			return a
		},
	})
	return logr.FromSlogHandler(handler)
}

// Logger returns the shared structured logger used across the service.
func Logger() logr.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetOutput redirects the shared logger. Loggers derived earlier keep their sink.
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = newLogger(w)
}

// SetLevel accepts debug, info, warn or error. Unknown values select info.
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		loggerLevel.Set(slog.LevelDebug)
	case "warn", "warning":
		loggerLevel.Set(slog.LevelWarn)
	case "error":
		loggerLevel.Set(slog.LevelError)
	default:
		loggerLevel.Set(slog.LevelInfo)
	}
}

// LogRequest emits a structured log line with common HTTP fields.
func LogRequest(msg string, fields map[string]any) {
	kv := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	Logger().Info(msg, kv...)
}
