// Package logging wraps log/slog with the severity taxonomy the message
// transport core expects: threaddebug, debug, data, info, warning, error,
// critical. slog only ships four levels, so the extra three are modeled as
// custom slog.Level values spaced around the stock ones, the way the slog
// package docs themselves suggest extending levels.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/lmittmann/tint"
)

// Severity levels. Info/Debug/Warn/Error reuse slog's own constants so
// existing slog tooling (level filters, handlers) still does the right
// thing; ThreadDebug/Data/Critical fill the gaps the spec's taxonomy needs.
const (
	LevelThreadDebug = slog.Level(-8)
	LevelDebug       = slog.LevelDebug  // -4
	LevelData        = slog.Level(-2)
	LevelInfo        = slog.LevelInfo // 0
	LevelWarning     = slog.LevelWarn // 4
	LevelError       = slog.LevelError // 8
	LevelCritical    = slog.Level(12)
)

var levelNames = map[slog.Level]string{
	LevelThreadDebug: "THREADDEBUG",
	LevelData:        "DATA",
	LevelCritical:    "CRITICAL",
}

// replaceLevelNames renders the custom levels with their own names instead
// of slog's default "DEBUG+4"-style rendering.
func replaceLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok {
			if name, ok := levelNames[level]; ok {
				a.Value = slog.StringValue(name)
			}
		}
	}
	return a
}

// Global structured logger. Initialized with a reasonable text handler.
var logger atomic.Pointer[slog.Logger]

func init() {
	l := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: LevelInfo}))
	logger.Store(l)
}

// L returns the current global logger.
func L() *slog.Logger { return logger.Load() }

// Set replaces the global logger.
func Set(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// New creates a logger with the given level, format ("text" or "json"), and
// optional writer (defaults to stderr). The "text" format uses a colorized
// tint.Handler (readable on an operator's terminal); "json" uses slog's own
// JSON handler since color has no meaning there.
func New(format string, level slog.Leveler, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevelNames})
	default:
		h = tint.NewHandler(w, &tint.Options{Level: level})
	}
	return slog.New(h)
}

// Logf logs at an arbitrary level, including the non-standard ones, so call
// sites that need threaddebug/data/critical don't need a bespoke method per
// level the way slog.Logger.Debug/Info/Warn/Error would require.
func Logf(l *slog.Logger, level slog.Level, msg string, args ...any) {
	if l == nil {
		l = L()
	}
	l.Log(context.Background(), level, msg, args...)
}
