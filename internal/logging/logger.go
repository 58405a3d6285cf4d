package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON at Info, anything else human-readable text at
// Debug. A non-empty level overrides the environment's default; it is
// validated at config load, so an unknown name here falls back silently.
func NewLogger(env, level string) *slog.Logger {
	return newLogger(env, level, os.Stdout)
}

// ParseLevel maps a level name such as "debug", "info", "warn" or "error"
// onto a slog level. Case is ignored and offsets like "info+2" work.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

func newLogger(env, level string, w io.Writer) *slog.Logger {
	production := env == "production"

	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if production {
		opts.Level = slog.LevelInfo
	}
	if level != "" {
		if l, err := ParseLevel(level); err == nil {
			opts.Level = l
		}
	}

	var handler slog.Handler
	if production {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With(slog.String("service", "genspark-sync"))
}
