package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New constructs the process logger. Development builds log at debug level
// through a console writer; anything else emits JSON at info level.
func New(env string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	dev := strings.EqualFold(strings.TrimSpace(env), "development")
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}
	if dev {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// WithLevel overrides the level chosen by New, ignoring unknown names.
func WithLevel(l zerolog.Logger, name string) zerolog.Logger {
	if strings.TrimSpace(name) == "" {
		return l
	}
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return l
	}
	return l.Level(level)
}
