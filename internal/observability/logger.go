package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig selects the level, encoding and destination of service logs.
type LogConfig struct {
	Level  string
	Format string
	Output string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the root logger. Output is stdout, stderr or a file path;
// the returned closer releases the file.
func NewLogger(cfg LogConfig) (zerolog.Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	var (
		writer io.Writer
		closer io.Closer = nopCloser{}
	)
	switch out := strings.TrimSpace(cfg.Output); out {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log output: %w", err)
		}
		writer, closer = f, f
	}

	return newLogger(writer, cfg.Format, level), closer, nil
}

func newLogger(w io.Writer, format string, level zerolog.Level) zerolog.Logger {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func parseLevel(raw string) (zerolog.Level, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(raw)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
