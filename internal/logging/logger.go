package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls the process logger
type Options struct {
	Level  string
	Pretty bool
	// LogDir, when set, receives a session_<timestamp>.log file in addition to stderr
	LogDir string
	Out    io.Writer
}

// Setup configures the process-wide zerolog logger and returns it.
// The returned closer flushes the session log file, if any.
func Setup(opts Options) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	var closer io.Closer = nopCloser{}
	writers := []io.Writer{out}
	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		name := fmt.Sprintf("session_%s.log", time.Now().Format("20060102_150405"))
		f, err := os.Create(filepath.Join(opts.LogDir, name))
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = logger
	return logger, closer, nil
}

// Component returns a child logger tagged with the component name
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
