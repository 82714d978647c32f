// Package logging builds the zerolog logger used across a run.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const filePermission = 0o664

// Options selects the level and sink.
type Options struct {
	// Level is debug, info, warn (or warning) or error. Unknown values mean info.
	Level string
	// File, when set, appends JSON lines to that path instead of writing
	// human-readable output to the console.
	File string
	// Console overrides the console destination (stderr when nil).
	Console io.Writer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a logger and a closer for the log file. The closer is a no-op
// when logging to the console.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level := ParseLevel(opts.Level)

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePermission)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		logger := zerolog.New(zerolog.SyncWriter(f)).Level(level).With().Timestamp().Logger()
		return logger, f, nil
	}

	out := opts.Console
	if out == nil {
		out = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	logger := zerolog.New(console).Level(level).With().Timestamp().Logger()
	return logger, nopCloser{}, nil
}

// ParseLevel maps a level name onto a zerolog level.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
