package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const appName = "staffline"

type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// File switches output to an append-only logfmt file.
	File string
}

// New builds the process logger. Console output is styled text on stderr;
// file output stays unstyled logfmt so it can be shipped as is.
func New(stderr io.Writer, opts Options) (*log.Logger, func() error, error) {
	raw := strings.TrimSpace(opts.Level)
	if raw == "" {
		raw = "info"
	}
	level, err := log.ParseLevel(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("parse logging level %q: %w", opts.Level, err)
	}
	if stderr == nil {
		stderr = io.Discard
	}
	noop := func() error { return nil }

	if strings.TrimSpace(opts.File) == "" {
		return log.NewWithOptions(stderr, log.Options{
			Level:           level,
			Prefix:          appName,
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Formatter:       log.TextFormatter,
		}), noop, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return log.NewWithOptions(f, log.Options{
		Level:           level,
		Prefix:          appName,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       log.LogfmtFormatter,
	}), f.Close, nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
