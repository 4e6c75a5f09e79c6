// Package logging builds the slog logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options configures New.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	// FilePath, when set, receives a JSON copy of every record.
	FilePath string
	Writer   io.Writer // defaults to os.Stderr
}

// Logger is a configured logger and the cleanup for its file.
type Logger struct {
	Logger *slog.Logger
	Close  func() error
	Path   string
}

// Nop discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// New builds a logger writing to opts.Writer and, optionally, a log file.
func New(opts Options) (Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return Logger{Logger: Nop(), Close: func() error { return nil }}, err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: level, ReplaceAttr: redactAttr}

	var console slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		console = slog.NewJSONHandler(w, handlerOpts)
	case "", "text":
		console = slog.NewTextHandler(w, handlerOpts)
	default:
		return Logger{Logger: Nop(), Close: func() error { return nil }}, fmt.Errorf("invalid log format %q", opts.Format)
	}

	if opts.FilePath == "" {
		return Logger{Logger: slog.New(console), Close: func() error { return nil }}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
		return Logger{Logger: slog.New(console), Close: func() error { return nil }}, err
	}
	file, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return Logger{Logger: slog.New(console), Close: func() error { return nil }}, err
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		AddSource:   true,
		ReplaceAttr: redactAttr,
	})
	return Logger{
		Logger: slog.New(fanout{console, fileHandler}),
		Close:  file.Close,
		Path:   opts.FilePath,
	}, nil
}
