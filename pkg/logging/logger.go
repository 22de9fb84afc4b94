// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging builds the structured logger used across graphops.
//
// Output goes to stderr by default, which keeps stdout clean for tool and
// CLI results. When a log directory is configured, JSON log files named
// {service}_{date}.log are written alongside the stderr stream via a
// fan-out handler.
//
// The package hands back a plain *slog.Logger; all graphops components
// accept that type directly rather than a wrapper.
//
// # Security Considerations
//
// Nothing here redacts sensitive data. Callers must not log tokens or
// credentials; log metadata instead:
//
//	logger.Info("auth", "token_present", token != "")
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ParseLevel converts a config-file level name to a slog.Level.
// Accepts debug, info, warn, error (case-insensitive). Unknown names
// return an error rather than silently defaulting.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

// Config controls logger construction.
type Config struct {
	// Level is the minimum severity emitted.
	Level slog.Level

	// Service names the process; it appears as an attribute on every
	// record and in the log file name. Defaults to "graphops".
	Service string

	// LogDir enables JSON file logging when non-empty. Supports a
	// leading ~ for the home directory. The directory is created if
	// missing.
	LogDir string

	// JSON switches the stderr stream to JSON. Text is the default for
	// interactive use.
	JSON bool

	// stderr overrides the console stream in tests.
	stderr io.Writer
}

// Logger bundles the configured slog.Logger with the resources behind it.
type Logger struct {
	*slog.Logger

	file *os.File
}

// New builds a logger per cfg. Errors opening the log file degrade to
// stderr-only logging with a warning rather than failing construction; a
// process should not refuse to start because its log file is unwritable.
func New(cfg Config) *Logger {
	if cfg.Service == "" {
		cfg.Service = "graphops"
	}
	stderr := cfg.stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}
	var console slog.Handler
	if cfg.JSON {
		console = slog.NewJSONHandler(stderr, opts)
	} else {
		console = slog.NewTextHandler(stderr, opts)
	}

	l := &Logger{}
	handlers := []slog.Handler{console}

	if cfg.LogDir != "" {
		file, err := openLogFile(cfg.LogDir, cfg.Service)
		if err != nil {
			slog.New(console).Warn("File logging disabled",
				slog.String("component", "logging"),
				slog.String("error", err.Error()))
		} else {
			l.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var h slog.Handler = handlers[0]
	if len(handlers) > 1 {
		h = &fanoutHandler{handlers: handlers}
	}

	l.Logger = slog.New(h).With(slog.String("service", cfg.Service))
	return l
}

// Default returns a stderr-only text logger at info level.
func Default() *Logger {
	return New(Config{Level: slog.LevelInfo})
}

// Close flushes and closes the log file, if any. Safe to call on a
// stderr-only logger.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("logging: sync: %w", err)
	}
	return l.file.Close()
}

// openLogFile creates the log directory and opens today's log file in
// append mode.
func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// expandPath resolves a leading ~ to the user's home directory. Paths
// without a ~ prefix pass through unchanged, as does a path whose home
// directory cannot be resolved.
func expandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// fanoutHandler duplicates records to every wrapped handler.
//
// Enabled reports true if any handler would accept the level, and Handle
// delivers to each enabled handler, returning the first error after all
// deliveries are attempted. One failing destination must not starve the
// others.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}
