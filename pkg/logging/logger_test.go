// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{name: "debug", input: "debug", want: slog.LevelDebug},
		{name: "info", input: "info", want: slog.LevelInfo},
		{name: "empty defaults to info", input: "", want: slog.LevelInfo},
		{name: "warn", input: "warn", want: slog.LevelWarn},
		{name: "warning alias", input: "warning", want: slog.LevelWarn},
		{name: "error", input: "error", want: slog.LevelError},
		{name: "mixed case", input: "DeBuG", want: slog.LevelDebug},
		{name: "surrounding whitespace", input: "  info ", want: slog.LevelInfo},
		{name: "unknown", input: "trace", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_StderrOnly(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Service: "test", stderr: &buf})
	defer logger.Close()

	logger.Info("hello", slog.String("key", "value"))

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "key=value")
	assert.Contains(t, out, "service=test")
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, stderr: &buf})
	defer logger.Close()

	logger.Debug("debug msg")
	logger.Info("info msg")
	logger.Warn("warn msg")
	logger.Error("error msg")

	out := buf.String()
	assert.NotContains(t, out, "debug msg")
	assert.NotContains(t, out, "info msg")
	assert.Contains(t, out, "warn msg")
	assert.Contains(t, out, "error msg")
}

func TestNew_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Service: "test", JSON: true, stderr: &buf})
	defer logger.Close()

	logger.Info("structured", slog.Int("count", 3))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "structured", entry["msg"])
	assert.Equal(t, float64(3), entry["count"])
	assert.Equal(t, "test", entry["service"])
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{
		Level:   slog.LevelInfo,
		Service: "filetest",
		LogDir:  dir,
		stderr:  &buf,
	})

	logger.Info("to both streams", slog.String("k", "v"))
	require.NoError(t, logger.Close())

	name := "filetest_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	// The file stream is always JSON regardless of console format.
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "to both streams", entry["msg"])
	assert.Equal(t, "v", entry["k"])

	assert.Contains(t, buf.String(), "to both streams")
}

func TestNew_FileLoggingAppends(t *testing.T) {
	dir := t.TempDir()

	for i := 0; i < 2; i++ {
		logger := New(Config{Level: slog.LevelInfo, Service: "appender", LogDir: dir, stderr: &bytes.Buffer{}})
		logger.Info("run", slog.Int("n", i))
		require.NoError(t, logger.Close())
	}

	name := "appender_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
}

func TestNew_UnwritableLogDirDegrades(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  slog.LevelInfo,
		LogDir: string([]byte{0}),
		stderr: &buf,
	})
	defer logger.Close()

	// Construction must not fail; the warning and subsequent records go
	// to stderr.
	logger.Info("still logging")
	out := buf.String()
	assert.Contains(t, out, "File logging disabled")
	assert.Contains(t, out, "still logging")
}

func TestClose_StderrOnlyIsNoop(t *testing.T) {
	logger := New(Config{Level: slog.LevelInfo, stderr: &bytes.Buffer{}})
	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestDefault(t *testing.T) {
	logger := Default()
	require.NotNil(t, logger)
	require.NotNil(t, logger.Logger)
	assert.NoError(t, logger.Close())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "bare tilde", input: "~", want: home},
		{name: "tilde prefix", input: "~/logs", want: filepath.Join(home, "logs")},
		{name: "absolute unchanged", input: "/var/log/graphops", want: "/var/log/graphops"},
		{name: "relative unchanged", input: "logs", want: "logs"},
		{name: "embedded tilde unchanged", input: "/data/~cache", want: "/data/~cache"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandPath(tt.input))
		})
	}
}

func TestFanoutHandler_OneFailingDestination(t *testing.T) {
	var buf bytes.Buffer
	good := slog.NewTextHandler(&buf, nil)
	h := &fanoutHandler{handlers: []slog.Handler{failingHandler{}, good}}

	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "delivered anyway", 0))

	// The failing destination's error surfaces, but the good one still
	// received the record.
	assert.Error(t, err)
	assert.Contains(t, buf.String(), "delivered anyway")
}

func TestFanoutHandler_EnabledIfAnyEnabled(t *testing.T) {
	var buf bytes.Buffer
	warnOnly := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	debugToo := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	h := &fanoutHandler{handlers: []slog.Handler{warnOnly, debugToo}}

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

type failingHandler struct{}

func (failingHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (failingHandler) Handle(context.Context, slog.Record) error { return os.ErrClosed }
func (failingHandler) WithAttrs([]slog.Attr) slog.Handler        { return failingHandler{} }
func (failingHandler) WithGroup(string) slog.Handler             { return failingHandler{} }
