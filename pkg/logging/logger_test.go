// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}

	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.level.String())
		})
	}
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()
	require.NotNil(t, logger)
	require.NotNil(t, logger.Slog())

	// Must not panic and must tolerate odd argument counts.
	logger.Info("message", "key", "value")
	logger.Debug("filtered at default level", "unpaired")
}

func TestFileLogging(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "engine",
		Quiet:   true,
	})
	logger.Info("cycle complete", "tier", "RULE_BASED")
	require.NoError(t, logger.Close())

	name := "engine_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), "cycle complete")
	assert.Contains(t, string(data), `"service":"engine"`)
}

func TestBufferedExporter(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "test",
		Quiet:    true,
		Exporter: exporter,
	})

	logger.Info("exported message", "count", 3)
	logger.Debug("below level, not exported")

	// Export is asynchronous; wait briefly for the goroutine.
	require.Eventually(t, func() bool {
		return len(exporter.Entries()) == 1
	}, time.Second, 10*time.Millisecond)

	entries := exporter.Entries()
	assert.Equal(t, "exported message", entries[0].Message)
	assert.Equal(t, "test", entries[0].Service)
	assert.Equal(t, 3, entries[0].Attrs["count"])

	require.NoError(t, logger.Close())
}

func TestWithAttributes(t *testing.T) {
	exporter := NewBufferedExporter()
	parent := New(Config{Level: LevelInfo, Quiet: true, Exporter: exporter})
	child := parent.With("cycle_id", "abc")

	child.Info("tier settled")

	require.Eventually(t, func() bool {
		return len(exporter.Entries()) == 1
	}, time.Second, 10*time.Millisecond)
	// Attribute travels via the slog handler; the exporter sees only
	// call-site args, so just confirm the call did not lose the message.
	assert.Equal(t, "tier settled", exporter.Entries()[0].Message)
}

func TestNopExporter(t *testing.T) {
	var e NopExporter
	ctx := context.Background()
	assert.NoError(t, e.Export(ctx, LogEntry{}))
	assert.NoError(t, e.Flush(ctx))
	assert.NoError(t, e.Close())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	expanded := expandPath("~/.tidewarden/logs")
	assert.True(t, strings.HasPrefix(expanded, home))
	assert.Equal(t, "/var/log/tidewarden", expandPath("/var/log/tidewarden"))
}

func TestArgsToMap(t *testing.T) {
	m := argsToMap([]any{"a", 1, "b", "two", 3, "ignored-non-string-key"})
	assert.Equal(t, 1, m["a"])
	assert.Equal(t, "two", m["b"])
	assert.Len(t, m, 2)
}
