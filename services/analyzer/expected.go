// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analyzer

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// defaultExpectedStates holds the shipped revision of the
// expected-equipment-state table, baked into the binary at compile time
// so the engine always has a working table even with no override file.
//
//go:embed expected_states.yaml
var defaultExpectedStates []byte

// ModeExpectation describes the equipment signature one mode should show
// in steady state.
type ModeExpectation struct {
	// Pump: the circulation pump must be running.
	Pump bool `yaml:"pump"`

	// Heater: the heater relay should be on.
	Heater bool `yaml:"heater"`

	// Valves maps short valve names to position: true = spa, false = pool.
	Valves map[string]bool `yaml:"valves"`
}

// expectedStatesFile is the YAML document layout.
type expectedStatesFile struct {
	Version int                        `yaml:"version"`
	Modes   map[string]ModeExpectation `yaml:"modes"`
}

// ExpectedTable is the versioned expected-state-per-mode table.
//
// The table has been corrected more than once in the field (a steady-state
// flag's expected value was flipped between revisions), so it is loaded
// from data and hot-reloadable rather than hard-coded.
//
// # Thread Safety
//
// Safe for concurrent use: reads take an RLock, reloads take the write
// lock.
type ExpectedTable struct {
	mu       sync.RWMutex
	version  int
	checksum string
	modes    map[string]ModeExpectation
}

// NewExpectedTable parses a table from YAML bytes.
func NewExpectedTable(data []byte) (*ExpectedTable, error) {
	var file expectedStatesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse expected-states table: %w", err)
	}
	if len(file.Modes) == 0 {
		return nil, fmt.Errorf("expected-states table has no modes")
	}
	sum := sha256.Sum256(data)
	return &ExpectedTable{
		version:  file.Version,
		checksum: hex.EncodeToString(sum[:]),
		modes:    file.Modes,
	}, nil
}

// DefaultExpectedTable returns the embedded shipped revision.
func DefaultExpectedTable() *ExpectedTable {
	table, err := NewExpectedTable(defaultExpectedStates)
	if err != nil {
		// The embedded file is validated by tests; reaching this means a
		// broken build, not a runtime condition.
		panic(fmt.Sprintf("embedded expected_states.yaml invalid: %v", err))
	}
	return table
}

// Version returns the table revision number.
func (t *ExpectedTable) Version() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Checksum returns the SHA256 hex digest of the loaded table source.
func (t *ExpectedTable) Checksum() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.checksum
}

// ForMode returns the expectation for a mode. The second result is false
// for unknown modes and ModeNone.
func (t *ExpectedTable) ForMode(mode string) (ModeExpectation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	exp, ok := t.modes[mode]
	return exp, ok
}

// Reload replaces the table contents from YAML bytes. On parse failure
// the current table is kept and the error returned.
func (t *ExpectedTable) Reload(data []byte) error {
	next, err := NewExpectedTable(data)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.version = next.version
	t.checksum = next.checksum
	t.modes = next.modes
	t.mu.Unlock()
	return nil
}

// WatchFile loads an override file into the table and keeps watching it
// for changes, reloading on every write. The returned stop function
// closes the watcher. A malformed rewrite logs a warning and keeps the
// previous revision (the engine never runs without a table).
func (t *ExpectedTable) WatchFile(path string, logger *slog.Logger) (stop func(), err error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read expected-states override %s: %w", path, err)
	}
	if err := t.Reload(data); err != nil {
		return nil, fmt.Errorf("load expected-states override %s: %w", path, err)
	}
	logger.Info("expected-states override loaded", "path", path, "version", t.Version())

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				data, err := os.ReadFile(path)
				if err != nil {
					logger.Warn("expected-states reread failed", "path", path, "error", err)
					continue
				}
				if err := t.Reload(data); err != nil {
					logger.Warn("expected-states reload rejected, keeping previous revision",
						"path", path, "error", err)
					continue
				}
				logger.Info("expected-states table reloaded", "path", path, "version", t.Version())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("expected-states watcher error", "error", err)
			}
		}
	}()

	return func() { _ = watcher.Close() }, nil
}
