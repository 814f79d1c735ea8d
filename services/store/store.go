// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists the append-only decision audit trail in
// BadgerDB.
//
// One DecisionRecord per cycle, keyed by cycle timestamp. Records are
// never updated after write; the store exposes only append and
// range-read operations, which keeps the trail honest by construction.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/lagunalabs/tidewarden/services/analyzer"
	"github.com/lagunalabs/tidewarden/services/decision"
	"github.com/lagunalabs/tidewarden/services/executor"
	"github.com/lagunalabs/tidewarden/services/gate"
	"github.com/lagunalabs/tidewarden/services/safety"
)

// Key layout:
//
//	rec:<RFC3339Nano>            → DecisionRecord JSON
//	tier:<tier>:<RFC3339Nano>    → empty (secondary index)
const (
	recPrefix  = "rec:"
	tierPrefix = "tier:"
)

// tsFormat sorts lexicographically in key order. RFC3339Nano does not
// (it trims trailing zeros), so keys use a fixed-width layout.
const tsFormat = "2006-01-02T15:04:05.000000000Z"

// DecisionRecord is the denormalized per-cycle audit record: snapshot
// summary, issues, the decision, every safety verdict and gate outcome,
// and the execution results.
type DecisionRecord struct {
	CycleAt          time.Time               `json:"cycle_at"`
	SnapshotSummary  map[string]string       `json:"snapshot_summary,omitempty"`
	Issues           []analyzer.Issue        `json:"issues,omitempty"`
	Decision         decision.Decision       `json:"decision"`
	Verdicts         []safety.Verdict        `json:"verdicts,omitempty"`
	GateResults      []gate.Result           `json:"gate_results,omitempty"`
	ActionResults    []executor.ActionResult `json:"action_results,omitempty"`
	CatalogVersion   int                     `json:"catalog_version"`
	WhitelistVersion int                     `json:"whitelist_version"`

	// ConfirmationID marks a confirmation-resolution addendum: the
	// record carries the verdicts and execution result of a
	// human-approved action, keyed by resolution time, not a cycle.
	ConfirmationID string `json:"confirmation_id,omitempty"`
}

// ErrDuplicateCycle is returned when appending a record for a cycle
// timestamp that already exists. History is never rewritten.
var ErrDuplicateCycle = errors.New("decision record already exists for cycle")

// Config holds BadgerDB settings for the store.
type Config struct {
	// Path is the database directory. Required unless InMemory.
	Path string

	// InMemory runs without disk persistence (tests).
	InMemory bool

	// SyncWrites fsyncs every append. On for production.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging; nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns production settings for the given directory.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns settings for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Store is the append-only decision trail.
//
// Thread Safety: safe for concurrent use; BadgerDB transactions provide
// the atomicity of each append.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) the store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open decision store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Append writes one cycle's record atomically: the record and its tier
// index entry commit together or not at all. Appending a second record
// for the same cycle timestamp fails with ErrDuplicateCycle.
func (s *Store) Append(ctx context.Context, rec *DecisionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.CycleAt.IsZero() {
		return errors.New("decision record has no cycle timestamp")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal decision record: %w", err)
	}

	ts := rec.CycleAt.UTC().Format(tsFormat)
	recKey := []byte(recPrefix + ts)
	tierKey := []byte(tierPrefix + string(rec.Decision.Tier) + ":" + ts)

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(recKey); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateCycle, ts)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check cycle key: %w", err)
		}
		if err := txn.Set(recKey, data); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := txn.Set(tierKey, nil); err != nil {
			return fmt.Errorf("write tier index: %w", err)
		}
		return nil
	})
}

// Range reads records with from <= CycleAt < to, in cycle order.
func (s *Store) Range(ctx context.Context, from, to time.Time) ([]DecisionRecord, error) {
	var out []DecisionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		start := []byte(recPrefix + from.UTC().Format(tsFormat))
		end := recPrefix + to.UTC().Format(tsFormat)

		for it.Seek(start); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			if string(item.Key()) >= end {
				break
			}
			if err := item.Value(func(val []byte) error {
				var rec DecisionRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("decode record %s: %w", item.Key(), err)
				}
				out = append(out, rec)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// ByTier reads records settled by one tier in the given range, using the
// tier index and resolving each hit to its record.
func (s *Store) ByTier(ctx context.Context, tier decision.Tier, from, to time.Time) ([]DecisionRecord, error) {
	var out []DecisionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := tierPrefix + string(tier) + ":"
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		start := []byte(prefix + from.UTC().Format(tsFormat))
		end := prefix + to.UTC().Format(tsFormat)

		for it.Seek(start); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := string(it.Item().Key())
			if key >= end {
				break
			}
			ts := key[len(prefix):]

			item, err := txn.Get([]byte(recPrefix + ts))
			if err != nil {
				return fmt.Errorf("resolve tier index %s: %w", key, err)
			}
			if err := item.Value(func(val []byte) error {
				var rec DecisionRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("decode record %s: %w", ts, err)
				}
				out = append(out, rec)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// badgerLogger adapts slog to BadgerDB's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
