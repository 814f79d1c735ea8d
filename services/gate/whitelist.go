// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gate classifies validated actions into automatic execution,
// human confirmation, or rejection, enforcing the auto-fix whitelist,
// the sliding-window rate limit, and per-kind cooldowns.
package gate

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lagunalabs/tidewarden/services/decision"
)

// defaultWhitelist is the shipped whitelist revision, baked in so the
// gate never runs without one.
//
//go:embed whitelist.yaml
var defaultWhitelist []byte

// whitelistFile is the YAML document layout.
type whitelistFile struct {
	Version     int              `yaml:"version"`
	AutoExecute []whitelistEntry `yaml:"auto_execute"`
}

type whitelistEntry struct {
	Kind            string `yaml:"kind"`
	CooldownSeconds int    `yaml:"cooldown_seconds"`
}

// Whitelist is the closed, versioned set of action kinds approved for
// unattended execution, with each kind's cooldown.
type Whitelist struct {
	version   int
	checksum  string
	cooldowns map[decision.ActionKind]time.Duration
}

// ParseWhitelist loads a whitelist from YAML bytes. Unknown action kinds
// are a hard error: the whitelist must never silently widen past the
// catalog.
func ParseWhitelist(data []byte) (*Whitelist, error) {
	var file whitelistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse whitelist: %w", err)
	}
	if len(file.AutoExecute) == 0 {
		return nil, fmt.Errorf("whitelist has no auto_execute entries")
	}

	cooldowns := make(map[decision.ActionKind]time.Duration, len(file.AutoExecute))
	for _, e := range file.AutoExecute {
		kind := decision.ActionKind(e.Kind)
		if !decision.KnownKind(kind) {
			return nil, fmt.Errorf("whitelist names unknown action kind %q", e.Kind)
		}
		if e.CooldownSeconds < 0 {
			return nil, fmt.Errorf("whitelist kind %q has negative cooldown", e.Kind)
		}
		cooldowns[kind] = time.Duration(e.CooldownSeconds) * time.Second
	}

	sum := sha256.Sum256(data)
	return &Whitelist{
		version:   file.Version,
		checksum:  hex.EncodeToString(sum[:]),
		cooldowns: cooldowns,
	}, nil
}

// DefaultWhitelist returns the embedded shipped revision.
func DefaultWhitelist() *Whitelist {
	wl, err := ParseWhitelist(defaultWhitelist)
	if err != nil {
		// Validated by tests; failing here means a broken build.
		panic(fmt.Sprintf("embedded whitelist.yaml invalid: %v", err))
	}
	return wl
}

// Version returns the whitelist revision number.
func (w *Whitelist) Version() int { return w.version }

// Checksum returns the sha256 of the whitelist source, for audit records
// and the verify command.
func (w *Whitelist) Checksum() string { return w.checksum }

// Contains reports whether the kind is approved for unattended execution.
func (w *Whitelist) Contains(kind decision.ActionKind) bool {
	_, ok := w.cooldowns[kind]
	return ok
}

// Cooldown returns the minimum interval between unattended executions of
// the kind. Zero means no cooldown.
func (w *Whitelist) Cooldown(kind decision.ActionKind) time.Duration {
	return w.cooldowns[kind]
}
