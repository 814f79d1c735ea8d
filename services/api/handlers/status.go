// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lagunalabs/tidewarden/services/engine"
	"github.com/lagunalabs/tidewarden/services/gate"
)

// Status returns a point-in-time view of the watcher: recent cycle
// outcomes, tier settlement distribution, and the active policy
// versions.
func Status(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		total, counts, percent := eng.Router().Stats().Snapshot()

		pending := 0
		for _, pc := range eng.Gate().Confirmations().List() {
			if pc.Status == gate.StatusPending {
				pending++
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"domain":                eng.Domain().Name(),
			"recent_cycles":         eng.History().Recent(),
			"cycles_settled":        total,
			"tier_counts":           counts,
			"tier_percent":          percent,
			"pending_confirmations": pending,
			"catalog_version":       eng.Domain().CatalogVersion(),
			"whitelist_version":     eng.Gate().Whitelist().Version(),
			"whitelist_checksum":    eng.Gate().Whitelist().Checksum(),
		})
	}
}

// TriggerCycle runs one cycle immediately instead of waiting for the
// next tick. Useful after maintenance work on the pool equipment.
func TriggerCycle(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		slog.Info("manual cycle trigger", "remote", c.ClientIP())
		outcome := eng.RunCycle(c.Request.Context())
		status := http.StatusOK
		if outcome.Err != "" {
			status = http.StatusConflict
		}
		c.JSON(status, outcome)
	}
}
