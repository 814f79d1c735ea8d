// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lagunalabs/tidewarden/services/decision"
	"github.com/lagunalabs/tidewarden/services/engine"
)

// auditWindow parses the from/to query parameters, defaulting to the
// trailing 24 hours.
func auditWindow(c *gin.Context) (from, to time.Time, err error) {
	now := time.Now().UTC()
	from, to = now.Add(-24*time.Hour), now

	if raw := c.Query("from"); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, fmt.Errorf("bad from timestamp: %w", err)
		}
	}
	if raw := c.Query("to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, fmt.Errorf("bad to timestamp: %w", err)
		}
	}
	if !from.Before(to) {
		return from, to, fmt.Errorf("from must precede to")
	}
	return from, to, nil
}

// AuditRange returns the full decision records in [from, to).
func AuditRange(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		from, to, err := auditWindow(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		records, err := eng.Store().Range(c.Request.Context(), from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "audit read failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"from":    from,
			"to":      to,
			"count":   len(records),
			"records": records,
		})
	}
}

// AuditByTier returns records settled by one tier, via the tier index.
func AuditByTier(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		tier := decision.Tier(c.Param("tier"))
		switch tier {
		case decision.TierRuleBased, decision.TierLocal, decision.TierCloud:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tier"})
			return
		}
		from, to, err := auditWindow(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		records, err := eng.Store().ByTier(c.Request.Context(), tier, from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "audit read failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"tier":    tier,
			"count":   len(records),
			"records": records,
		})
	}
}

// CostReport aggregates per-day cycle counts, cloud calls, and spend.
func CostReport(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := 7
		if raw := c.Query("days"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 || parsed > 365 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "days must be 1-365"})
				return
			}
			days = parsed
		}
		to := time.Now().UTC()
		from := to.AddDate(0, 0, -days)

		report, err := eng.Store().Report(c.Request.Context(), from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "report generation failed"})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
