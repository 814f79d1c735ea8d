// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lagunalabs/tidewarden/services/engine"
	"github.com/lagunalabs/tidewarden/services/gate"
)

// ListConfirmations returns queued actions newest first, including
// already-resolved ones so an operator can audit recent decisions.
func ListConfirmations(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"confirmations": eng.Gate().Confirmations().List(),
		})
	}
}

// GetConfirmation returns one queued action by id.
func GetConfirmation(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		pc, ok := eng.Gate().Confirmations().Get(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "confirmation not found"})
			return
		}
		c.JSON(http.StatusOK, pc)
	}
}

// ApproveConfirmation applies an operator approval. The action is
// re-validated against the latest snapshot before execution; an
// approval cannot override a safety veto.
func ApproveConfirmation(eng *engine.Engine) gin.HandlerFunc {
	return resolveConfirmation(eng, true)
}

// RejectConfirmation discards a queued action.
func RejectConfirmation(eng *engine.Engine) gin.HandlerFunc {
	return resolveConfirmation(eng, false)
}

func resolveConfirmation(eng *engine.Engine, approve bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		slog.Info("confirmation resolution requested",
			"confirmation_id", id, "approve", approve, "remote", c.ClientIP())

		pc, result, err := eng.ResolveConfirmation(c.Request.Context(), id, approve)
		switch {
		case errors.Is(err, gate.ErrConfirmationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "confirmation not found"})
			return
		case errors.Is(err, gate.ErrConfirmationClosed):
			c.JSON(http.StatusConflict, gin.H{
				"error":        "confirmation already resolved or expired",
				"confirmation": pc,
			})
			return
		case err != nil:
			// Approval accepted but the follow-through failed: a safety
			// veto on re-validation, or no snapshot seen yet.
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":        err.Error(),
				"confirmation": pc,
			})
			return
		}

		resp := gin.H{"confirmation": pc}
		if result != nil {
			resp["result"] = result
		}
		c.JSON(http.StatusOK, resp)
	}
}
