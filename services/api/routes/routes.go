// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lagunalabs/tidewarden/services/api/handlers"
	"github.com/lagunalabs/tidewarden/services/engine"
)

// SetupRoutes registers the operator API.
func SetupRoutes(router *gin.Engine, eng *engine.Engine, registry *prometheus.Registry) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true})))

	v1 := router.Group("/v1")
	{
		v1.GET("/status", handlers.Status(eng))
		v1.POST("/cycle", handlers.TriggerCycle(eng))

		confirmations := v1.Group("/confirmations")
		{
			confirmations.GET("", handlers.ListConfirmations(eng))
			confirmations.GET("/:id", handlers.GetConfirmation(eng))
			confirmations.POST("/:id/approve", handlers.ApproveConfirmation(eng))
			confirmations.POST("/:id/reject", handlers.RejectConfirmation(eng))
		}

		audit := v1.Group("/audit")
		{
			audit.GET("", handlers.AuditRange(eng))
			audit.GET("/tier/:tier", handlers.AuditByTier(eng))
		}

		v1.GET("/report", handlers.CostReport(eng))
	}
}
