// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package api serves the operator surface: status, confirmations,
// audit reads, cost reports, and Prometheus metrics. The pipeline
// itself never depends on this package; killing the API leaves cycles
// running.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/lagunalabs/tidewarden/services/api/routes"
	"github.com/lagunalabs/tidewarden/services/engine"
)

// Server wraps the HTTP listener.
type Server struct {
	httpServer *http.Server
}

// New builds the operator API server on addr.
func New(addr string, eng *engine.Engine, registry *prometheus.Registry) *Server {
	router := gin.Default()
	router.Use(otelgin.Middleware("tidewarden"))
	routes.SetupRoutes(router, eng, registry)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
