// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/lagunalabs/tidewarden/pkg/logging"
	"github.com/lagunalabs/tidewarden/services/analyzer"
	"github.com/lagunalabs/tidewarden/services/api"
	"github.com/lagunalabs/tidewarden/services/decision"
	"github.com/lagunalabs/tidewarden/services/engine"
	"github.com/lagunalabs/tidewarden/services/executor"
	"github.com/lagunalabs/tidewarden/services/gate"
	"github.com/lagunalabs/tidewarden/services/safety"
	"github.com/lagunalabs/tidewarden/services/snapshot"
	"github.com/lagunalabs/tidewarden/services/store"
)

// initTracer sets up the OTLP exporter when an endpoint is configured.
// Without one, tracing stays on the default no-op provider.
func initTracer(endpoint string) (func(context.Context), error) {
	if endpoint == "" {
		return func(context.Context) {}, nil
	}
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("tidewarden")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func runWatcher(cmd *cobra.Command, args []string) {
	cfg, err := engine.LoadConfig()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	logger := logging.New(logging.Config{
		Service: "engine",
		LogDir:  cfg.LogDir,
		JSON:    cfg.LogJSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cleanup, err := initTracer(cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	source, err := snapshot.NewRESTSource(cfg.ControllerURL, cfg.ControllerToken, 10*time.Second)
	if err != nil {
		log.Fatalf("bad controller URL: %v", err)
	}

	expected := analyzer.DefaultExpectedTable()
	var stopWatch func()
	if cfg.ExpectedStatesPath != "" {
		if data, readErr := os.ReadFile(cfg.ExpectedStatesPath); readErr != nil {
			logger.Warn("expected-states file unreadable, using embedded table",
				"path", cfg.ExpectedStatesPath, "error", readErr)
		} else if err := expected.Reload(data); err != nil {
			logger.Warn("expected-states file rejected, using embedded table",
				"path", cfg.ExpectedStatesPath, "error", err)
		}
		stopWatch, err = expected.WatchFile(cfg.ExpectedStatesPath, logger.Slog())
		if err != nil {
			logger.Warn("expected-states watch unavailable", "error", err)
		} else {
			defer stopWatch()
		}
	}

	stages := []decision.Stage{decision.NewRuleStage()}
	if cfg.LocalURL != "" {
		stages = append(stages, decision.NewLocalStage(decision.LocalStageConfig{
			BaseURL:             cfg.LocalURL,
			Model:               cfg.LocalModel,
			Timeout:             cfg.LocalTimeout,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
		}))
	} else {
		logger.Info("local tier disabled, rules escalate straight to cloud")
	}
	stages = append(stages, decision.NewCloudStage(decision.CloudStageConfig{
		APIKey:  cfg.CloudAPIKey,
		BaseURL: cfg.CloudBaseURL,
		Model:   cfg.CloudModel,
		Timeout: cfg.CloudTimeout,
		Pricing: decision.Pricing{
			PromptUSDPerMTok:     cfg.PromptUSDPerMTok,
			CompletionUSDPerMTok: cfg.CompletionUSDPerMTok,
		},
	}, logger.Slog()))

	st, err := store.Open(store.DefaultConfig(cfg.StorePath))
	if err != nil {
		log.Fatalf("failed to open decision store at %s: %v", cfg.StorePath, err)
	}
	defer st.Close()

	surface := executor.NewRESTSurface(cfg.ControllerURL, cfg.ControllerToken, 10*time.Second)
	if cfg.NotifyService != "" {
		surface.NotifyService = cfg.NotifyService
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng, err := engine.New(engine.Options{
		Source:    source,
		Domain:    engine.NewPoolDomain(analyzer.New(expected, analyzer.DefaultThresholds())),
		Router:    decision.NewRouter(logger.Slog(), stages...),
		Validator: safety.New(cfg.LockClearAllowance),
		Gate: gate.New(gate.Config{
			MaxAutoFixesPerHour: cfg.MaxAutoFixesPerHour,
			RatePerKind:         cfg.RatePerKind,
			ConfirmationTTL:     cfg.ConfirmationTTL,
		}, gate.DefaultWhitelist(), logger.Slog()),
		Executor: executor.New(surface, 15*time.Second, logger.Slog()),
		Store:    st,
		Logger:   logger.Slog(),
		Metrics:  engine.NewMetrics(registry),
		Interval: cfg.CycleInterval,
	})
	if err != nil {
		log.Fatalf("failed to assemble engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.New(cfg.ListenAddr, eng, registry)
	go func() {
		logger.Info("operator API listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil {
			logger.Error("API server failed", "error", err)
			stop()
		}
	}()

	_ = eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API shutdown failed", "error", err)
	}
	logger.Info("tidewarden stopped")
}
