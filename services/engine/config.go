// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is everything the process needs, loaded once at startup.
// Validation failures here are the only errors that halt the process;
// every steady-state failure is recovered in the loop.
type Config struct {
	// Controller (snapshot source and control surface).
	ControllerURL   string `validate:"required,url"`
	ControllerToken string `validate:"required"`

	// Cycle scheduling.
	CycleInterval time.Duration `validate:"required,min=30s"`

	// Local model tier. Disabled when LocalURL is empty; the router
	// then escalates straight from rules to cloud.
	LocalURL            string `validate:"omitempty,url"`
	LocalModel          string
	LocalTimeout        time.Duration
	ConfidenceThreshold float64 `validate:"gte=0,lte=1"`

	// Cloud tier.
	CloudAPIKey          string `validate:"required"`
	CloudBaseURL         string `validate:"omitempty,url"`
	CloudModel           string `validate:"required"`
	CloudTimeout         time.Duration
	PromptUSDPerMTok     float64 `validate:"gte=0"`
	CompletionUSDPerMTok float64 `validate:"gte=0"`

	// Gate.
	MaxAutoFixesPerHour int `validate:"gte=0"`
	RatePerKind         bool
	ConfirmationTTL     time.Duration

	// Safety.
	LockClearAllowance time.Duration

	// Persistence.
	StorePath string `validate:"required"`

	// API server.
	ListenAddr string `validate:"required"`

	// Expected-state override file (optional hot-reloaded table).
	ExpectedStatesPath string

	// Notification service name on the controller.
	NotifyService string

	// Telemetry.
	OTLPEndpoint string

	// Logging.
	LogDir  string
	LogJSON bool
}

// DefaultConfig returns the baseline before environment overrides.
func DefaultConfig() Config {
	return Config{
		CycleInterval:        5 * time.Minute,
		LocalModel:           "llama3.1:8b",
		LocalTimeout:         30 * time.Second,
		ConfidenceThreshold:  0.7,
		CloudModel:           "gpt-4o-mini",
		CloudTimeout:         60 * time.Second,
		PromptUSDPerMTok:     0.15,
		CompletionUSDPerMTok: 0.60,
		MaxAutoFixesPerHour:  3,
		ConfirmationTTL:      time.Hour,
		LockClearAllowance:   10 * time.Minute,
		StorePath:            "/var/lib/tidewarden/decisions",
		ListenAddr:           ":8089",
		NotifyService:        "notify.notify",
	}
}

// LoadConfig reads environment overrides onto the defaults and
// validates the result.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	envString(&cfg.ControllerURL, "TIDEWARDEN_CONTROLLER_URL")
	envString(&cfg.ControllerToken, "TIDEWARDEN_CONTROLLER_TOKEN")
	envDuration(&cfg.CycleInterval, "TIDEWARDEN_CYCLE_INTERVAL")
	envString(&cfg.LocalURL, "TIDEWARDEN_LOCAL_URL")
	envString(&cfg.LocalModel, "TIDEWARDEN_LOCAL_MODEL")
	envDuration(&cfg.LocalTimeout, "TIDEWARDEN_LOCAL_TIMEOUT")
	envFloat(&cfg.ConfidenceThreshold, "TIDEWARDEN_CONFIDENCE_THRESHOLD")
	envString(&cfg.CloudAPIKey, "TIDEWARDEN_CLOUD_API_KEY")
	envString(&cfg.CloudBaseURL, "TIDEWARDEN_CLOUD_BASE_URL")
	envString(&cfg.CloudModel, "TIDEWARDEN_CLOUD_MODEL")
	envDuration(&cfg.CloudTimeout, "TIDEWARDEN_CLOUD_TIMEOUT")
	envFloat(&cfg.PromptUSDPerMTok, "TIDEWARDEN_PROMPT_USD_PER_MTOK")
	envFloat(&cfg.CompletionUSDPerMTok, "TIDEWARDEN_COMPLETION_USD_PER_MTOK")
	envInt(&cfg.MaxAutoFixesPerHour, "TIDEWARDEN_MAX_AUTO_FIXES_PER_HOUR")
	envBool(&cfg.RatePerKind, "TIDEWARDEN_RATE_PER_KIND")
	envDuration(&cfg.ConfirmationTTL, "TIDEWARDEN_CONFIRMATION_TTL")
	envDuration(&cfg.LockClearAllowance, "TIDEWARDEN_LOCK_CLEAR_ALLOWANCE")
	envString(&cfg.StorePath, "TIDEWARDEN_STORE_PATH")
	envString(&cfg.ListenAddr, "TIDEWARDEN_LISTEN_ADDR")
	envString(&cfg.ExpectedStatesPath, "TIDEWARDEN_EXPECTED_STATES")
	envString(&cfg.NotifyService, "TIDEWARDEN_NOTIFY_SERVICE")
	envString(&cfg.OTLPEndpoint, "TIDEWARDEN_OTLP_ENDPOINT")
	envString(&cfg.LogDir, "TIDEWARDEN_LOG_DIR")
	envBool(&cfg.LogJSON, "TIDEWARDEN_LOG_JSON")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config. Called once at startup; a failure halts
// the process before the first cycle.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
