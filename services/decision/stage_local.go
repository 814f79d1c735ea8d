// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("tidewarden.decision")

// LocalStageConfig configures the local-model tier.
type LocalStageConfig struct {
	// BaseURL of the Ollama server, e.g. http://localhost:11434.
	BaseURL string

	// Model name to generate with.
	Model string

	// Timeout bounds the whole generate call. A miss is a decline,
	// never a retry or a stall.
	Timeout time.Duration

	// ConfidenceThreshold below which the stage declines even when the
	// model answered (default 0.7).
	ConfidenceThreshold float64
}

// LocalStage is the free local-model tier, backed by an Ollama server.
//
// Any failure mode (unreachable server, timeout, unparsable output,
// unknown action kinds, low confidence, the model asking to escalate)
// results in a decline. The stage never stalls the cycle on retries.
type LocalStage struct {
	cfg    LocalStageConfig
	client *http.Client
}

// NewLocalStage builds the tier. Zero-value config fields get defaults
// (30s timeout, 0.7 threshold).
func NewLocalStage(cfg LocalStageConfig) *LocalStage {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	return &LocalStage{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (s *LocalStage) Tier() Tier { return TierLocal }

// ollamaGenerateRequest is the /api/generate request body.
type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	System  string        `json:"system,omitempty"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Format  string        `json:"format,omitempty"`
	Options ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

// ollamaGenerateResponse is the non-streaming response body.
type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Attempt asks the local model to settle the cycle.
func (s *LocalStage) Attempt(ctx context.Context, in *Input) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "local_stage.attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", s.cfg.Model),
		attribute.String("issues", issueKindList(in.Issues)),
	)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	raw, err := s.generate(ctx, buildUserPrompt(in))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "local model unavailable")
		return nil, fmt.Errorf("%w: local model: %v", ErrDecline, err)
	}

	reply, err := parseModelReply(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed local model reply")
		return nil, fmt.Errorf("%w: %v", ErrDecline, err)
	}

	span.SetAttributes(attribute.Float64("confidence", reply.Confidence))
	if reply.NeedsEscalation {
		return nil, fmt.Errorf("%w: local model requested escalation", ErrDecline)
	}
	if reply.Confidence < s.cfg.ConfidenceThreshold {
		return nil, fmt.Errorf("%w: local confidence %.2f below threshold %.2f",
			ErrDecline, reply.Confidence, s.cfg.ConfidenceThreshold)
	}

	d := newDecision(TierLocal, reply.Confidence, reply.Reasoning, replyActions(reply)...)
	d.Model = s.cfg.Model
	return d, nil
}

func (s *LocalStage) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   s.cfg.Model,
		System:  systemPrompt,
		Prompt:  prompt,
		Stream:  false,
		Format:  "json",
		Options: ollamaOptions{Temperature: 0.1},
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(data))
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return out.Response, nil
}
