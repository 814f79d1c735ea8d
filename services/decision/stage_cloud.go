// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Pricing converts token usage to billed dollars. Supplied by
// configuration; per-model rates change too often to hard-code.
type Pricing struct {
	PromptUSDPerMTok     float64
	CompletionUSDPerMTok float64
}

// Cost returns the billed cost for a usage count.
func (p Pricing) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1e6*p.PromptUSDPerMTok +
		float64(completionTokens)/1e6*p.CompletionUSDPerMTok
}

// CloudStageConfig configures the paid remote tier.
type CloudStageConfig struct {
	// APIKey for the OpenAI-compatible service. Required.
	APIKey string

	// BaseURL overrides the service endpoint (empty = api.openai.com).
	BaseURL string

	// Model to use.
	Model string

	// Timeout bounds the completion call.
	Timeout time.Duration

	// Pricing for cost accounting.
	Pricing Pricing
}

// completionClient is the slice of the OpenAI client the stage needs;
// tests substitute a fake.
type completionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// CloudStage is the last-resort paid tier. It always settles: its answer
// is treated as ground truth, and when the remote call itself fails the
// cycle settles with a degraded notify-only decision rather than erroring.
type CloudStage struct {
	cfg    CloudStageConfig
	client completionClient
	logger *slog.Logger
}

// NewCloudStage builds the tier against the real OpenAI-compatible API.
func NewCloudStage(cfg CloudStageConfig, logger *slog.Logger) *CloudStage {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &CloudStage{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger,
	}
}

func (s *CloudStage) Tier() Tier { return TierCloud }

// Attempt asks the remote model and settles unconditionally.
func (s *CloudStage) Attempt(ctx context.Context, in *Input) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "cloud_stage.attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", s.cfg.Model),
		attribute.String("issues", issueKindList(in.Issues)),
	)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(in)},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote model unavailable")
		return s.degraded(fmt.Sprintf("remote model unavailable: %v", err)), nil
	}

	if len(resp.Choices) == 0 {
		return s.degraded("remote model returned no choices"), nil
	}
	reply, err := parseModelReply(resp.Choices[0].Message.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed remote model reply")
		return s.degraded(fmt.Sprintf("remote model reply unusable: %v", err)), nil
	}

	d := newDecision(TierCloud, reply.Confidence, reply.Reasoning, replyActions(reply)...)
	d.Model = s.cfg.Model
	d.CostUSD = s.cfg.Pricing.Cost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	span.SetAttributes(
		attribute.Float64("confidence", reply.Confidence),
		attribute.Float64("cost_usd", d.CostUSD),
	)
	return d, nil
}

// degraded builds the settlement used when the paid tier cannot answer:
// notify-only, zero confidence, zero cost.
func (s *CloudStage) degraded(reason string) *Decision {
	s.logger.Warn("cloud stage degraded", "reason", reason)
	d := newDecision(TierCloud, 0, reason,
		NotifyAction("automated decision unavailable: "+reason))
	d.Degraded = true
	d.Model = s.cfg.Model
	return d
}
