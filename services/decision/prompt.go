// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package decision

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lagunalabs/tidewarden/services/analyzer"
)

// modelReply is the structured response both model tiers must return.
// Anything that fails to parse into this shape is a decline.
type modelReply struct {
	Confidence      float64       `json:"confidence"`
	NeedsEscalation bool          `json:"needs_escalation"`
	Reasoning       string        `json:"reasoning"`
	Actions         []modelAction `json:"actions"`
}

type modelAction struct {
	Kind    string         `json:"kind"`
	Targets []string       `json:"targets"`
	Params  map[string]any `json:"params"`
}

// systemPrompt constrains the model to the closed action catalog and the
// reply schema.
const systemPrompt = `You are the decision layer of a pool and spa control system.
Given detected issues and the current equipment state, decide what to do.

Respond with ONLY a JSON object, no prose before or after:
{
  "confidence": 0.0 to 1.0,
  "needs_escalation": true if you are unsure and a more capable model should decide,
  "reasoning": "one or two sentences",
  "actions": [{"kind": "...", "targets": ["entity.id"], "params": {}}]
}

Allowed action kinds (anything else is rejected):
EMERGENCY_STOP, START_HEAT, STOP_HEAT, FORCE_RESTART_MODE, CLEAR_LOCK, SET_SETPOINT, NOTIFY.
An empty actions list means monitor only. Prefer the least invasive fix.
Never recommend heating when a sensor failure is reported.`

// buildUserPrompt renders the cycle's facts for the model tiers.
func buildUserPrompt(in *Input) string {
	var b strings.Builder

	b.WriteString("Detected issues:\n")
	for _, is := range in.Issues {
		fmt.Fprintf(&b, "- [%s] %s: %s", is.Severity, is.Kind, is.Description)
		if len(is.Facts) > 0 {
			keys := make([]string, 0, len(is.Facts))
			for k := range is.Facts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, fmt.Sprintf("%s=%v", k, is.Facts[k]))
			}
			b.WriteString(" (" + strings.Join(parts, " ") + ")")
		}
		b.WriteString("\n")
	}

	if in.Snapshot != nil {
		b.WriteString("\nCurrent equipment state:\n")
		summary := in.Snapshot.Summary()
		ids := make([]string, 0, len(summary))
		for id := range summary {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&b, "- %s: %s\n", id, summary[id])
		}
	}

	return b.String()
}

// parseModelReply extracts the first JSON object from raw model output
// and validates it against the action catalog. Models wrap JSON in prose
// or code fences often enough that a plain Unmarshal is not enough.
func parseModelReply(raw string) (*modelReply, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model output")
	}

	var reply modelReply
	if err := json.Unmarshal([]byte(raw[start:end+1]), &reply); err != nil {
		return nil, fmt.Errorf("parse model reply: %w", err)
	}
	if reply.Confidence < 0 || reply.Confidence > 1 {
		return nil, fmt.Errorf("model confidence %v out of range", reply.Confidence)
	}
	for _, a := range reply.Actions {
		if !KnownKind(ActionKind(a.Kind)) {
			return nil, fmt.Errorf("model recommended unknown action kind %q", a.Kind)
		}
	}
	return &reply, nil
}

// replyActions converts validated model actions to catalog Actions.
func replyActions(reply *modelReply) []Action {
	if len(reply.Actions) == 0 {
		return nil
	}
	actions := make([]Action, 0, len(reply.Actions))
	for _, a := range reply.Actions {
		actions = append(actions, Action{
			Kind:    ActionKind(a.Kind),
			Targets: a.Targets,
			Params:  a.Params,
		})
	}
	return actions
}

// issueKindList renders the distinct kinds for log lines.
func issueKindList(issues []analyzer.Issue) string {
	seen := make(map[analyzer.Kind]bool, len(issues))
	names := make([]string, 0, len(issues))
	for _, is := range issues {
		if !seen[is.Kind] {
			seen[is.Kind] = true
			names = append(names, string(is.Kind))
		}
	}
	return strings.Join(names, ",")
}
