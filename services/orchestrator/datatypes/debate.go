// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the wire types shared by the orchestrator's
// HTTP surface and the CLI.
package datatypes

import (
	"github.com/go-playground/validator/v10"

	"github.com/agora-ai/agora/services/debate"
)

// =============================================================================
// Validation Limits
// =============================================================================

const (
	// MaxTopicBytes caps the debate topic size. Byte length, not rune
	// count, so oversized multi-byte payloads are rejected too.
	MaxTopicBytes = 4 * 1024 // 4KB

	// MaxDebateAgents caps the roster size of a single debate. Mirrors
	// the max bound on CreateDebateRequest.Agents.
	MaxDebateAgents = 16

	// DefaultRounds applies when a request leaves the round count unset.
	DefaultRounds = 3
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// debateValidate is the validator instance for debate datatypes.
// Initialized in init() with custom validators.
var debateValidate *validator.Validate

func init() {
	debateValidate = validator.New()

	_ = debateValidate.RegisterValidation("topicbytes", validateTopicBytes)
}

// validateTopicBytes checks that a string field stays within MaxTopicBytes.
func validateTopicBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxTopicBytes
}

// =============================================================================
// Debate API Types
// =============================================================================

// AgentSpec is one agent in a debate creation request.
type AgentSpec struct {
	Name    string `json:"name" validate:"required,max=64"`
	Role    string `json:"role" validate:"omitempty,oneof=searcher analyzer writer reviewer devil angel organizer"`
	Stance  string `json:"stance" validate:"omitempty,oneof=support oppose neutral"`
	Model   string `json:"model" validate:"required,max=128"`
	Persona string `json:"persona" validate:"omitempty,max=4000"`
}

// Agent converts the wire spec to the domain agent.
func (s AgentSpec) Agent() debate.Agent {
	return debate.Agent{
		Name:    s.Name,
		Role:    debate.AgentRole(s.Role),
		Stance:  debate.Stance(s.Stance),
		Model:   s.Model,
		Persona: s.Persona,
	}
}

// CreateDebateRequest starts a new debate session.
//
// # Fields
//
//   - Topic: The proposition under debate.
//   - Format: adversarial, collaborative, competitive, or the name of a
//     custom format from the roster file. Default: adversarial.
//   - Rounds: Round count for the built-in formats. Custom formats carry
//     their own. Default: 3.
//   - Team: Named agent line-up from the roster file. Mutually exclusive
//     with Agents; Agents wins when both are set.
//   - Agents: Inline agent roster.
type CreateDebateRequest struct {
	Topic  string      `json:"topic" validate:"required,min=1,topicbytes"`
	Format string      `json:"format" validate:"omitempty,max=64"`
	Rounds int         `json:"rounds" validate:"omitempty,gte=1,lte=20"`
	Team   string      `json:"team" validate:"omitempty,max=64"`
	Agents []AgentSpec `json:"agents" validate:"omitempty,max=16,dive"`
}

// Validate checks the request against its validation tags, including the
// topic byte cap and the agent roster bound.
func (r *CreateDebateRequest) Validate() error {
	return debateValidate.Struct(r)
}

// EnsureDefaults fills the format and round count when the client leaves
// them unset.
func (r *CreateDebateRequest) EnsureDefaults() {
	if r.Format == "" {
		r.Format = "adversarial"
	}
	if r.Rounds == 0 {
		r.Rounds = DefaultRounds
	}
}

// CreateDebateResponse acknowledges admission.
type CreateDebateResponse struct {
	SessionId string `json:"session_id"`
	Status    string `json:"status"`
	StreamURL string `json:"stream_url"`
}

// DebateListResponse wraps a session listing.
type DebateListResponse struct {
	Debates []debate.Snapshot `json:"debates"`
	Count   int               `json:"count"`
}

// =============================================================================
// Debate Stream Events
// =============================================================================

// DebateStreamEvent is the wire form of one debate event on the SSE and
// WebSocket streams.
//
// Each event carries integrity metadata maintained by the stream writer:
// Hash is the SHA-256 of the event's content and PrevHash links to the
// previous event, giving subscribers a verifiable chain of custody over
// the transcript they received.
type DebateStreamEvent struct {
	Id        string `json:"id"`
	Type      string `json:"type"`
	Seq       uint64 `json:"seq"`
	SessionId string `json:"session_id,omitempty"`

	TurnId     string          `json:"turn_id,omitempty"`
	Agent      string          `json:"agent,omitempty"`
	Round      int             `json:"round,omitempty"`
	Text       string          `json:"text,omitempty"`
	TurnStatus string          `json:"turn_status,omitempty"`
	Scores     []debate.Score  `json:"scores,omitempty"`
	Verdict    *debate.Verdict `json:"verdict,omitempty"`
	Reason     string          `json:"reason,omitempty"`

	CreatedAt int64  `json:"created_at"`
	Hash      string `json:"hash"`
	PrevHash  string `json:"prev_hash"`
}

// FromDebateEvent converts a bus event to its wire form. Integrity
// metadata is filled in by the stream writer.
func FromDebateEvent(sessionID string, ev debate.Event) DebateStreamEvent {
	return DebateStreamEvent{
		Type:       string(ev.Type),
		Seq:        ev.Seq,
		SessionId:  sessionID,
		TurnId:     ev.TurnID,
		Agent:      ev.Agent,
		Round:      ev.Round,
		Text:       ev.Text,
		TurnStatus: string(ev.TurnStatus),
		Scores:     ev.Scores,
		Verdict:    ev.Verdict,
		Reason:     ev.Reason,
	}
}
