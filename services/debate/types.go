// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package debate implements the debate orchestration core: the round/turn
// state machine, the concurrent dispatch layer in front of the LLM backends,
// the thinking/content stream demultiplexer, the multi-dimensional
// evaluation aggregator, and the session registry.
//
// The HTTP/WebSocket surface lives in services/orchestrator; this package
// has no transport dependencies and publishes everything observers need
// through the per-session event bus (see bus.go).
package debate

import (
	"fmt"
	"time"
)

// =============================================================================
// Agents
// =============================================================================

// AgentRole identifies an agent's function within a debate team.
type AgentRole string

const (
	RoleSearcher  AgentRole = "searcher"
	RoleAnalyzer  AgentRole = "analyzer"
	RoleWriter    AgentRole = "writer"
	RoleReviewer  AgentRole = "reviewer"
	RoleDevil     AgentRole = "devil"
	RoleAngel     AgentRole = "angel"
	RoleOrganizer AgentRole = "organizer"
)

// Stance is the side an agent argues for.
type Stance string

const (
	StanceSupport Stance = "support"
	StanceOppose  Stance = "oppose"
	StanceNeutral Stance = "neutral"
)

// Agent is one debate participant. Immutable once a session starts;
// the scheduler and dispatch layer share it read-only.
//
// # Fields
//
//   - Name: Display name, unique within a session.
//   - Role: Team function (writer, devil, reviewer, ...).
//   - Stance: Which side the agent argues for.
//   - Model: Backend model identifier (e.g. "gemma3:4b").
//   - Persona: System-prompt persona text. Empty selects the role default
//     (see personas.go).
type Agent struct {
	Name    string    `json:"name"`
	Role    AgentRole `json:"role"`
	Stance  Stance    `json:"stance"`
	Model   string    `json:"model"`
	Persona string    `json:"persona,omitempty"`
}

// =============================================================================
// Session / Turn Status
// =============================================================================

// SessionStatus is the lifecycle state of a debate session.
type SessionStatus string

const (
	SessionPending    SessionStatus = "PENDING"
	SessionRunning    SessionStatus = "RUNNING"
	SessionEvaluating SessionStatus = "EVALUATING"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionFailed     SessionStatus = "FAILED"
	SessionCancelled  SessionStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// TurnStatus is the lifecycle state of a single generation attempt.
type TurnStatus string

const (
	TurnPending   TurnStatus = "PENDING"
	TurnStreaming TurnStatus = "STREAMING"
	TurnCompleted TurnStatus = "COMPLETED"
	TurnTimedOut  TurnStatus = "TIMED_OUT"
	TurnFailed    TurnStatus = "FAILED"
)

// Terminal reports whether the turn can no longer change.
func (s TurnStatus) Terminal() bool {
	return s == TurnCompleted || s == TurnTimedOut || s == TurnFailed
}

// =============================================================================
// Turn
// =============================================================================

// Turn is one agent's single generation attempt within a round.
//
// A Turn is created by the scheduler, written by exactly one dispatch worker
// while streaming, and becomes immutable once Status is terminal. The
// immutability invariant is enforced by setStatus; violating it is a
// programming error that fails the session (see scheduler.go).
type Turn struct {
	ID     string     `json:"id"`
	Agent  Agent      `json:"agent"`
	Round  int        `json:"round"`
	Seq    int        `json:"seq"`
	Status TurnStatus `json:"status"`

	// Thinking and Content are the demultiplexed halves of the model's
	// output. Abstaining turns carry the placeholder text in Content.
	Thinking          string `json:"thinking,omitempty"`
	Content           string `json:"content"`
	TruncatedThinking bool   `json:"truncated_thinking,omitempty"`

	Retries   int       `json:"retries"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

// setStatus transitions the turn, rejecting any transition out of a
// terminal status.
func (t *Turn) setStatus(next TurnStatus) error {
	if t.Status.Terminal() {
		return fmt.Errorf("%w: turn %s is %s, cannot become %s",
			ErrInvariantViolation, t.ID, t.Status, next)
	}
	t.Status = next
	if next.Terminal() {
		t.EndedAt = time.Now()
	}
	return nil
}

// Abstained reports whether this turn ended without a usable answer.
func (t *Turn) Abstained() bool {
	return t.Status == TurnFailed || t.Status == TurnTimedOut
}

// =============================================================================
// Round
// =============================================================================

// Round is the ordered set of turns scheduled together, plus the scores
// attached once every turn is terminal and evaluation (if configured) ran.
type Round struct {
	Number  int           `json:"number"`
	Turns   []*Turn       `json:"turns"`
	Scores  []Score       `json:"scores,omitempty"`
	Summary []TurnSummary `json:"summary,omitempty"`
}

// Complete reports whether every turn in the round is terminal.
func (r *Round) Complete() bool {
	for _, t := range r.Turns {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// TurnSummary is the per-agent digest attached to round-completed events.
type TurnSummary struct {
	Agent   string     `json:"agent"`
	Stance  Stance     `json:"stance"`
	Excerpt string     `json:"excerpt"`
	Status  TurnStatus `json:"status"`
}

// =============================================================================
// Scores and Verdict
// =============================================================================

// Score is one (agent, round, dimension) scoring outcome. Unavailable is
// set when the scoring call failed after retries; unavailable scores are
// excluded from totals, never imputed.
type Score struct {
	Agent       string  `json:"agent"`
	Round       int     `json:"round"`
	Dimension   string  `json:"dimension"`
	Value       float64 `json:"value"`
	Unavailable bool    `json:"unavailable,omitempty"`
}

// TeamResult is one side's aggregate in the final verdict.
type TeamResult struct {
	Total      float64            `json:"total"`
	Dimensions map[string]float64 `json:"dimensions"`
}

// Verdict is the final aggregate outcome of a session. Computed once, at
// completion, and immutable afterward.
type Verdict struct {
	// Winner is "support", "oppose", an agent name, "tie" or "inconclusive".
	Winner      string                `json:"winner"`
	Teams       map[Stance]TeamResult `json:"teams"`
	Summary     string                `json:"summary,omitempty"`
	// Confidence degrades from 1.0 when dimensions were unavailable or
	// agents abstained.
	Confidence  float64  `json:"confidence"`
	Abstentions []string `json:"abstentions,omitempty"`
}

// =============================================================================
// Session snapshot
// =============================================================================

// Snapshot is a read-only copy of a session's externally visible state.
// Handlers serve snapshots; they never touch live scheduler state.
type Snapshot struct {
	ID           string        `json:"session_id"`
	Topic        string        `json:"topic"`
	Format       string        `json:"format"`
	Agents       []Agent       `json:"agents"`
	Status       SessionStatus `json:"status"`
	CurrentRound int           `json:"current_round"`
	TotalRounds  int           `json:"total_rounds"`
	Rounds       []*Round      `json:"rounds,omitempty"`
	Verdict      *Verdict      `json:"verdict,omitempty"`
	FailReason   string        `json:"fail_reason,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
}
