// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// DebateEventType represents the type of a streamed debate event
type DebateEventType string

const (
	EventTurnStarted      DebateEventType = "turn_started"
	EventThinkingDelta    DebateEventType = "thinking_delta"
	EventContentDelta     DebateEventType = "content_delta"
	EventTurnCompleted    DebateEventType = "turn_completed"
	EventRoundCompleted   DebateEventType = "round_completed"
	EventSessionCompleted DebateEventType = "session_completed"
	EventSessionFailed    DebateEventType = "session_failed"
)

// DebateEvent is the wire form of one debate event as received from the
// orchestrator's SSE or WebSocket stream.
//
// Scores and Verdict are kept as raw JSON: the CLI renders them, and the
// integrity verifier hashes the exact bytes the server sent, so decoding
// and re-encoding them would break hash verification on field reordering.
type DebateEvent struct {
	Id         string          `json:"id"`
	Type       DebateEventType `json:"type"`
	Seq        uint64          `json:"seq"`
	SessionId  string          `json:"session_id,omitempty"`
	TurnId     string          `json:"turn_id,omitempty"`
	Agent      string          `json:"agent,omitempty"`
	Round      int             `json:"round,omitempty"`
	Text       string          `json:"text,omitempty"`
	TurnStatus string          `json:"turn_status,omitempty"`
	Scores     json.RawMessage `json:"scores,omitempty"`
	Verdict    json.RawMessage `json:"verdict,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	Hash       string          `json:"hash"`
	PrevHash   string          `json:"prev_hash"`
}

// Terminal reports whether no further events can follow on the stream.
func (e DebateEvent) Terminal() bool {
	return e.Type == EventSessionCompleted || e.Type == EventSessionFailed
}

// StreamResult is the complete outcome of one watched debate stream.
type StreamResult struct {
	Events  []DebateEvent
	Verdict json.RawMessage
	// FailReason is set when the stream ended with session_failed.
	FailReason string
}

// StreamProcessor reads a debate SSE stream, forwarding each event to a
// renderer and collecting the full event list for verification.
type StreamProcessor interface {
	Process(reader io.Reader) (*StreamResult, error)
}

type sseStreamProcessor struct {
	renderer DebateRenderer
}

// NewStreamProcessor creates a processor that renders through r.
func NewStreamProcessor(r DebateRenderer) StreamProcessor {
	return &sseStreamProcessor{renderer: r}
}

// Process reads SSE lines until the stream ends or a terminal event
// arrives. Keepalive comments and "event:" framing lines are skipped;
// only "data:" payloads carry events.
func (p *sseStreamProcessor) Process(reader io.Reader) (*StreamResult, error) {
	result := &StreamResult{}
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event DebateEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			return result, fmt.Errorf("malformed stream event: %w", err)
		}
		result.Events = append(result.Events, event)
		p.renderer.Render(event)

		if event.Terminal() {
			result.Verdict = event.Verdict
			if event.Type == EventSessionFailed {
				result.FailReason = event.Reason
			}
			return result, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("read stream: %w", err)
	}
	return result, fmt.Errorf("stream ended before a terminal event")
}
