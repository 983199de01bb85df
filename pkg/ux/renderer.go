// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// DebateRenderer displays streamed debate events. Callers invoke Render
// in arrival order; implementations own all output state.
type DebateRenderer interface {
	Render(event DebateEvent)
}

// =============================================================================
// Terminal Renderer
// =============================================================================

// wireVerdict mirrors the verdict fields the renderer displays. Kept
// local: the CLI never imports server packages.
type wireVerdict struct {
	Winner      string   `json:"winner"`
	Confidence  float64  `json:"confidence"`
	Summary     string   `json:"summary"`
	Abstentions []string `json:"abstentions"`
}

type wireScore struct {
	Agent       string  `json:"agent"`
	Dimension   string  `json:"dimension"`
	Value       float64 `json:"value"`
	Unavailable bool    `json:"unavailable"`
}

// TerminalRenderer writes a live debate transcript to a terminal. With
// color disabled it degrades to plain indented text, suitable for pipes.
type TerminalRenderer struct {
	writer   io.Writer
	color    bool
	thinking bool

	mu            sync.Mutex
	thinkingShown bool
}

// NewTerminalRenderer writes to w. showThinking echoes the agents'
// reasoning deltas dimmed above each answer.
func NewTerminalRenderer(w io.Writer, color, showThinking bool) *TerminalRenderer {
	return &TerminalRenderer{writer: w, color: color, thinking: showThinking}
}

func (r *TerminalRenderer) styled(s string, style func(...string) string) string {
	if !r.color {
		return s
	}
	return style(s)
}

func (r *TerminalRenderer) Render(event DebateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Type {
	case EventTurnStarted:
		header := fmt.Sprintf("\n── Round %d · %s ", event.Round, event.Agent)
		header += strings.Repeat("─", max(0, 60-len(header)))
		fmt.Fprintln(r.writer, r.styled(header, Styles.Subtitle.Render))
		r.thinkingShown = false

	case EventThinkingDelta:
		if !r.thinking {
			return
		}
		if !r.thinkingShown {
			fmt.Fprint(r.writer, r.styled("· thinking: ", Styles.Muted.Render))
			r.thinkingShown = true
		}
		fmt.Fprint(r.writer, r.styled(event.Text, Styles.Muted.Render))

	case EventContentDelta:
		if r.thinkingShown {
			fmt.Fprintln(r.writer)
			r.thinkingShown = false
		}
		fmt.Fprint(r.writer, event.Text)

	case EventTurnCompleted:
		fmt.Fprintln(r.writer)
		if event.TurnStatus != "COMPLETED" {
			fmt.Fprintln(r.writer, r.styled(
				fmt.Sprintf("✗ %s: %s (%s)", event.Agent, event.TurnStatus, event.Reason),
				Styles.Warning.Render))
		}

	case EventRoundCompleted:
		if summary := r.roundScores(event); summary != "" {
			fmt.Fprintln(r.writer, r.styled(summary, Styles.Muted.Render))
		}

	case EventSessionCompleted:
		fmt.Fprintln(r.writer)
		fmt.Fprintln(r.writer, r.verdictBox(event))

	case EventSessionFailed:
		fmt.Fprintln(r.writer)
		msg := "debate failed: " + event.Reason
		if r.color {
			msg = Styles.ErrorBox.Render(msg)
		}
		fmt.Fprintln(r.writer, msg)
	}
}

// roundScores condenses a round's judge scores into one per-agent line.
func (r *TerminalRenderer) roundScores(event DebateEvent) string {
	if len(event.Scores) == 0 {
		return ""
	}
	var scores []wireScore
	if err := json.Unmarshal(event.Scores, &scores); err != nil {
		return ""
	}
	totals := map[string]float64{}
	counts := map[string]int{}
	var order []string
	for _, s := range scores {
		if s.Unavailable {
			continue
		}
		if _, seen := totals[s.Agent]; !seen {
			order = append(order, s.Agent)
		}
		totals[s.Agent] += s.Value
		counts[s.Agent]++
	}
	if len(order) == 0 {
		return ""
	}
	parts := make([]string, 0, len(order))
	for _, agent := range order {
		parts = append(parts, fmt.Sprintf("%s %.1f", agent, totals[agent]/float64(counts[agent])))
	}
	return fmt.Sprintf("  round %d scores: %s", event.Round, strings.Join(parts, " · "))
}

func (r *TerminalRenderer) verdictBox(event DebateEvent) string {
	if len(event.Verdict) == 0 {
		return r.styled("debate completed (no verdict)", Styles.Success.Render)
	}
	var v wireVerdict
	if err := json.Unmarshal(event.Verdict, &v); err != nil {
		return r.styled("debate completed", Styles.Success.Render)
	}
	body := fmt.Sprintf("Verdict: %s\nConfidence: %.2f",
		strings.ToUpper(v.Winner), v.Confidence)
	if len(v.Abstentions) > 0 {
		body += "\nAbstained: " + strings.Join(v.Abstentions, ", ")
	}
	if v.Summary != "" {
		body += "\n\n" + v.Summary
	}
	if !r.color {
		return body
	}
	return Styles.VerdictBox.Render(body)
}

// =============================================================================
// Buffer Renderer
// =============================================================================

// BufferRenderer records events in memory for testing and for commands
// that only need the final result.
type BufferRenderer struct {
	mu     sync.Mutex
	events []DebateEvent
}

func NewBufferRenderer() *BufferRenderer { return &BufferRenderer{} }

func (r *BufferRenderer) Render(event DebateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of everything rendered so far.
func (r *BufferRenderer) Events() []DebateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DebateEvent, len(r.events))
	copy(out, r.events)
	return out
}
