// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package debate

import (
	"fmt"
	"strings"
)

// AbstainPlaceholder is recorded as a turn's content when the turn failed
// or timed out and the format proceeds with a placeholder. Subscribers and
// the evaluator both see it; the evaluator skips abstaining turns.
const AbstainPlaceholder = "[agent abstained]"

// promptContext is everything a turn prompt is built from.
type promptContext struct {
	Topic string
	Agent Agent
	Round int
	Total int

	// Prior holds completed turns visible to this one: all turns from
	// earlier rounds plus earlier sequential steps of the current round.
	Prior []*Turn
}

// buildSystemPrompt renders the agent's persona plus its debate frame.
func buildSystemPrompt(pc promptContext) string {
	var b strings.Builder
	b.WriteString(pc.Agent.WithDefaults().Persona)
	b.WriteString("\n\nDebate topic: ")
	b.WriteString(pc.Topic)
	switch pc.Agent.Stance {
	case StanceSupport:
		b.WriteString("\nYou argue IN FAVOR of the proposition.")
	case StanceOppose:
		b.WriteString("\nYou argue AGAINST the proposition.")
	}
	fmt.Fprintf(&b, "\nThis is round %d of %d.", pc.Round, pc.Total)
	b.WriteString(" Respond with your contribution only; do not narrate the process.")
	return b.String()
}

// buildUserPrompt renders the visible transcript so far and the ask for
// this turn. Abstained turns appear as such so later speakers do not
// respond to placeholder text as if it were an argument.
func buildUserPrompt(pc promptContext) string {
	var b strings.Builder
	if len(pc.Prior) == 0 {
		fmt.Fprintf(&b, "Open the debate on: %s", pc.Topic)
		return b.String()
	}

	b.WriteString("Transcript so far:\n")
	for _, t := range pc.Prior {
		if t.Abstained() {
			fmt.Fprintf(&b, "\n[round %d] %s did not respond.\n", t.Round, t.Agent.Name)
			continue
		}
		fmt.Fprintf(&b, "\n[round %d] %s (%s):\n%s\n",
			t.Round, t.Agent.Name, t.Agent.Role, t.Content)
	}
	fmt.Fprintf(&b, "\nIt is now your turn, %s. Round %d of %d: respond to the "+
		"transcript above.", pc.Agent.Name, pc.Round, pc.Total)
	return b.String()
}

// summarizeRound builds the per-agent digest attached to round-completed
// events: stance, final status, and a short excerpt of each contribution.
func summarizeRound(r *Round) []TurnSummary {
	out := make([]TurnSummary, 0, len(r.Turns))
	for _, t := range r.Turns {
		out = append(out, TurnSummary{
			Agent:   t.Agent.Name,
			Stance:  t.Agent.Stance,
			Excerpt: excerpt(t.Content, 240),
			Status:  t.Status,
		})
	}
	return out
}

// excerpt truncates text to n bytes on a rune boundary, marking the cut.
func excerpt(text string, n int) string {
	text = strings.TrimSpace(text)
	if len(text) <= n {
		return text
	}
	cut := n
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return strings.TrimSpace(text[:cut]) + "…"
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
