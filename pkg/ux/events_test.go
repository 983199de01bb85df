// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func sseBody(events ...string) string {
	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "event: something\ndata: %s\n\n", ev)
	}
	return b.String()
}

func TestStreamProcessor_CollectsUntilTerminal(t *testing.T) {
	body := sseBody(
		`{"type":"turn_started","seq":1,"agent":"advocate","round":1}`,
		`{"type":"content_delta","seq":2,"agent":"advocate","round":1,"text":"tabs "}`,
		`{"type":"content_delta","seq":3,"agent":"advocate","round":1,"text":"win"}`,
		`{"type":"turn_completed","seq":4,"agent":"advocate","round":1,"turn_status":"COMPLETED"}`,
		`{"type":"session_completed","seq":5,"verdict":{"winner":"support","confidence":0.9}}`,
	)

	renderer := NewBufferRenderer()
	result, err := NewStreamProcessor(renderer).Process(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(result.Events) != 5 {
		t.Fatalf("got %d events, want 5", len(result.Events))
	}
	if len(renderer.Events()) != 5 {
		t.Errorf("renderer saw %d events, want 5", len(renderer.Events()))
	}
	if result.FailReason != "" {
		t.Errorf("unexpected fail reason %q", result.FailReason)
	}
	if !strings.Contains(string(result.Verdict), `"support"`) {
		t.Errorf("verdict not captured: %s", result.Verdict)
	}
}

func TestStreamProcessor_SkipsKeepalives(t *testing.T) {
	body := ": ping\n\n" + sseBody(
		`{"type":"session_failed","seq":1,"reason":"backend unavailable"}`,
	)

	result, err := NewStreamProcessor(NewBufferRenderer()).Process(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.FailReason != "backend unavailable" {
		t.Errorf("FailReason = %q", result.FailReason)
	}
}

func TestStreamProcessor_TruncatedStream(t *testing.T) {
	body := sseBody(`{"type":"content_delta","seq":1,"text":"hel"}`)

	_, err := NewStreamProcessor(NewBufferRenderer()).Process(strings.NewReader(body))
	if err == nil {
		t.Fatal("truncated stream should error")
	}
}

func TestStreamProcessor_MalformedEvent(t *testing.T) {
	body := "data: {not json}\n\n"

	_, err := NewStreamProcessor(NewBufferRenderer()).Process(strings.NewReader(body))
	if err == nil {
		t.Fatal("malformed event should error")
	}
}

func TestTerminalRenderer_PlainTranscript(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalRenderer(&buf, false, false)

	r.Render(DebateEvent{Type: EventTurnStarted, Round: 1, Agent: "advocate"})
	r.Render(DebateEvent{Type: EventContentDelta, Text: "tabs "})
	r.Render(DebateEvent{Type: EventContentDelta, Text: "win"})
	r.Render(DebateEvent{Type: EventTurnCompleted, Agent: "advocate", TurnStatus: "COMPLETED"})
	r.Render(DebateEvent{Type: EventSessionCompleted,
		Verdict: []byte(`{"winner":"support","confidence":0.88}`)})

	out := buf.String()
	if !strings.Contains(out, "Round 1 · advocate") {
		t.Errorf("missing turn header: %q", out)
	}
	if !strings.Contains(out, "tabs win") {
		t.Errorf("deltas not joined: %q", out)
	}
	if !strings.Contains(out, "Verdict: SUPPORT") {
		t.Errorf("missing verdict: %q", out)
	}
}

func TestTerminalRenderer_ColoredTranscript(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalRenderer(&buf, true, true)

	r.Render(DebateEvent{Type: EventTurnStarted, Round: 2, Agent: "critic"})
	r.Render(DebateEvent{Type: EventThinkingDelta, Text: "hm"})
	r.Render(DebateEvent{Type: EventContentDelta, Text: "spaces win"})
	r.Render(DebateEvent{Type: EventTurnCompleted, Agent: "critic",
		TurnStatus: "TIMED_OUT", Reason: "backend timeout"})

	out := buf.String()
	if !strings.Contains(out, "Round 2 · critic") {
		t.Errorf("missing styled turn header: %q", out)
	}
	if !strings.Contains(out, "spaces win") {
		t.Errorf("missing content: %q", out)
	}
	if !strings.Contains(out, "TIMED_OUT") {
		t.Errorf("missing failure annotation: %q", out)
	}
}

func TestTerminalRenderer_ThinkingHiddenByDefault(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalRenderer(&buf, false, false)

	r.Render(DebateEvent{Type: EventThinkingDelta, Text: "secret reasoning"})
	if strings.Contains(buf.String(), "secret reasoning") {
		t.Error("thinking rendered despite showThinking=false")
	}
}

func TestTerminalRenderer_FailedTurnAnnotated(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalRenderer(&buf, false, false)

	r.Render(DebateEvent{Type: EventTurnCompleted, Agent: "critic",
		TurnStatus: "TIMED_OUT", Reason: "backend timeout"})
	out := buf.String()
	if !strings.Contains(out, "TIMED_OUT") || !strings.Contains(out, "backend timeout") {
		t.Errorf("failed turn not annotated: %q", out)
	}
}
