// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-ai/agora/services/orchestrator/datatypes"
)

// parseSSE extracts the JSON events from a raw SSE body, skipping
// keepalive comments.
func parseSSE(t *testing.T, body string) []datatypes.DebateStreamEvent {
	t.Helper()
	var events []datatypes.DebateStreamEvent
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev datatypes.DebateStreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

// TestStreamDebate_ReplaysFinishedSession verifies a late subscriber
// gets the full transcript replayed and the stream closes on its own
// after the terminal event.
func TestStreamDebate_ReplaysFinishedSession(t *testing.T) {
	registry := newTestRegistry(t, &cannedClient{reply: "tabs, obviously"}, 4)
	router := debateRouter(registry, nil)

	resp := createDebate(t, router)
	waitTerminal(t, registry, resp.SessionId)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, resp.StreamURL, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseSSE(t, w.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "turn_started", events[0].Type)
	assert.Equal(t, "session_completed", events[len(events)-1].Type)

	var sawDelta bool
	for _, ev := range events {
		assert.Equal(t, resp.SessionId, ev.SessionId)
		if ev.Type == "content_delta" {
			sawDelta = true
			assert.Equal(t, "tabs, obviously", ev.Text)
		}
	}
	assert.True(t, sawDelta, "expected at least one content_delta on the stream")
}

// TestStreamDebate_HashChain verifies every replayed event carries a
// recomputable hash linked to its predecessor.
func TestStreamDebate_HashChain(t *testing.T) {
	registry := newTestRegistry(t, &cannedClient{reply: "hello"}, 4)
	router := debateRouter(registry, nil)

	resp := createDebate(t, router)
	waitTerminal(t, registry, resp.SessionId)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, resp.StreamURL, nil))
	require.Equal(t, http.StatusOK, w.Code)

	events := parseSSE(t, w.Body.String())
	require.NotEmpty(t, events)

	prev := ""
	for i, ev := range events {
		assert.Equal(t, prev, ev.PrevHash, "event %d prev_hash", i)
		assert.Equal(t, computeEventHash(ev), ev.Hash, "event %d hash", i)
		assert.NotEmpty(t, ev.Id, "event %d id", i)
		assert.NotZero(t, ev.CreatedAt, "event %d created_at", i)
		prev = ev.Hash
	}
}

// TestComputeEventHash_CoversAttribution checks the hash binds the event
// to its agent, so a re-attributed turn breaks the chain.
func TestComputeEventHash_CoversAttribution(t *testing.T) {
	ev := datatypes.DebateStreamEvent{
		Id:        "ev-1",
		Type:      "content_delta",
		Seq:       1,
		SessionId: "sess-1",
		Agent:     "advocate",
		Round:     1,
		Text:      "the same words",
		CreatedAt: 1700000000000,
	}
	reattributed := ev
	reattributed.Agent = "skeptic"

	assert.NotEqual(t, computeEventHash(ev), computeEventHash(reattributed))
}

// TestStreamDebate_SeqStrictlyIncreasing checks replay preserves the
// bus's publish order.
func TestStreamDebate_SeqStrictlyIncreasing(t *testing.T) {
	registry := newTestRegistry(t, &cannedClient{reply: "ordered"}, 4)
	router := debateRouter(registry, nil)

	resp := createDebate(t, router)
	waitTerminal(t, registry, resp.SessionId)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, resp.StreamURL, nil))
	events := parseSSE(t, w.Body.String())
	require.NotEmpty(t, events)

	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq,
			"event %d out of order", i)
	}
}

func TestStreamDebate_UnknownSession(t *testing.T) {
	registry := newTestRegistry(t, &cannedClient{reply: "ok"}, 4)
	router := debateRouter(registry, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/debates/ghost/stream", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
