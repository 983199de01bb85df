// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agora-ai/agora/services/orchestrator/datatypes"
)

// =============================================================================
// SSE Writer
// =============================================================================

// SSEWriter writes debate events to an HTTP response in SSE format.
//
// # Description
//
// Each event is written as "event: {type}\ndata: {json}\n\n" and flushed
// immediately. The writer maintains an integrity hash chain: every
// event's Hash is the SHA-256 of its content and PrevHash links to the
// preceding event, so a client can verify it received the transcript
// unmodified and unreordered.
//
// # Thread Safety
//
// Safe for concurrent use; the hash chain is maintained under a mutex.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before the first write.
type SSEWriter interface {
	// WriteEvent writes one debate event. Id, CreatedAt, Hash and
	// PrevHash are populated by the writer.
	WriteEvent(event datatypes.DebateStreamEvent) error

	// WriteError writes a terminal error event. The message must already
	// be sanitized for the client.
	WriteError(errMsg string) error

	// WriteKeepAlive sends an SSE comment to keep the connection alive
	// through proxies with idle timeouts. Comments are not part of the
	// hash chain.
	WriteKeepAlive() error
}

type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// NewSSEWriter wraps w. Fails when the ResponseWriter cannot flush,
// which SSE requires.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event datatypes.DebateStreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash
	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// computeEventHash hashes the event's identity and content fields.
// Hash must be empty when called; the scores and verdict are serialized
// so the chain covers the full payload the client acts on.
func computeEventHash(event datatypes.DebateStreamEvent) string {
	scoresJSON := ""
	if len(event.Scores) > 0 {
		if data, err := json.Marshal(event.Scores); err == nil {
			scoresJSON = string(data)
		}
	}
	verdictJSON := ""
	if event.Verdict != nil {
		if data, err := json.Marshal(event.Verdict); err == nil {
			verdictJSON = string(data)
		}
	}
	hashInput := fmt.Sprintf("%s|%s|%d|%d|%s|%s|%s|%s|%d|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.Seq,
		event.CreatedAt,
		event.PrevHash,
		event.SessionId,
		event.TurnId,
		event.Agent,
		event.Round,
		event.Text,
		event.Reason,
		event.TurnStatus,
		scoresJSON,
		verdictJSON,
	)
	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.DebateStreamEvent{
		Type:   "error",
		Reason: errMsg,
	})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures the response for SSE streaming. Must run
// before the first write. X-Accel-Buffering disables nginx buffering.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
