// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm contains the generation backend clients. Every debate turn
// and every evaluation request goes through an LLMClient; the rest of the
// system never talks to a backend directly.
package llm

import (
	"context"
	"errors"
	"net"
	"strings"
)

// GenerationParams are the sampling knobs passed through to the backend.
// Nil fields fall back to backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType classifies one streaming callback event.
type StreamEventType string

const (
	// StreamEventToken is a fragment of user-facing response text.
	StreamEventToken StreamEventType = "token"
	// StreamEventThinking is a fragment of model reasoning text.
	StreamEventThinking StreamEventType = "thinking"
	// StreamEventError reports a backend-signaled stream error. The
	// stream ends after it.
	StreamEventError StreamEventType = "error"
	// StreamEventDone marks normal end of stream.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent is one incremental unit delivered to a StreamCallback.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StreamCallback receives stream events in arrival order. Returning an
// error aborts the stream; the error is propagated to the ChatStream
// caller wrapped as a callback failure.
type StreamCallback func(event StreamEvent) error

// LLMClient is the contract every generation backend implements.
type LLMClient interface {
	// Generate runs a single non-streaming completion on a bare prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat runs a non-streaming chat completion.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ChatStream runs a streaming chat completion, invoking callback for
	// each event as it arrives.
	ChatStream(ctx context.Context, messages []Message,
		params GenerationParams, callback StreamCallback) error
}

// =============================================================================
// Error classification
// =============================================================================

// ErrStreamStall is the cancellation cause when a stream produced no
// fragment within the configured stall window.
var ErrStreamStall = errors.New("stream stalled: no fragment within stall timeout")

// ErrorKind buckets backend failures for retry and metrics decisions.
type ErrorKind string

const (
	ErrorTimeout    ErrorKind = "timeout"
	ErrorConnection ErrorKind = "connection"
	ErrorMalformed  ErrorKind = "malformed"
	ErrorOther      ErrorKind = "other"
)

// Classify buckets a backend error. Stalls count as timeouts.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorOther
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrStreamStall) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorConnection
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") {
		return ErrorConnection
	}
	if strings.Contains(msg, "parse") || strings.Contains(msg, "unmarshal") ||
		strings.Contains(msg, "unexpected") {
		return ErrorMalformed
	}
	return ErrorOther
}
