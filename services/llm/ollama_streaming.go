// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// =============================================================================
// Stream Configuration
// =============================================================================

// StreamConfig controls per-stream processing behavior.
//
// # Fields
//
//   - RedactThinking: Drop thinking fragments instead of emitting them.
//   - MaxThinkingLength: Total thinking bytes to emit; 0 means unlimited.
//   - MaxResponseLength: Total response bytes to emit; 0 means unlimited.
//     Fragments past the cap are truncated, then dropped.
//   - RateLimitPerSecond: Maximum events delivered per second; 0 disables
//     rate limiting.
//   - StallTimeout: Abort the stream if no chunk arrives within this
//     window; 0 disables the watchdog. Each received chunk resets it.
type StreamConfig struct {
	RedactThinking     bool
	MaxThinkingLength  int
	MaxResponseLength  int
	RateLimitPerSecond int
	StallTimeout       time.Duration
}

// DefaultStreamConfig returns the production defaults: thinking visible
// and unlimited, responses capped at 100 KiB.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		RedactThinking:    false,
		MaxThinkingLength: 0,
		MaxResponseLength: 100 * 1024,
	}
}

// ollamaStreamChunk is one NDJSON line of an Ollama streaming response.
type ollamaStreamChunk struct {
	Message       Message `json:"message"`
	Thinking      string  `json:"thinking,omitempty"`
	Error         string  `json:"error,omitempty"`
	Done          bool    `json:"done"`
	DoneReason    string  `json:"done_reason,omitempty"`
	TotalDuration int64   `json:"total_duration,omitempty"`
}

// parseStreamChunk decodes one NDJSON line.
func (o *OllamaClient) parseStreamChunk(line []byte) (*ollamaStreamChunk, error) {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, fmt.Errorf("empty stream line")
	}
	var chunk ollamaStreamChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return nil, fmt.Errorf("failed to parse stream chunk: %w", err)
	}
	return &chunk, nil
}

// =============================================================================
// Stream Processor
// =============================================================================

// DefaultStreamProcessor applies a StreamConfig to a sequence of stream
// chunks, enforcing length caps and redaction and tracking counters.
//
// Not safe for concurrent use; each stream owns one processor.
type DefaultStreamProcessor struct {
	cfg     StreamConfig
	logger  *slog.Logger
	limiter *rate.Limiter

	tokenCount     int
	responseLength int
	thinkingLength int
}

// NewDefaultStreamProcessor creates a processor. A nil logger falls back
// to slog.Default().
func NewDefaultStreamProcessor(cfg StreamConfig, logger *slog.Logger) *DefaultStreamProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &DefaultStreamProcessor{cfg: cfg, logger: logger}
	if cfg.RateLimitPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitPerSecond)
	}
	return p
}

// ProcessChunk handles one chunk, invoking callback for anything it emits.
// Returns done=true when the stream is finished (final chunk or error
// chunk); an error chunk also returns a non-nil error after the error
// event has been delivered.
func (p *DefaultStreamProcessor) ProcessChunk(ctx context.Context,
	chunk *ollamaStreamChunk, callback StreamCallback) (bool, error) {

	if chunk.Error != "" {
		if err := p.deliver(ctx, StreamEvent{
			Type:  StreamEventError,
			Error: chunk.Error,
		}, callback); err != nil {
			return true, err
		}
		return true, fmt.Errorf("ollama stream error: %s", chunk.Error)
	}

	if chunk.Thinking != "" && !p.cfg.RedactThinking {
		text := chunk.Thinking
		if p.cfg.MaxThinkingLength > 0 {
			remaining := p.cfg.MaxThinkingLength - p.thinkingLength
			if remaining <= 0 {
				text = ""
			} else if len(text) > remaining {
				text = text[:remaining]
			}
		}
		if text != "" {
			p.thinkingLength += len(text)
			if err := p.deliver(ctx, StreamEvent{
				Type:    StreamEventThinking,
				Content: text,
			}, callback); err != nil {
				return false, err
			}
		}
	}

	if chunk.Message.Content != "" {
		text := chunk.Message.Content
		if p.cfg.MaxResponseLength > 0 {
			remaining := p.cfg.MaxResponseLength - p.responseLength
			if remaining <= 0 {
				text = ""
			} else if len(text) > remaining {
				text = text[:remaining]
			}
		}
		if text != "" {
			p.tokenCount++
			p.responseLength += len(text)
			if err := p.deliver(ctx, StreamEvent{
				Type:    StreamEventToken,
				Content: text,
			}, callback); err != nil {
				return false, err
			}
		}
	}

	return chunk.Done, nil
}

// deliver rate-limits and invokes the callback, wrapping its error.
func (p *DefaultStreamProcessor) deliver(ctx context.Context, event StreamEvent,
	callback StreamCallback) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("stream rate limit wait aborted: %w", err)
		}
	}
	if err := callback(event); err != nil {
		return fmt.Errorf("stream callback failed: %w", err)
	}
	return nil
}

// GetTokenCount returns the number of content fragments emitted.
func (p *DefaultStreamProcessor) GetTokenCount() int { return p.tokenCount }

// GetResponseLength returns the total emitted response bytes.
func (p *DefaultStreamProcessor) GetResponseLength() int { return p.responseLength }

// =============================================================================
// ChatStream
// =============================================================================

// ChatStream runs a streaming chat completion with default stream config
// plus the client's configured stall watchdog.
func (o *OllamaClient) ChatStream(ctx context.Context, messages []Message,
	params GenerationParams, callback StreamCallback) error {
	cfg := DefaultStreamConfig()
	cfg.StallTimeout = o.stallTimeout
	return o.ChatStreamWithConfig(ctx, messages, params, callback, cfg)
}

// ChatStreamWithConfig runs a streaming chat completion. Chunks are
// processed as they arrive; malformed NDJSON lines are skipped with a
// warning rather than failing a stream that the model is still producing.
//
// When cfg.StallTimeout is set, a watchdog aborts the stream if no chunk
// arrives within the window; the returned error then wraps ErrStreamStall.
func (o *OllamaClient) ChatStreamWithConfig(ctx context.Context,
	messages []Message, params GenerationParams,
	callback StreamCallback, cfg StreamConfig) error {

	ctx, span := tracer.Start(ctx, "OllamaClient.ChatStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	streamCtx := ctx
	var watchdog *time.Timer
	if cfg.StallTimeout > 0 {
		var cancel context.CancelCauseFunc
		streamCtx, cancel = context.WithCancelCause(ctx)
		defer cancel(nil)
		watchdog = time.AfterFunc(cfg.StallTimeout, func() {
			cancel(ErrStreamStall)
		})
		defer watchdog.Stop()
	}

	payload := ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   true,
		Options:  o.buildOptions(params),
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal chat stream request: %w", err)
	}
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost,
		o.baseURL+"/api/chat", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create chat stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	// No client timeout on streams; the context governs lifetime.
	httpClient := &http.Client{Transport: o.httpClient.Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if cause := context.Cause(streamCtx); cause != nil && streamCtx.Err() != nil {
			return fmt.Errorf("ollama stream aborted: %w", cause)
		}
		return fmt.Errorf("ollama stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := bufio.NewReader(resp.Body).ReadString('\n')
		span.SetStatus(codes.Error, fmt.Sprintf("status %d", resp.StatusCode))
		return fmt.Errorf("ollama stream failed with status %d: %s",
			resp.StatusCode, body)
	}

	processor := NewDefaultStreamProcessor(cfg, slog.Default())
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if watchdog != nil {
			watchdog.Reset(cfg.StallTimeout)
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		chunk, err := o.parseStreamChunk(line)
		if err != nil {
			slog.Warn("Skipping malformed stream chunk", "error", err)
			continue
		}
		done, err := processor.ProcessChunk(streamCtx, chunk, callback)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if done {
			span.SetAttributes(
				attribute.Int("llm.tokens", processor.GetTokenCount()),
				attribute.Int("llm.response_bytes", processor.GetResponseLength()),
			)
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if streamCtx.Err() != nil {
			cause := context.Cause(streamCtx)
			span.RecordError(cause)
			span.SetStatus(codes.Error, cause.Error())
			return fmt.Errorf("ollama stream aborted: %w", cause)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("ollama stream read failed: %w", err)
	}

	// EOF without a done chunk: the server hung up early. Treat what we
	// received as complete rather than discarding a mostly-finished turn.
	slog.Warn("Ollama stream ended without done chunk",
		"tokens", processor.GetTokenCount())
	return nil
}
