// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig bounds retry behavior for backend calls.
type RetryConfig struct {
	// MaxRetries is retries after the first attempt. Default 3.
	MaxRetries int
	// InitialBackoff doubles after each failed attempt. Default 1s.
	InitialBackoff time.Duration
}

// DefaultRetryConfig matches the original deployment tuning.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialBackoff: time.Second}
}

// RetryingClient wraps an LLMClient with bounded exponential backoff.
//
// Streaming calls retry only while zero fragments have been delivered:
// once a subscriber has seen output, a retry would replay or reorder
// delivered text, so mid-stream failures surface to the caller instead.
type RetryingClient struct {
	inner  LLMClient
	cfg    RetryConfig
	logger *slog.Logger
}

// NewRetryingClient wraps inner. A nil logger falls back to slog.Default().
func NewRetryingClient(inner LLMClient, cfg RetryConfig, logger *slog.Logger) *RetryingClient {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingClient{inner: inner, cfg: cfg, logger: logger}
}

// Inner returns the wrapped client.
func (r *RetryingClient) Inner() LLMClient { return r.inner }

func (r *RetryingClient) retry(ctx context.Context, op string, fn func() error,
	abandoned func() bool) error {

	backoff := r.cfg.InitialBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt >= r.cfg.MaxRetries {
			break
		}
		if abandoned != nil && abandoned() {
			// Output already reached a subscriber; not retryable.
			break
		}
		r.logger.Warn("Backend call failed, retrying",
			"op", op, "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s aborted during backoff: %w", op, context.Cause(ctx))
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// Generate implements the LLMClient interface.
func (r *RetryingClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {
	var out string
	err := r.retry(ctx, "generate", func() error {
		var err error
		out, err = r.inner.Generate(ctx, prompt, params)
		return err
	}, nil)
	return out, err
}

// Chat implements the LLMClient interface.
func (r *RetryingClient) Chat(ctx context.Context, messages []Message,
	params GenerationParams) (string, error) {
	var out string
	err := r.retry(ctx, "chat", func() error {
		var err error
		out, err = r.inner.Chat(ctx, messages, params)
		return err
	}, nil)
	return out, err
}

// ChatStream implements the LLMClient interface. Attempts after the first
// delivered fragment are not retried.
func (r *RetryingClient) ChatStream(ctx context.Context, messages []Message,
	params GenerationParams, callback StreamCallback) error {

	delivered := false
	wrapped := func(event StreamEvent) error {
		if event.Type == StreamEventToken || event.Type == StreamEventThinking {
			delivered = true
		}
		return callback(event)
	}
	return r.retry(ctx, "chat_stream", func() error {
		return r.inner.ChatStream(ctx, messages, params, wrapped)
	}, func() bool { return delivered })
}

var _ LLMClient = (*RetryingClient)(nil)
