// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient adapts the OpenAI chat API to the LLMClient contract.
// OpenAI has no thinking channel; streams only emit token events.
type OpenAIClient struct {
	client       *openai.Client
	model        string
	stallTimeout time.Duration
}

// NewOpenAIClient builds a client from OPENAI_API_KEY (falling back to the
// /run/secrets/openai_api_key container secret) and OPENAI_MODEL.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err != nil {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found",
				"path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		apiKey = strings.TrimSpace(string(apiKeyBytes))
		slog.Info("Read the OpenAI API key from container secrets")
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{client: openai.NewClient(apiKey), model: model}, nil
}

// Healthy probes the API with a model listing. A failure here means
// streaming calls will fail too.
func (o *OpenAIClient) Healthy(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai unreachable: %w", err)
	}
	return nil
}

// WithModel returns a copy bound to a different model.
func (o *OpenAIClient) WithModel(model string) *OpenAIClient {
	if model == "" || model == o.model {
		return o
	}
	clone := *o
	clone.model = model
	return &clone
}

// WithStallTimeout returns a copy whose streams abort when no delta
// arrives within d. Zero disables the watchdog.
func (o *OpenAIClient) WithStallTimeout(d time.Duration) *OpenAIClient {
	clone := *o
	clone.stallTimeout = d
	return &clone
}

func (o *OpenAIClient) buildRequest(messages []openai.ChatCompletionMessage,
	params GenerationParams) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{Model: o.model, Messages: messages}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Generate implements the LLMClient interface.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {
	return o.Chat(ctx, []Message{{Role: "user", Content: prompt}}, params)
}

// Chat implements the LLMClient interface.
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message,
	params GenerationParams) (string, error) {

	slog.Debug("Generating text via OpenAI", "model", o.model)
	resp, err := o.client.CreateChatCompletion(ctx,
		o.buildRequest(toOpenAIMessages(messages), params))
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices or empty content")
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatStream implements the LLMClient interface using OpenAI's SSE stream.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []Message,
	params GenerationParams, callback StreamCallback) error {

	req := o.buildRequest(toOpenAIMessages(messages), params)
	req.Stream = true

	streamCtx := ctx
	var watchdog *time.Timer
	if o.stallTimeout > 0 {
		var cancel context.CancelCauseFunc
		streamCtx, cancel = context.WithCancelCause(ctx)
		defer cancel(nil)
		watchdog = time.AfterFunc(o.stallTimeout, func() {
			cancel(ErrStreamStall)
		})
		defer watchdog.Stop()
	}

	stream, err := o.client.CreateChatCompletionStream(streamCtx, req)
	if err != nil {
		slog.Error("OpenAI stream request failed", "error", err)
		return fmt.Errorf("OpenAI stream request failed: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if watchdog != nil {
			watchdog.Reset(o.stallTimeout)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if streamCtx.Err() != nil {
				return fmt.Errorf("openai stream aborted: %w", context.Cause(streamCtx))
			}
			return fmt.Errorf("OpenAI stream receive failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := callback(StreamEvent{Type: StreamEventToken, Content: delta}); err != nil {
			return fmt.Errorf("stream callback failed: %w", err)
		}
	}
}

var _ LLMClient = (*OpenAIClient)(nil)
