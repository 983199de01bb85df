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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newMockOllamaServer starts a test server backed by the given handler.
func newMockOllamaServer(handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(handler))
}

// newTestOllamaClient builds a client pointed at a test server.
func newTestOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		model:      model,
	}
}

// flakyClient fails a fixed number of times before succeeding.
type flakyClient struct {
	failures  int32
	calls     int32
	failErr   error
	streamOut []StreamEvent

	// failAfterDeliver makes ChatStream emit streamOut before failing.
	failAfterDeliver bool
}

func (f *flakyClient) attempt() error {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= atomic.LoadInt32(&f.failures) {
		return f.failErr
	}
	return nil
}

func (f *flakyClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	if err := f.attempt(); err != nil {
		return "", err
	}
	return "ok", nil
}

func (f *flakyClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	if err := f.attempt(); err != nil {
		return "", err
	}
	return "ok", nil
}

func (f *flakyClient) ChatStream(ctx context.Context, messages []Message,
	params GenerationParams, callback StreamCallback) error {
	if f.failAfterDeliver {
		for _, ev := range f.streamOut {
			if err := callback(ev); err != nil {
				return err
			}
		}
		atomic.AddInt32(&f.calls, 1)
		return f.failErr
	}
	if err := f.attempt(); err != nil {
		return err
	}
	for _, ev := range f.streamOut {
		if err := callback(ev); err != nil {
			return err
		}
	}
	return nil
}

func TestRetryingClient_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	inner := &flakyClient{failures: 2, failErr: errors.New("connection refused")}
	client := NewRetryingClient(inner, RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond}, nil)

	out, err := client.Chat(context.Background(), nil, GenerationParams{})
	if err != nil {
		t.Fatalf("Chat should succeed after retries, got: %v", err)
	}
	if out != "ok" {
		t.Errorf("Expected 'ok', got '%s'", out)
	}
	if got := atomic.LoadInt32(&inner.calls); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestRetryingClient_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	failErr := errors.New("connection refused")
	inner := &flakyClient{failures: 100, failErr: failErr}
	client := NewRetryingClient(inner, RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond}, nil)

	_, err := client.Generate(context.Background(), "p", GenerationParams{})
	if !errors.Is(err, failErr) {
		t.Fatalf("Expected the backend error after exhaustion, got: %v", err)
	}
	if got := atomic.LoadInt32(&inner.calls); got != 3 {
		t.Errorf("Expected 3 attempts (1 + 2 retries), got %d", got)
	}
}

func TestRetryingClient_StreamRetriesBeforeFirstFragment(t *testing.T) {
	t.Parallel()

	inner := &flakyClient{
		failures:  1,
		failErr:   errors.New("connection refused"),
		streamOut: []StreamEvent{{Type: StreamEventToken, Content: "hi"}},
	}
	client := NewRetryingClient(inner, RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond}, nil)

	var got strings.Builder
	err := client.ChatStream(context.Background(), nil, GenerationParams{},
		func(ev StreamEvent) error {
			if ev.Type == StreamEventToken {
				got.WriteString(ev.Content)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("ChatStream should succeed on retry, got: %v", err)
	}
	if got.String() != "hi" {
		t.Errorf("Expected 'hi', got '%s'", got.String())
	}
	if atomic.LoadInt32(&inner.calls) != 2 {
		t.Errorf("Expected 2 attempts, got %d", inner.calls)
	}
}

func TestRetryingClient_NoStreamRetryAfterDelivery(t *testing.T) {
	t.Parallel()

	failErr := errors.New("stream broke mid-flight")
	inner := &flakyClient{
		failErr:          failErr,
		failAfterDeliver: true,
		streamOut:        []StreamEvent{{Type: StreamEventToken, Content: "partial"}},
	}
	client := NewRetryingClient(inner, RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond}, nil)

	err := client.ChatStream(context.Background(), nil, GenerationParams{},
		func(StreamEvent) error { return nil })
	if !errors.Is(err, failErr) {
		t.Fatalf("Expected mid-stream failure to surface, got: %v", err)
	}
	if got := atomic.LoadInt32(&inner.calls); got != 1 {
		t.Errorf("Delivered fragments must disable retry; got %d attempts", got)
	}
}

func TestChatStream_StallWatchdog(t *testing.T) {
	t.Parallel()

	server := newMockOllamaServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"content":"First"},"done":false}`)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Stall far beyond the watchdog window.
		time.Sleep(2 * time.Second)
	})
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	cfg := DefaultStreamConfig()
	cfg.StallTimeout = 100 * time.Millisecond

	err := client.ChatStreamWithConfig(context.Background(), []Message{
		{Role: "user", Content: "Hi"},
	}, GenerationParams{}, func(StreamEvent) error { return nil }, cfg)

	if err == nil {
		t.Fatal("ChatStreamWithConfig should fail on a stalled stream")
	}
	if !errors.Is(err, ErrStreamStall) {
		t.Errorf("Expected ErrStreamStall, got: %v", err)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want ErrorKind
	}{
		{context.DeadlineExceeded, ErrorTimeout},
		{ErrStreamStall, ErrorTimeout},
		{errors.New("dial tcp 127.0.0.1:11434: connection refused"), ErrorConnection},
		{errors.New("failed to parse Ollama response: unexpected end of JSON input"), ErrorMalformed},
		{errors.New("something else"), ErrorOther},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
