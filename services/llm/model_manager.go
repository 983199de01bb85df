// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// =============================================================================
// Model Manager
// =============================================================================

// ModelManager keeps the models of a debate roster loaded in VRAM.
//
// # Description
//
// Ollama unloads a model when a different one is requested, which thrashes
// badly when a debate alternates between per-agent models every turn.
// ModelManager warms each distinct model with keep_alive before the first
// round so turn latency is generation, not model loading.
//
// # Thread Safety
//
// ModelManager is safe for concurrent use.
type ModelManager struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu     sync.RWMutex
	models map[string]*ManagedModel
}

// ManagedModel tracks one warmed model.
type ManagedModel struct {
	Name         string        `json:"name"`
	KeepAlive    string        `json:"keep_alive"`
	LoadedAt     time.Time     `json:"loaded_at"`
	LoadDuration time.Duration `json:"load_duration"`
}

// NewModelManager creates a manager for the given Ollama server. The long
// client timeout allows for cold model loads.
func NewModelManager(baseURL string, logger *slog.Logger) *ModelManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelManager{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     logger,
		models:     make(map[string]*ManagedModel),
	}
}

type ollamaWarmupRequest struct {
	Model     string                 `json:"model"`
	Messages  []Message              `json:"messages"`
	Stream    bool                   `json:"stream"`
	KeepAlive string                 `json:"keep_alive,omitempty"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

// WarmRoster warms every distinct model in the list, sequentially to avoid
// VRAM contention. Models already warmed this process are skipped. A
// warm-up failure is reported but does not block the debate; the first
// real turn will pay the cold-start cost instead.
func (m *ModelManager) WarmRoster(ctx context.Context, models []string, keepAlive string) error {
	seen := make(map[string]bool, len(models))
	var firstErr error
	for _, model := range models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true

		m.mu.RLock()
		_, warmed := m.models[model]
		m.mu.RUnlock()
		if warmed {
			continue
		}

		if err := m.warm(ctx, model, keepAlive); err != nil {
			m.logger.Error("Failed to warm model", "model", model, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("warming model %s: %w", model, err)
			}
		}
	}
	return firstErr
}

// warm sends a minimal chat request to load the model with keep_alive.
func (m *ModelManager) warm(ctx context.Context, model, keepAlive string) error {
	start := time.Now()
	m.logger.Info("Warming model", "model", model, "keep_alive", keepAlive)

	payload := ollamaWarmupRequest{
		Model:     model,
		Messages:  []Message{{Role: "user", Content: "ping"}},
		Stream:    false,
		KeepAlive: keepAlive,
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling warmup request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+"/api/chat", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("creating warmup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending warmup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("warmup failed with status %d: %s", resp.StatusCode, string(body))
	}
	io.Copy(io.Discard, resp.Body)

	m.mu.Lock()
	m.models[model] = &ManagedModel{
		Name:         model,
		KeepAlive:    keepAlive,
		LoadedAt:     time.Now(),
		LoadDuration: time.Since(start),
	}
	m.mu.Unlock()

	m.logger.Info("Model warmed", "model", model, "load_duration", time.Since(start))
	return nil
}

// Warmed returns the currently tracked warm models.
func (m *ModelManager) Warmed() []ManagedModel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ManagedModel, 0, len(m.models))
	for _, mm := range m.models {
		out = append(out, *mm)
	}
	return out
}

// Unload asks Ollama to evict a model (keep_alive 0) and drops it from
// tracking.
func (m *ModelManager) Unload(ctx context.Context, model string) error {
	payload := ollamaWarmupRequest{
		Model:     model,
		Messages:  []Message{{Role: "user", Content: "ping"}},
		Stream:    false,
		KeepAlive: "0",
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling unload request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+"/api/chat", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("creating unload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending unload request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	m.mu.Lock()
	delete(m.models, model)
	m.mu.Unlock()

	m.logger.Info("Model unloaded", "model", model)
	return nil
}
