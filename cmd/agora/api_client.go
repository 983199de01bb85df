// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/agora-ai/agora/services/orchestrator/datatypes"
)

// apiClient talks to the orchestrator's debate API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   os.Getenv("AGORA_API_TOKEN"),
		// No client timeout: debate streams stay open for minutes.
		// Individual JSON calls bound themselves with a context.
		http: &http.Client{},
	}
}

func (c *apiClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// decodeError surfaces the server's error message when there is one.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("%s (HTTP %d)", payload.Error, resp.StatusCode)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func (c *apiClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("orchestrator unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *apiClient) CreateDebate(ctx context.Context,
	req datatypes.CreateDebateRequest) (*datatypes.CreateDebateResponse, error) {
	var resp datatypes.CreateDebateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/debates", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) ListDebates(ctx context.Context) (*datatypes.DebateListResponse, error) {
	var resp datatypes.DebateListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/debates", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDebate returns the raw snapshot JSON so the CLI can pretty-print it
// without tracking every server field.
func (c *apiClient) GetDebate(ctx context.Context, id string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/v1/debates/"+id, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *apiClient) CancelDebate(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/debates/"+id+"/cancel", nil, nil)
}

func (c *apiClient) DeleteDebate(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/debates/"+id, nil, nil)
}

func (c *apiClient) Health(ctx context.Context) (map[string]string, error) {
	var resp map[string]string
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// StreamDebate opens the session's SSE stream. The caller owns the
// returned body and must close it.
func (c *apiClient) StreamDebate(ctx context.Context, id string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/debates/"+id+"/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orchestrator unreachable: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}
