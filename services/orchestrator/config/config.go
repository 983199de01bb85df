// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the orchestrator configuration: AGORA_* environment
// knobs plus the optional YAML roster file carrying default agents and
// custom debate formats. The roster file is hot-reloadable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agora-ai/agora/services/debate"
)

// =============================================================================
// Configuration
// =============================================================================

// Config is the full orchestrator configuration.
//
// # Fields
//
//   - Port: HTTP listen port. Env: AGORA_PORT. Default: 12310.
//   - Backend: LLM backend selector ("ollama" or "openai").
//     Env: AGORA_BACKEND. Default: ollama.
//   - JudgeModel: Model used for evaluation calls. Env: AGORA_JUDGE_MODEL.
//     Empty means the backend's default model.
//   - MaxSessions: Concurrent debate cap. Env: AGORA_MAX_SESSIONS.
//   - MaxInFlight: Concurrent backend calls per session. Env: AGORA_MAX_INFLIGHT.
//   - TurnTimeout: Per-turn deadline. Env: AGORA_TURN_TIMEOUT (Go duration).
//   - StreamStallTimeout: Inactivity window after which a backend stream
//     with no new fragment is aborted. Env: AGORA_STREAM_STALL_TIMEOUT.
//     Default: 90s.
//   - SessionRetention: How long terminal sessions stay queryable.
//     Env: AGORA_SESSION_RETENTION.
//   - IdleTimeout: Idle-session cancellation threshold. Env: AGORA_IDLE_TIMEOUT.
//   - RateLimitRPS / RateLimitBurst: Per-client request budget.
//     Env: AGORA_RATE_LIMIT_RPS, AGORA_RATE_LIMIT_BURST.
//   - RosterPath: Optional YAML roster file. Env: AGORA_ROSTER.
//   - APIToken: Optional bearer token guarding the mutating endpoints.
//     Env: AGORA_API_TOKEN. Empty disables auth.
type Config struct {
	Port               string
	Backend            string
	JudgeModel         string
	MaxSessions        int
	MaxInFlight        int64
	TurnTimeout        time.Duration
	StreamStallTimeout time.Duration
	SessionRetention   time.Duration
	IdleTimeout        time.Duration
	RateLimitRPS       float64
	RateLimitBurst     int
	RosterPath         string
	APIToken           string
}

// Load reads the configuration from the environment, applying defaults
// for anything unset. Malformed values are an error, not a silent
// fallback: a typo in a timeout should fail startup, loudly.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               envStr("AGORA_PORT", "12310"),
		Backend:            envStr("AGORA_BACKEND", "ollama"),
		JudgeModel:         os.Getenv("AGORA_JUDGE_MODEL"),
		MaxSessions:        16,
		MaxInFlight:        4,
		TurnTimeout:        5 * time.Minute,
		StreamStallTimeout: 90 * time.Second,
		SessionRetention:   30 * time.Minute,
		IdleTimeout:        15 * time.Minute,
		RateLimitRPS:       5,
		RateLimitBurst:     10,
		RosterPath:         os.Getenv("AGORA_ROSTER"),
		APIToken:           os.Getenv("AGORA_API_TOKEN"),
	}

	var err error
	if cfg.MaxSessions, err = envInt("AGORA_MAX_SESSIONS", cfg.MaxSessions); err != nil {
		return nil, err
	}
	inflight, err := envInt("AGORA_MAX_INFLIGHT", int(cfg.MaxInFlight))
	if err != nil {
		return nil, err
	}
	cfg.MaxInFlight = int64(inflight)
	if cfg.TurnTimeout, err = envDuration("AGORA_TURN_TIMEOUT", cfg.TurnTimeout); err != nil {
		return nil, err
	}
	if cfg.StreamStallTimeout, err = envDuration("AGORA_STREAM_STALL_TIMEOUT", cfg.StreamStallTimeout); err != nil {
		return nil, err
	}
	if cfg.SessionRetention, err = envDuration("AGORA_SESSION_RETENTION", cfg.SessionRetention); err != nil {
		return nil, err
	}
	if cfg.IdleTimeout, err = envDuration("AGORA_IDLE_TIMEOUT", cfg.IdleTimeout); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = envFloat("AGORA_RATE_LIMIT_RPS", cfg.RateLimitRPS); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = envInt("AGORA_RATE_LIMIT_BURST", cfg.RateLimitBurst); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case "ollama", "openai":
	default:
		return nil, fmt.Errorf("AGORA_BACKEND must be ollama or openai, got %q", cfg.Backend)
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("%s must be a positive number, got %q", key, v)
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive Go duration, got %q", key, v)
	}
	return d, nil
}

// =============================================================================
// Roster File
// =============================================================================

// Roster is the YAML roster file: named agent line-ups plus custom debate
// formats, both referenceable by name at debate creation.
//
// # Example
//
//	teams:
//	  default:
//	    - name: advocate
//	      role: angel
//	      stance: support
//	      model: "llama3.1:8b"
//	    - name: critic
//	      role: devil
//	      stance: oppose
//	      model: "qwen3:8b"
//	formats:
//	  - name: lightning
//	    rounds: 1
//	    rotate: true
type Roster struct {
	Teams   map[string][]debate.Agent `yaml:"teams"`
	Formats []debate.CustomFormatDef  `yaml:"formats"`
}

// ParseRoster decodes and validates roster YAML.
func ParseRoster(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	for team, agents := range r.Teams {
		if len(agents) == 0 {
			return nil, fmt.Errorf("roster team %q has no agents", team)
		}
		seen := map[string]bool{}
		for _, a := range agents {
			if a.Name == "" || a.Model == "" {
				return nil, fmt.Errorf("roster team %q: every agent needs a name and a model", team)
			}
			if seen[a.Name] {
				return nil, fmt.Errorf("roster team %q: duplicate agent %q", team, a.Name)
			}
			seen[a.Name] = true
		}
	}
	names := map[string]bool{}
	for _, f := range r.Formats {
		if f.Name == "" || f.Rounds <= 0 {
			return nil, fmt.Errorf("roster format needs a name and a positive round count")
		}
		if names[f.Name] {
			return nil, fmt.Errorf("duplicate roster format %q", f.Name)
		}
		names[f.Name] = true
	}
	return &r, nil
}

// LoadRoster reads and parses the roster file at path.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return ParseRoster(data)
}

// Models returns every distinct model named across all teams, for
// backend warmup.
func (r *Roster) Models() []string {
	seen := map[string]bool{}
	var models []string
	for _, agents := range r.Teams {
		for _, a := range agents {
			if !seen[a.Model] {
				seen[a.Model] = true
				models = append(models, a.Model)
			}
		}
	}
	return models
}

// Team returns the named team's agents, or nil when absent.
func (r *Roster) Team(name string) []debate.Agent {
	if r == nil {
		return nil
	}
	return r.Teams[name]
}

// Format returns the named custom format definition, or nil.
func (r *Roster) Format(name string) *debate.CustomFormatDef {
	if r == nil {
		return nil
	}
	for i := range r.Formats {
		if r.Formats[i].Name == name {
			return &r.Formats[i]
		}
	}
	return nil
}
