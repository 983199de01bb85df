// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-ai/agora/services/debate"
)

const sampleRoster = `
teams:
  default:
    - name: advocate
      role: angel
      stance: support
      model: "llama3.1:8b"
    - name: critic
      role: devil
      stance: oppose
      model: "qwen3:8b"
formats:
  - name: lightning
    rounds: 1
    rotate: true
  - name: panel
    rounds: 2
    failure_policy: retry_round
    plans:
      - [[advocate, critic]]
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "12310", cfg.Port)
	assert.Equal(t, "ollama", cfg.Backend)
	assert.Equal(t, 16, cfg.MaxSessions)
	assert.Equal(t, int64(4), cfg.MaxInFlight)
	assert.Equal(t, 5*time.Minute, cfg.TurnTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGORA_PORT", "9999")
	t.Setenv("AGORA_MAX_SESSIONS", "3")
	t.Setenv("AGORA_TURN_TIMEOUT", "90s")
	t.Setenv("AGORA_BACKEND", "openai")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 3, cfg.MaxSessions)
	assert.Equal(t, 90*time.Second, cfg.TurnTimeout)
	assert.Equal(t, "openai", cfg.Backend)
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	t.Setenv("AGORA_TURN_TIMEOUT", "ninety seconds")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("AGORA_BACKEND", "bard")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGORA_BACKEND")
}

func TestParseRoster(t *testing.T) {
	t.Parallel()

	r, err := ParseRoster([]byte(sampleRoster))
	require.NoError(t, err)

	team := r.Team("default")
	require.Len(t, team, 2)
	assert.Equal(t, "advocate", team[0].Name)
	assert.Equal(t, debate.StanceSupport, team[0].Stance)
	assert.Equal(t, "qwen3:8b", team[1].Model)

	assert.ElementsMatch(t, []string{"llama3.1:8b", "qwen3:8b"}, r.Models())

	require.NotNil(t, r.Format("lightning"))
	assert.True(t, r.Format("lightning").Rotate)
	require.NotNil(t, r.Format("panel"))
	assert.Equal(t, debate.FailureRetryRound, r.Format("panel").FailurePolicy)
	assert.Nil(t, r.Format("missing"))
}

func TestParseRoster_Invalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"agent without model": `
teams:
  broken:
    - name: x
      role: devil`,
		"duplicate agent": `
teams:
  broken:
    - name: x
      model: m
    - name: x
      model: m`,
		"format without rounds": `
formats:
  - name: bad`,
		"empty team": `
teams:
  broken: []`,
	}
	for name, body := range cases {
		_, err := ParseRoster([]byte(body))
		assert.Error(t, err, name)
	}
}

func TestWatcher_HotReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRoster), 0o644))

	initial, err := LoadRoster(path)
	require.NoError(t, err)
	store := NewRosterStore(initial)

	w, err := NewWatcher(path, store, slog.Default())
	require.NoError(t, err)
	defer w.Close()

	updated := `
teams:
  default:
    - name: advocate
      role: angel
      stance: support
      model: "llama3.1:8b"
  extra:
    - name: judge
      role: organizer
      stance: neutral
      model: "gemma3:4b"
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	deadline := time.After(5 * time.Second)
	for store.Current().Team("extra") == nil {
		select {
		case <-deadline:
			t.Fatal("roster never hot-reloaded")
		case <-time.After(20 * time.Millisecond):
		}
	}
	assert.Equal(t, "judge", store.Current().Team("extra")[0].Name)
}

func TestWatcher_BrokenEditKeepsPrevious(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRoster), 0o644))

	initial, err := LoadRoster(path)
	require.NoError(t, err)
	store := NewRosterStore(initial)

	w, err := NewWatcher(path, store, slog.Default())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(":::not yaml"), 0o644))
	time.Sleep(600 * time.Millisecond)

	require.NotNil(t, store.Current().Team("default"),
		"a broken edit must not drop the running roster")
}
