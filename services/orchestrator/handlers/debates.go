// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the debate
// orchestrator: session CRUD, the SSE and WebSocket event streams, and
// the health endpoint.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agora-ai/agora/services/debate"
	"github.com/agora-ai/agora/services/orchestrator/config"
	"github.com/agora-ai/agora/services/orchestrator/datatypes"
	"github.com/agora-ai/agora/services/orchestrator/observability"
)

// =============================================================================
// Debate CRUD
// =============================================================================

// resolveFormat maps the requested format name to a Format: built-ins
// first, then custom formats from the live roster.
func resolveFormat(name string, rounds int, roster *config.Roster) (debate.Format, error) {
	if name == "" {
		name = "adversarial"
	}
	if rounds <= 0 {
		rounds = datatypes.DefaultRounds
	}
	format, err := debate.ParseFormat(name, rounds)
	if err == nil {
		return format, nil
	}
	if def := roster.Format(name); def != nil {
		return debate.NewCustomFormat(*def)
	}
	return nil, err
}

// resolveAgents picks the inline roster when given, otherwise the named
// roster team (default team "default").
func resolveAgents(req datatypes.CreateDebateRequest, roster *config.Roster) ([]debate.Agent, bool) {
	if len(req.Agents) > 0 {
		agents := make([]debate.Agent, len(req.Agents))
		for i, spec := range req.Agents {
			agents[i] = spec.Agent()
		}
		return agents, true
	}
	team := req.Team
	if team == "" {
		team = "default"
	}
	agents := roster.Team(team)
	return agents, len(agents) > 0
}

// CreateDebate admits a new debate session and starts it.
func CreateDebate(registry *debate.Registry, store *config.RosterStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateDebateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			slog.Warn("Debate request validation failed", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
			return
		}
		roster := store.Current()

		format, err := resolveFormat(req.Format, req.Rounds, roster)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		agents, ok := resolveAgents(req, roster)
		if !ok {
			c.JSON(http.StatusBadRequest,
				gin.H{"error": "no agents: provide an inline roster or a known team name"})
			return
		}

		sess, err := registry.Create(req.Topic, format, agents)
		if err != nil {
			if errors.Is(err, debate.ErrCapacityExceeded) {
				c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		observability.Get().DebatesTotal.WithLabelValues(format.Name()).Inc()

		c.JSON(http.StatusCreated, datatypes.CreateDebateResponse{
			SessionId: sess.ID,
			Status:    string(sess.Status()),
			StreamURL: "/v1/debates/" + sess.ID + "/stream",
		})
	}
}

// ListDebates returns snapshots of every tracked session, newest first.
func ListDebates(registry *debate.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		snaps := registry.List()
		c.JSON(http.StatusOK, datatypes.DebateListResponse{
			Debates: snaps,
			Count:   len(snaps),
		})
	}
}

// GetDebate returns one session's snapshot.
func GetDebate(registry *debate.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := registry.Get(c.Param("sessionId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sess.Snapshot())
	}
}

// CancelDebate requests cooperative cancellation of a live session.
func CancelDebate(registry *debate.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := registry.Cancel(c.Param("sessionId"))
		switch {
		case errors.Is(err, debate.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, debate.ErrSessionTerminal):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
		}
	}
}

// DeleteDebate drops a terminal session ahead of its retention window.
func DeleteDebate(registry *debate.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := registry.Remove(c.Param("sessionId"))
		switch {
		case errors.Is(err, debate.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.Status(http.StatusNoContent)
		}
	}
}

// =============================================================================
// Health
// =============================================================================

// BackendHealth reports whether the generation backend is reachable.
type BackendHealth interface {
	Healthy(ctx context.Context) error
}

// HealthCheck reports service liveness plus backend reachability. The
// service stays 200 while the backend is down (degraded), so restart
// loops don't amplify a backend outage.
func HealthCheck(backend BackendHealth) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := gin.H{"status": "ok"}
		if backend != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := backend.Healthy(ctx); err != nil {
				slog.Warn("Backend health probe failed", "error", err)
				status["status"] = "degraded"
				status["backend"] = "unreachable"
			} else {
				status["backend"] = "ok"
			}
		}
		c.JSON(http.StatusOK, status)
	}
}
