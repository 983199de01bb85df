// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agora-ai/agora/services/debate"
	"github.com/agora-ai/agora/services/orchestrator/datatypes"
	"github.com/agora-ai/agora/services/orchestrator/observability"
)

// keepAliveInterval must stay under common proxy idle timeouts (60s for
// nginx and most load balancers).
const keepAliveInterval = 15 * time.Second

// StreamDebate subscribes the client to a session's event stream over
// SSE. Events already published before the subscription are replayed
// first, then the live stream follows; the stream closes after the
// session's terminal event.
//
// A subscriber that cannot keep up is disconnected by the bus rather
// than allowed to slow the debate; the client sees the stream close and
// can reconnect to receive the full replay.
func StreamDebate(registry *debate.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := registry.Get(c.Param("sessionId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		events, cancel := sess.Bus.Subscribe()
		defer cancel()
		observability.Get().ActiveSubscribers.WithLabelValues("sse").Inc()
		defer observability.Get().ActiveSubscribers.WithLabelValues("sse").Dec()

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				slog.Debug("SSE client disconnected", "session", sess.ID)
				return
			case <-keepAlive.C:
				if err := writer.WriteKeepAlive(); err != nil {
					return
				}
			case ev, ok := <-events:
				if !ok {
					// Evicted as a slow consumer, or terminal event seen.
					return
				}
				if err := writer.WriteEvent(datatypes.FromDebateEvent(sess.ID, ev)); err != nil {
					slog.Debug("SSE write failed", "session", sess.ID, "error", err)
					return
				}
				observability.Get().EventsStreamedTotal.WithLabelValues("sse", string(ev.Type)).Inc()
				if ev.Terminal() {
					return
				}
			}
		}
	}
}
