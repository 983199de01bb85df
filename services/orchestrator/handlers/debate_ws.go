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
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agora-ai/agora/services/debate"
	"github.com/agora-ai/agora/services/orchestrator/datatypes"
	"github.com/agora-ai/agora/services/orchestrator/observability"
)

var debateUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

const wsWriteTimeout = 10 * time.Second

// WatchDebateWebSocket subscribes the client to a session's event stream
// over WebSocket: same replay-then-live semantics and integrity chain as
// the SSE stream, for clients that prefer a bidirectional transport.
// The client side is read only to detect disconnects; inbound messages
// are discarded.
func WatchDebateWebSocket(registry *debate.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := registry.Get(c.Param("sessionId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		ws, err := debateUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("Websocket subscriber connected", "session", sess.ID)

		events, cancel := sess.Bus.Subscribe()
		defer cancel()
		observability.Get().ActiveSubscribers.WithLabelValues("websocket").Inc()
		defer observability.Get().ActiveSubscribers.WithLabelValues("websocket").Dec()

		// Reader goroutine: surfaces client disconnects as a closed channel.
		clientGone := make(chan struct{})
		go func() {
			defer close(clientGone)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		chain := newEventChain(sess.ID)
		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case <-clientGone:
				slog.Info("Websocket subscriber disconnected", "session", sess.ID)
				return
			case <-keepAlive.C:
				deadline := time.Now().Add(wsWriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case ev, ok := <-events:
				if !ok {
					return
				}
				ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := ws.WriteJSON(chain.wrap(ev)); err != nil {
					slog.Warn("Failed to write WebSocket JSON", "session", sess.ID, "error", err)
					return
				}
				observability.Get().EventsStreamedTotal.WithLabelValues("websocket", string(ev.Type)).Inc()
				if ev.Terminal() {
					// Give the client a clean close instead of a dropped TCP.
					deadline := time.Now().Add(wsWriteTimeout)
					msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "debate finished")
					_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
					return
				}
			}
		}
	}
}

// eventChain applies the same integrity hash chain the SSE writer uses
// to WebSocket deliveries.
type eventChain struct {
	sessionID string
	prevHash  string
}

func newEventChain(sessionID string) *eventChain {
	return &eventChain{sessionID: sessionID}
}

func (c *eventChain) wrap(ev debate.Event) datatypes.DebateStreamEvent {
	out := datatypes.FromDebateEvent(c.sessionID, ev)
	out.Id = uuid.New().String()
	out.CreatedAt = time.Now().UnixMilli()
	out.PrevHash = c.prevHash
	out.Hash = computeEventHash(out)
	c.prevHash = out.Hash
	return out
}
