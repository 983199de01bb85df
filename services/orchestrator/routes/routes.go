// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agora-ai/agora/services/debate"
	"github.com/agora-ai/agora/services/orchestrator/config"
	"github.com/agora-ai/agora/services/orchestrator/handlers"
	"github.com/agora-ai/agora/services/orchestrator/middleware"
)

// SetupRoutes wires the orchestrator's HTTP surface. The rate limiter
// covers debate creation only; reads and stream subscriptions are cheap
// and bounded by the bus's own slow-consumer eviction. Auth guards the
// mutating endpoints and is a no-op until a token is configured.
func SetupRoutes(router *gin.Engine, registry *debate.Registry, store *config.RosterStore,
	backend handlers.BackendHealth, limiter *middleware.RateLimiter, auth *middleware.TokenAuth) {

	router.GET("/health", handlers.HealthCheck(backend))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		debates := v1.Group("/debates")
		{
			debates.POST("", auth.Middleware(), limiter.Middleware(),
				handlers.CreateDebate(registry, store))
			debates.GET("", handlers.ListDebates(registry))
			debates.GET("/:sessionId", handlers.GetDebate(registry))
			debates.POST("/:sessionId/cancel", auth.Middleware(), handlers.CancelDebate(registry))
			debates.DELETE("/:sessionId", auth.Middleware(), handlers.DeleteDebate(registry))
			debates.GET("/:sessionId/stream", handlers.StreamDebate(registry))
			debates.GET("/:sessionId/ws", handlers.WatchDebateWebSocket(registry))
		}
	}
}
