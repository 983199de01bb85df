// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func limitedRouter(rps float64, burst int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewRateLimiter(rps, burst).Middleware())
	router.POST("/v1/debates", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func doPost(router *gin.Engine, ip string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/debates", nil)
	req.RemoteAddr = ip + ":12345"
	router.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	router := limitedRouter(1, 3)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doPost(router, "10.0.0.1"))
	}
}

func TestRateLimiter_RejectsBeyondBurst(t *testing.T) {
	router := limitedRouter(0.001, 2)
	assert.Equal(t, http.StatusOK, doPost(router, "10.0.0.2"))
	assert.Equal(t, http.StatusOK, doPost(router, "10.0.0.2"))
	assert.Equal(t, http.StatusTooManyRequests, doPost(router, "10.0.0.2"))
}

func TestRateLimiter_PerClientIsolation(t *testing.T) {
	router := limitedRouter(0.001, 1)
	assert.Equal(t, http.StatusOK, doPost(router, "10.0.0.3"))
	assert.Equal(t, http.StatusTooManyRequests, doPost(router, "10.0.0.3"))
	assert.Equal(t, http.StatusOK, doPost(router, "10.0.0.4"),
		"one client's exhaustion must not affect another")
}

func TestRateLimiter_RetryAfterHeader(t *testing.T) {
	router := limitedRouter(0.5, 1)
	doPost(router, "10.0.0.5")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/debates", nil)
	req.RemoteAddr = "10.0.0.5:12345"
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}
