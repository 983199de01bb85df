// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// =============================================================================
// Bearer Token Auth
// =============================================================================

// TokenAuth guards the mutating debate endpoints with a static bearer
// token. With no token configured every request passes, so a local
// deployment works with zero auth setup.
//
// Read-only endpoints stay open either way: the transcript stream is the
// product, the admission surface is what needs protecting.
type TokenAuth struct {
	token string
}

// NewTokenAuth creates the middleware. An empty token disables auth.
func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{token: token}
}

// Enabled reports whether a token is configured.
func (a *TokenAuth) Enabled() bool { return a.token != "" }

// Middleware returns the gin handler enforcing the token. The expected
// header is "Authorization: Bearer <token>"; comparison is constant
// time.
func (a *TokenAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		presented, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"error": "missing bearer token"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
