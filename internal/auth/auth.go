// Package auth provides API key authentication middleware for the
// Gatewarden API. Keys are configured statically; callers present them
// as a bearer token or an X-API-Key header.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKeyAuthenticated marks a request that presented a valid key.
const ContextKeyAuthenticated = "authenticated"

// extractKey pulls the API key from the Authorization or X-API-Key header.
func extractKey(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.GetHeader("X-API-Key")
}

// Middleware validates the presented API key against the configured key
// and marks the request authenticated. It never rejects; pair with
// RequireAuth on routes that need protection.
func Middleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey != "" {
			presented := extractKey(c)
			if presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) == 1 {
				c.Set(ContextKeyAuthenticated, true)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests that did not present a valid API key.
// If no key is configured, all requests pass (development mode).
func RequireAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		if !IsAuthenticated(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer ...' header.",
			})
			return
		}
		c.Next()
	}
}

// IsAuthenticated checks if the request presented a valid API key.
func IsAuthenticated(c *gin.Context) bool {
	v, exists := c.Get(ContextKeyAuthenticated)
	return exists && v == true
}
