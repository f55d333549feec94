// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jeranaias/usertasks/internal/logger"
)

// callerKey is the gin context key holding the authenticated user id.
const callerKey = "caller"

// Caller returns the user id resolved by AuthMiddleware.
func Caller(c *gin.Context) string {
	return c.GetString(callerKey)
}

// ============================================================================
// Auth Middleware
// ============================================================================

// TokenAuthenticator resolves a bearer token to a user id.
type TokenAuthenticator interface {
	Authenticate(token string) (string, error)
}

// AuthConfig controls how callers are identified.
type AuthConfig struct {
	// Enabled requires a valid bearer token on every API request
	Enabled bool

	// AnonymousUser is the caller when authentication is disabled
	AnonymousUser string
}

// AuthMiddleware resolves the caller from "Authorization: Bearer <user>.<secret>".
// Missing or invalid tokens are answered with 401.
func AuthMiddleware(tokens TokenAuthenticator, cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Set(callerKey, cfg.AnonymousUser)
			c.Next()
			return
		}

		scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			c.Header("WWW-Authenticate", `Bearer realm="usertasks"`)
			abortError(c, http.StatusUnauthorized, "missing bearer token")
			return
		}

		user, err := tokens.Authenticate(strings.TrimSpace(token))
		if err != nil {
			logger.Logger.Warn().
				Str("event", "auth_failed").
				Str("ip", c.ClientIP()).
				Str("path", c.Request.URL.Path).
				Msg("invalid bearer token")
			c.Header("WWW-Authenticate", `Bearer realm="usertasks", error="invalid_token"`)
			abortError(c, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		c.Set(callerKey, user)
		c.Next()
	}
}

// ============================================================================
// Rate Limiter
// ============================================================================

// RateLimiter is a token bucket per client IP.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
}

// NewRateLimiter allows perSecond requests per IP with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
	}
}

// Allow consumes a token for ip.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[ip] = lim
	}
	rl.lastSeen[ip] = time.Now()
	return lim.Allow()
}

// Cleanup drops buckets idle for longer than maxIdle and returns how many
// were removed.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for ip, seen := range rl.lastSeen {
		if seen.Before(cutoff) {
			delete(rl.limiters, ip)
			delete(rl.lastSeen, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked IPs.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// RateLimitMiddleware answers 429 once a client IP exhausts its bucket.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	retryAfter := 1
	if limiter.limit > 0 && float64(limiter.limit) < 1 {
		retryAfter = int(1/float64(limiter.limit)) + 1
	}
	return func(c *gin.Context) {
		ip := c.ClientIP()
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%g", float64(limiter.limit)))
		if !limiter.Allow(ip) {
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			logger.Logger.Warn().
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Msg("client rate limited")
			abortError(c, http.StatusTooManyRequests, "too many requests")
			return
		}
		c.Next()
	}
}

// ============================================================================
// Request Logging Middleware
// ============================================================================

// LoggingMiddleware logs one line per request.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := logger.Logger.Info()
		if status >= http.StatusInternalServerError {
			ev = logger.Logger.Error()
		}
		ev.Str("event", "http_request").
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("ip", c.ClientIP()).
			Str("user", Caller(c)).
			Msg("request handled")
	}
}

// ============================================================================
// Security Headers Middleware
// ============================================================================

// SecurityHeadersMiddleware sets conservative response headers.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Cache-Control", "no-store")
		h.Set("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

// ============================================================================
// Recovery Middleware
// ============================================================================

// RecoveryMiddleware turns handler panics into 500 responses.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Logger.Error().
					Str("event", "panic_recovered").
					Str("method", c.Request.Method).
					Str("path", c.Request.URL.Path).
					Interface("panic", err).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")
				abortError(c, http.StatusInternalServerError, "internal server error")
			}
		}()
		c.Next()
	}
}
