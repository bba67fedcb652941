// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// limiterIdleTTL is how long an unused per-client limiter survives
	// before the cleanup pass drops it.
	limiterIdleTTL = 10 * time.Minute

	// limiterCleanupInterval is how often stale limiters are swept.
	limiterCleanupInterval = time.Minute
)

// =============================================================================
// Struct Definition
// =============================================================================

// RateLimiter throttles requests per client IP using token buckets.
//
// # Description
//
// Each client IP gets its own rate.Limiter created on first use. A
// background sweep drops limiters idle longer than limiterIdleTTL so the
// map does not grow unbounded under IP churn.
//
// # Thread Safety
//
// Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
}

// =============================================================================
// Constructor
// =============================================================================

// NewRateLimiter builds a per-IP limiter allowing rps sustained requests
// per second with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		rps:        rate.Limit(rps),
		burst:      burst,
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
	}
	go rl.cleanupLoop()
	return rl
}

// =============================================================================
// Methods
// =============================================================================

// Middleware returns the Gin handler enforcing the limit. Over-limit
// requests get 429 with a Retry-After hint.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	limiter, ok := rl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[key] = limiter
	}
	rl.lastAccess[key] = time.Now()
	rl.mu.Unlock()

	return limiter.Allow()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-limiterIdleTTL)
		rl.mu.Lock()
		for key, last := range rl.lastAccess {
			if last.Before(cutoff) {
				delete(rl.limiters, key)
				delete(rl.lastAccess, key)
			}
		}
		rl.mu.Unlock()
	}
}
