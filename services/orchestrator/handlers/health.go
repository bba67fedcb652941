// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// healthCheckTimeout bounds the component probes so a hung dependency
// cannot stall the health endpoint.
const healthCheckTimeout = 5 * time.Second

// Overall and per-component health states.
const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"

	componentUp       = "up"
	componentDown     = "down"
	componentDisabled = "disabled"
)

// ReadinessProber is the slice of the vector layer the health endpoint
// uses.
type ReadinessProber interface {
	Ready(ctx context.Context) error
}

// componentHealth is one entry in the health response's component map.
type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version"`
	Components map[string]componentHealth `json:"components"`
}

// HealthHandler reports service health with per-component checks.
//
// The database is load-bearing: when it is down the service is
// unhealthy and the endpoint returns 503. Weaviate is optional; when it
// is configured but unreachable the service reports degraded with 200,
// matching the indexer's ability to run without it.
type HealthHandler struct {
	db      *sql.DB
	vectors ReadinessProber
	version string
}

// NewHealthHandler creates a HealthHandler. vectors may be nil when the
// deployment runs without Weaviate. Panics if db is nil.
func NewHealthHandler(db *sql.DB, vectors ReadinessProber, version string) *HealthHandler {
	if db == nil {
		panic("NewHealthHandler: db must not be nil")
	}
	if version == "" {
		version = "dev"
	}
	return &HealthHandler{db: db, vectors: vectors, version: version}
}

// HandleHealth probes each component and reports the combined state.
//
// GET /health
func (h *HealthHandler) HandleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:     healthStatusHealthy,
		Version:    h.version,
		Components: map[string]componentHealth{},
	}
	httpStatus := http.StatusOK

	if err := h.db.PingContext(ctx); err != nil {
		resp.Components["database"] = componentHealth{Status: componentDown, Error: err.Error()}
		resp.Status = healthStatusUnhealthy
		httpStatus = http.StatusServiceUnavailable
	} else {
		resp.Components["database"] = componentHealth{Status: componentUp}
	}

	switch {
	case h.vectors == nil:
		resp.Components["weaviate"] = componentHealth{Status: componentDisabled}
	default:
		if err := h.vectors.Ready(ctx); err != nil {
			resp.Components["weaviate"] = componentHealth{Status: componentDown, Error: err.Error()}
			if resp.Status == healthStatusHealthy {
				resp.Status = healthStatusDegraded
			}
		} else {
			resp.Components["weaviate"] = componentHealth{Status: componentUp}
		}
	}

	c.JSON(httpStatus, resp)
}
