// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires handlers into the gin router. It owns the URL
// layout and the middleware placement; the handlers themselves stay
// path-agnostic.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/auth"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/handlers"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/middleware"
)

// Deps carries everything Setup mounts. Health and the auth trio are
// mandatory; the rest may be nil and their routes are skipped, which
// keeps partial wiring possible in tests.
type Deps struct {
	Auth     *handlers.AuthHandler
	Chat     handlers.ChatHandler
	Sessions *handlers.SessionHandler
	Files    *handlers.FileHandler
	Health   *handlers.HealthHandler

	// Tokens guards every route under /api/v1 except the public auth
	// endpoints.
	Tokens auth.AuthProvider

	// RateLimit, when non-nil, throttles the chat endpoints only. List
	// and CRUD traffic is cheap; LLM turns are not.
	RateLimit *middleware.RateLimiter

	// Metrics exposes the Prometheus endpoint when true.
	Metrics bool
}

// Setup registers every route on the router.
//
// Layout:
//
//	GET  /health
//	GET  /metrics                      (when Metrics)
//	POST /api/v1/auth/register         public
//	POST /api/v1/auth/login            public
//	POST /api/v1/auth/refresh          public
//	POST /api/v1/auth/logout           bearer
//	GET  /api/v1/auth/me               bearer
//	POST /api/v1/chat                  bearer, rate limited
//	POST /api/v1/chat/stream           bearer, rate limited
//	     /api/v1/sessions...           bearer
//	     /api/v1/files...              bearer
func Setup(router *gin.Engine, deps Deps) {
	if deps.Health != nil {
		router.GET("/health", deps.Health.HandleHealth)
	}
	if deps.Metrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	requireAuth := middleware.AuthMiddleware(deps.Tokens)

	v1 := router.Group("/api/v1")
	{
		if deps.Auth != nil {
			authGroup := v1.Group("/auth")
			{
				authGroup.POST("/register", deps.Auth.HandleRegister)
				authGroup.POST("/login", deps.Auth.HandleLogin)
				authGroup.POST("/refresh", deps.Auth.HandleRefresh)

				protected := authGroup.Group("")
				protected.Use(requireAuth)
				{
					protected.POST("/logout", deps.Auth.HandleLogout)
					protected.GET("/me", deps.Auth.HandleMe)
				}
			}
		}

		if deps.Chat != nil {
			chat := v1.Group("/chat")
			chat.Use(requireAuth)
			if deps.RateLimit != nil {
				chat.Use(deps.RateLimit.Middleware())
			}
			{
				chat.POST("", deps.Chat.HandleChat)
				chat.POST("/stream", deps.Chat.HandleChatStream)
			}
		}

		if deps.Sessions != nil {
			sessions := v1.Group("/sessions")
			sessions.Use(requireAuth)
			{
				sessions.GET("", deps.Sessions.HandleList)
				sessions.POST("", deps.Sessions.HandleCreate)
				sessions.GET("/:id", deps.Sessions.HandleGet)
				sessions.PATCH("/:id", deps.Sessions.HandleUpdate)
				sessions.DELETE("/:id", deps.Sessions.HandleDelete)
				sessions.GET("/:id/messages", deps.Sessions.HandleMessages)
			}
		}

		if deps.Files != nil {
			files := v1.Group("/files")
			files.Use(requireAuth)
			{
				files.POST("/upload", deps.Files.HandleUpload)
				files.GET("", deps.Files.HandleList)
				files.GET("/:id", deps.Files.HandleGet)
				files.DELETE("/:id", deps.Files.HandleDelete)
			}
		}
	}
}
