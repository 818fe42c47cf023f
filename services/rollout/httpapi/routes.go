// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers all rollout routes with the router.
//
// Description:
//
//	Registers all /v1/rollout/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET  /v1/rollout/health - Health check
//	GET  /v1/rollout/experiments - List experiment statuses
//	POST /v1/rollout/experiments - Create or overwrite an experiment
//	GET  /v1/rollout/experiments/:name - Experiment status
//	POST /v1/rollout/experiments/:name/pause - Disable
//	POST /v1/rollout/experiments/:name/resume - Re-enable
//	PUT  /v1/rollout/experiments/:name/force - Pin or clear a variant
//	GET  /v1/rollout/experiments/:name/analysis - Analyze and recommend
//	POST /v1/rollout/decide - Route one request
//	POST /v1/rollout/record - Record one observation
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rollout := rg.Group("/rollout")
	{
		rollout.GET("/health", handlers.HandleHealth)

		experiments := rollout.Group("/experiments")
		{
			experiments.GET("", handlers.HandleList)
			experiments.POST("", handlers.HandleCreate)
			experiments.GET("/:name", handlers.HandleStatus)
			experiments.POST("/:name/pause", handlers.HandlePause)
			experiments.POST("/:name/resume", handlers.HandleResume)
			experiments.PUT("/:name/force", handlers.HandleForce)
			experiments.GET("/:name/analysis", handlers.HandleAnalyze)
		}

		rollout.POST("/decide", handlers.HandleDecide)
		rollout.POST("/record", handlers.HandleRecord)
	}
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName names the server in traces.
	ServiceName string

	// Metrics is served at /metrics when non-nil.
	Metrics http.Handler

	// RateLimitRPS limits requests per client IP under /v1. Zero disables
	// limiting.
	RateLimitRPS float64

	// RateLimitBurst is the per-client burst size.
	RateLimitBurst int
}

// NewRouter builds a gin engine with recovery, tracing middleware, optional
// per-client rate limiting, and the rollout routes under /v1.
func NewRouter(cfg RouterConfig, handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	v1 := router.Group("/v1")
	if cfg.RateLimitRPS > 0 {
		v1.Use(RateLimit(NewClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)))
	}
	RegisterRoutes(v1, handlers)
	return router
}
