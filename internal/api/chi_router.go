// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pawlink/pawlink/internal/config"
)

// Router assembles the handler and middleware into the HTTP surface.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router from the handler and security configuration.
func NewRouter(handler *Handler, security config.SecurityConfig) *Router {
	mwConfig := DefaultChiMiddlewareConfig()
	mwConfig.CORSAllowedOrigins = security.CORSOrigins
	mwConfig.RateLimitRequests = security.RateLimitReqs
	mwConfig.RateLimitWindow = security.RateLimitWindow
	mwConfig.RateLimitDisabled = security.RateLimitDisabled

	return &Router{
		handler:       handler,
		chiMiddleware: NewChiMiddleware(mwConfig),
	}
}

// SetupChi configures all HTTP routes using Chi router.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order. CORS must be
	// global to handle OPTIONS preflight.
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	// Health endpoints get permissive rate limiting so monitors can poll
	// frequently.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
		r.Get("/", router.handler.Health)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())

		r.Get("/ws", router.handler.WebSocket)
		r.Get("/entities", router.handler.Entities)
		r.Get("/entities/{id}", router.handler.Entity)
	})

	// Prometheus scrape endpoint, outside the API rate limits.
	r.Handle("/metrics", promhttp.Handler())

	return r
}
