package app

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"apibridge/internal/handlers"
	"apibridge/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application.
func SetupRoutes(router *mux.Router, h *handlers.Handlers) {
	router.Use(middleware.LoggingMiddleware)

	// OAuth2 flow
	router.HandleFunc("/auth/login", h.Login).Methods("GET")
	router.HandleFunc("/auth/callback", h.Callback).Methods("GET")
	router.HandleFunc("/auth/status", h.AuthStatus).Methods("GET")
	router.HandleFunc("/auth/revoke", h.RevokeToken).Methods("POST")

	// Upstream passthrough
	router.HandleFunc("/api/proxy/{path:.*}", h.Proxy)

	// Operational endpoints
	router.HandleFunc("/api/status", h.APIStatus).Methods("GET")
	router.HandleFunc("/api/refresh", h.ForceRefresh).Methods("POST")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}
