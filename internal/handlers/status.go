package handlers

import (
	"encoding/json"
	"net/http"

	"apibridge/internal/circuitbreaker"
	"apibridge/internal/ratelimit"
	"apibridge/internal/scheduler"
)

// APIStatusResponse aggregates the operational state of the bridge.
type APIStatusResponse struct {
	Authenticated bool                 `json:"authenticated"`
	RateLimit     ratelimit.Stats      `json:"rate_limit"`
	Breaker       circuitbreaker.Stats `json:"breaker"`
	Scheduler     scheduler.Status     `json:"scheduler"`
}

// APIStatus reports rate limiter, circuit breaker and scheduler state.
func (h *Handlers) APIStatus(w http.ResponseWriter, r *http.Request) {
	h.sendJSONResponse(w, APIStatusResponse{
		Authenticated: h.auth.IsAuthenticated(r.Context()),
		RateLimit:     h.client.RateLimitStats(),
		Breaker:       h.client.BreakerStats(),
		Scheduler:     h.scheduler.Status(),
	})
}

// ForceRefresh triggers an immediate background token refresh pass.
func (h *Handlers) ForceRefresh(w http.ResponseWriter, r *http.Request) {
	ok := h.scheduler.ForceRefresh()
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusBadGateway)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"refreshed": ok,
		"scheduler": h.scheduler.Status(),
	})
}

// HealthCheck reports process liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.sendJSONResponse(w, map[string]string{"status": "ok"})
}
