package handlers

import (
	"net/http"
	"time"

	"apibridge/internal/common/logging"
)

// AuthStatusResponse describes the stored token without exposing it.
type AuthStatusResponse struct {
	Authenticated bool       `json:"authenticated"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Scope         string     `json:"scope,omitempty"`
	Valid         *bool      `json:"valid,omitempty"`
}

// Login starts the OAuth2 flow. It returns the provider authorization
// URL as JSON; ?redirect=true sends a 302 instead for browser flows.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var scopes []string
	if scope := r.URL.Query().Get("scope"); scope != "" {
		scopes = []string{scope}
	}

	authURL, err := h.auth.GenerateAuthURL(scopes...)
	if err != nil {
		h.sendJSONError(w, err, "Failed to generate authorization URL",
			"Failed to start login flow", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("redirect") == "true" {
		http.Redirect(w, r, authURL.URL, http.StatusFound)
		return
	}
	h.sendJSONResponse(w, authURL)
}

// Callback completes the OAuth2 flow with the code and state the
// provider sent back.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if provErr := query.Get("error"); provErr != "" {
		h.sendJSONError(w, nil, "Provider returned error on callback: "+provErr,
			"Authorization was denied", http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		h.sendJSONError(w, nil, "Callback missing code or state",
			"Missing code or state parameter", http.StatusBadRequest)
		return
	}

	rec, err := h.auth.ExchangeCode(r.Context(), code, state)
	if err != nil {
		h.sendJSONError(w, err, "Code exchange failed",
			"Failed to complete login", http.StatusBadRequest)
		return
	}

	h.logger.Info("Login completed", logging.Time("expires_at", rec.ExpiresAt))
	h.sendJSONResponse(w, AuthStatusResponse{
		Authenticated: true,
		ExpiresAt:     &rec.ExpiresAt,
		Scope:         rec.Scope,
	})
}

// AuthStatus reports whether a token is stored and when it expires.
// ?validate=true additionally probes the upstream with the token.
func (h *Handlers) AuthStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := h.auth.TokenInfo(r.Context())
	if err != nil {
		h.sendJSONError(w, err, "Failed to read token record",
			"Failed to read authentication status", http.StatusInternalServerError)
		return
	}

	resp := AuthStatusResponse{Authenticated: rec != nil}
	if rec != nil {
		resp.ExpiresAt = &rec.ExpiresAt
		resp.Scope = rec.Scope
	}
	if r.URL.Query().Get("validate") == "true" {
		valid := h.auth.ValidateToken(r.Context())
		resp.Valid = &valid
	}
	h.sendJSONResponse(w, resp)
}

// RevokeToken revokes the stored token. Local state is always cleared,
// so revoke never fails because the provider is down.
func (h *Handlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Revoke(r.Context()); err != nil {
		h.sendJSONError(w, err, "Failed to revoke token",
			"Failed to revoke token", http.StatusInternalServerError)
		return
	}
	h.sendJSONResponse(w, map[string]bool{"revoked": true})
}
