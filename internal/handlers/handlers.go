// Package handlers exposes the HTTP surface: the OAuth2 login flow,
// token status and revocation, and operational status endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "apibridge/internal/common/errors"
	"apibridge/internal/common/logging"
)

// Handlers bundles the components the HTTP surface needs.
type Handlers struct {
	auth      AuthManager
	client    UpstreamClient
	scheduler SchedulerControl
	logger    logging.Logger
}

// New creates the handler set.
func New(auth AuthManager, client UpstreamClient, sched SchedulerControl) *Handlers {
	return &Handlers{
		auth:      auth,
		client:    client,
		scheduler: sched,
		logger:    logging.GetGlobalLogger().WithFields(logging.String("component", "handlers")),
	}
}

func (h *Handlers) sendJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// sendJSONError logs the internal error and returns a client-safe
// message.
func (h *Handlers) sendJSONError(w http.ResponseWriter, err error, logMsg, clientMsg string, status int) {
	if err != nil {
		h.logger.Error(logMsg, err)
	} else if logMsg != "" {
		h.logger.Warn(logMsg)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": clientMsg})
}

// statusForError maps domain errors onto HTTP statuses.
func statusForError(err error) int {
	var reqErr *apperrors.RequestError
	var refreshErr *apperrors.TokenRefreshError
	switch {
	case apperrors.IsNoToken(err), apperrors.IsAuthFailure(err):
		return http.StatusUnauthorized
	case errors.As(err, &refreshErr):
		// Stored token can no longer be refreshed; a new login is needed.
		return http.StatusUnauthorized
	case apperrors.IsLimiterCleared(err):
		return http.StatusServiceUnavailable
	case errors.As(err, &reqErr):
		if reqErr.StatusCode == http.StatusTooManyRequests {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}
