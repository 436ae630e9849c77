package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"apibridge/internal/common/logging"
	"apibridge/internal/ratelimit"
)

// priorityHeader lets callers hint how urgent a proxied request is.
const priorityHeader = "X-Priority"

func priorityFrom(r *http.Request) int {
	switch strings.ToLower(r.Header.Get(priorityHeader)) {
	case "high":
		return ratelimit.PriorityHigh
	case "low":
		return ratelimit.PriorityLow
	default:
		return ratelimit.PriorityNormal
	}
}

// Proxy forwards a request to the upstream API through the rate limiter
// and token machinery, returning the upstream JSON as-is.
func (h *Handlers) Proxy(w http.ResponseWriter, r *http.Request) {
	endpoint := "/" + mux.Vars(r)["path"]
	if r.URL.RawQuery != "" {
		endpoint += "?" + r.URL.RawQuery
	}

	var body interface{}
	if r.Body != nil && r.ContentLength != 0 {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			h.sendJSONError(w, err, "Failed to read proxy request body",
				"Failed to read request body", http.StatusBadRequest)
			return
		}
		if len(raw) > 0 {
			if !json.Valid(raw) {
				h.sendJSONError(w, nil, "Proxy request body is not JSON",
					"Request body must be JSON", http.StatusBadRequest)
				return
			}
			body = json.RawMessage(raw)
		}
	}

	var out json.RawMessage
	err := h.client.RequestWithPriority(r.Context(), r.Method, endpoint, body, &out, priorityFrom(r))
	if err != nil {
		h.logger.Warn("Proxied request failed",
			logging.String("endpoint", endpoint),
			logging.Err(err),
		)
		h.sendJSONError(w, nil, "", err.Error(), statusForError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if len(out) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Write(out)
}
