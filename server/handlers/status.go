package handlers

import (
	"net/http"
	"time"

	"github.com/nomis52/dpm/server/runner"
)

// NextRunResponse is the JSON response for the next run information.
type NextRunResponse struct {
	Scheduled bool       `json:"scheduled"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// StatusResponse is the consolidated response for /api/status.
type StatusResponse struct {
	InTransition bool             `json:"in_transition"`
	Run          runner.RunStatus `json:"run"`
	NextRun      NextRunResponse  `json:"next_run"`
}

// StatusHandler handles requests for the consolidated status endpoint.
type StatusHandler struct {
	provider StatusProvider
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(provider StatusProvider) *StatusHandler {
	return &StatusHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		InTransition: h.provider.InTransition(),
		Run:          h.provider.Status(),
	}
	if next, msg, ok := h.provider.NextRun(); ok {
		resp.NextRun = NextRunResponse{
			Scheduled: true,
			NextRun:   &next,
			Message:   msg.String(),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
