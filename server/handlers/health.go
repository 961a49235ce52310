package handlers

import (
	"net/http"
	"time"

	"github.com/nomis52/dpm/buildinfo"
)

// ServerProperties holds metadata about the running server instance.
type ServerProperties struct {
	Build     buildinfo.Properties `json:"build"`
	StartedAt time.Time            `json:"started_at"`
	Hostname  string               `json:"hostname"`
}

// HealthResponse is the JSON response for /health.
type HealthResponse struct {
	Status string `json:"status"`
	ServerProperties
}

// HealthHandler reports that the server is up.
type HealthHandler struct {
	props ServerProperties
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(props ServerProperties) *HealthHandler {
	return &HealthHandler{props: props}
}

// ServeHTTP implements http.Handler.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "ok",
		ServerProperties: h.props,
	})
}
