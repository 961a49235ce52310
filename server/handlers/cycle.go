package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nomis52/dpm/pm"
	"github.com/nomis52/dpm/server/runner"
)

// CycleRequest is the optional request body for POST /api/cycle.
type CycleRequest struct {
	// Message overrides the configured sleep message.
	Message string `json:"message"`
}

// CycleHandler handles requests to start a power cycle.
type CycleHandler struct {
	runner CycleRunner
}

// NewCycleHandler creates a new CycleHandler.
func NewCycleHandler(r CycleRunner) *CycleHandler {
	return &CycleHandler{
		runner: r,
	}
}

// ServeHTTP implements http.Handler.
func (h *CycleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req CycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid JSON: %v", err),
		})
		return
	}

	var err error
	if req.Message == "" {
		err = h.runner.Run()
	} else {
		var msg pm.Message
		msg, err = pm.ParseMessage(req.Message)
		if err == nil {
			err = h.runner.RunWith(msg)
		}
	}

	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, runner.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
}
