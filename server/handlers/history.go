package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HistoryHandler handles requests for the run history.
type HistoryHandler struct {
	provider HistoryProvider
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(provider HistoryProvider) *HistoryHandler {
	return &HistoryHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.History())
}

// HistoryRunHandler returns a single past run, including the device logs
// captured during it. The run is taken from the {id} route parameter.
type HistoryRunHandler struct {
	provider HistoryProvider
}

// NewHistoryRunHandler creates a new HistoryRunHandler.
func NewHistoryRunHandler(provider HistoryProvider) *HistoryRunHandler {
	return &HistoryRunHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *HistoryRunHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, ok := h.provider.HistoryRun(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("no run with id %q", id)})
		return
	}
	writeJSON(w, http.StatusOK, run)
}
