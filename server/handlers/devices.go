package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nomis52/dpm/logging"
)

// DevicesHandler lists the registered devices in sequence order.
type DevicesHandler struct {
	devices DeviceProvider
}

// NewDevicesHandler creates a new DevicesHandler.
func NewDevicesHandler(devices DeviceProvider) *DevicesHandler {
	return &DevicesHandler{devices: devices}
}

// ServeHTTP implements http.Handler.
func (h *DevicesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.devices.Devices())
}

// DeviceLogsHandler returns the log lines captured for one device. The
// device is taken from the {name} route parameter.
type DeviceLogsHandler struct {
	devices DeviceProvider
	logs    LogProvider
}

// NewDeviceLogsHandler creates a new DeviceLogsHandler.
func NewDeviceLogsHandler(devices DeviceProvider, logs LogProvider) *DeviceLogsHandler {
	return &DeviceLogsHandler{devices: devices, logs: logs}
}

// ServeHTTP implements http.Handler.
func (h *DeviceLogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.known(name) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: fmt.Sprintf("unknown device %q", name),
		})
		return
	}

	logs := h.logs.GetLogs(name)
	if logs == nil {
		logs = []logging.LogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *DeviceLogsHandler) known(name string) bool {
	for _, d := range h.devices.Devices() {
		if d.Name == name {
			return true
		}
	}
	return false
}
