package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/events"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/telemetry"
)

// SensorsResponse is returned by GET /api/sensors
type SensorsResponse struct {
	Current          telemetry.SensorReading `json:"current"`
	HasData          bool                    `json:"hasData"`
	TemperatureLevel string                  `json:"temperatureLevel,omitempty"`
	HumidityLevel    string                  `json:"humidityLevel,omitempty"`
	Averages         telemetry.Averages      `json:"averages24h"`
	HistoryLength    int                     `json:"historyLength"`
}

// BrightnessRequest is the body of POST /api/devices/{id}/brightness
type BrightnessRequest struct {
	Brightness *float64 `json:"brightness"`
}

// Sensors handles GET /api/sensors
func (h *DashboardHandler) Sensors(w http.ResponseWriter, r *http.Request) {
	s := h.hub.Snapshot().Sensors

	resp := SensorsResponse{
		Current:       s.Current,
		HasData:       s.Current.HasRealData(),
		Averages:      telemetry.WindowAverages(s.History, h.now(), averageWindow),
		HistoryLength: len(s.History),
	}
	if resp.HasData {
		resp.TemperatureLevel = telemetry.TemperatureLevel(s.Current.Temperature)
		resp.HumidityLevel = telemetry.HumidityLevel(s.Current.Humidity)
	}

	writeJSON(w, http.StatusOK, resp)
}

// SensorHistory handles GET /api/sensors/history?limit=
func (h *DashboardHandler) SensorHistory(w http.ResponseWriter, r *http.Request) {
	history := h.hub.Snapshot().Sensors.History
	if n := queryInt(r, "limit", telemetry.HistoryCapacity, telemetry.HistoryCapacity); n < len(history) {
		history = history[len(history)-n:]
	}
	if history == nil {
		history = []telemetry.SensorReading{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

// Devices handles GET /api/devices
func (h *DashboardHandler) Devices(w http.ResponseWriter, r *http.Request) {
	snap := h.hub.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices":       snap.Devices,
		"commandFormat": snap.CommandFormat,
	})
}

// ToggleDevice handles POST /api/devices/{id}/toggle
func (h *DashboardHandler) ToggleDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	device, err := h.hub.ToggleDevice(r.Context(), id)
	details := id
	if err == nil {
		details = fmt.Sprintf("%s -> %v", id, onOff(device.Status))
	}
	h.eventStore.Add(events.EventToggle, username(r), getClientIP(r), err == nil, details)
	if err != nil {
		writeHubError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"device": device})
}

// SetBrightness handles POST /api/devices/{id}/brightness
func (h *DashboardHandler) SetBrightness(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req BrightnessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Brightness == nil {
		writeError(w, http.StatusBadRequest, "brightness is required")
		return
	}

	device, err := h.hub.SetBrightness(r.Context(), id, *req.Brightness)
	h.eventStore.Add(events.EventBrightness, username(r), getClientIP(r), err == nil,
		fmt.Sprintf("%s -> %g%%", id, *req.Brightness))
	if err != nil {
		writeHubError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"device": device})
}

// Topics handles GET /api/topics
func (h *DashboardHandler) Topics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"topics":   h.hub.Snapshot().Topics,
		"defaults": telemetry.DefaultTopicSettings(h.namespace),
	})
}

// UpdateTopics handles PUT /api/topics
// New patterns apply to messages received afterwards; subscriptions are left as they are.
func (h *DashboardHandler) UpdateTopics(w http.ResponseWriter, r *http.Request) {
	var req telemetry.TopicSettings
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.hub.UpdateTopicSettings(r.Context(), req)
	h.eventStore.Add(events.EventTopicsSaved, username(r), getClientIP(r), err == nil, "")
	if err != nil {
		writeHubError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"topics": h.hub.Snapshot().Topics})
}

// ResetTopics handles POST /api/topics/reset
func (h *DashboardHandler) ResetTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.hub.ResetTopicSettings(r.Context())
	h.eventStore.Add(events.EventTopicsReset, username(r), getClientIP(r), err == nil, "")
	if err != nil {
		writeHubError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"topics": topics})
}

func onOff(status bool) string {
	if status {
		return "ON"
	}
	return "OFF"
}
