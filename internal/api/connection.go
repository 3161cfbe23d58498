package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/events"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/hub"
)

// StatusResponse is returned by GET /api/status
type StatusResponse struct {
	Status    hub.Status `json:"status"`
	Connected bool       `json:"connected"`
	Broker    string     `json:"broker,omitempty"`
	Version   uint64     `json:"version"`
}

// Status handles GET /api/status
func (h *DashboardHandler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.hub.Snapshot()
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:    snap.Status,
		Connected: snap.Connected(),
		Broker:    snap.Broker,
		Version:   snap.Version,
	})
}

// Connect handles POST /api/connection
// Fields missing from the body fall back to the configured defaults.
func (h *DashboardHandler) Connect(w http.ResponseWriter, r *http.Request) {
	cfg := h.connDefaults
	cfg.ClientID = ""

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := decodeOptionalJSON(r.Body, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.hub.Connect(r.Context(), cfg)
	broker := cfg.WithDefaults().BrokerURL()
	h.eventStore.Add(events.EventConnect, username(r), getClientIP(r), err == nil, broker)
	if err != nil {
		writeHubError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"broker":  broker,
		"status":  h.hub.Snapshot().Status,
	})
}

// Disconnect handles DELETE /api/connection
func (h *DashboardHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.Disconnect(r.Context()); err != nil {
		writeHubError(w, err)
		return
	}
	h.eventStore.Add(events.EventDisconnect, username(r), getClientIP(r), true, "")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  h.hub.Snapshot().Status,
	})
}

// ConnectionDefaults handles GET /api/connection/defaults
func (h *DashboardHandler) ConnectionDefaults(w http.ResponseWriter, r *http.Request) {
	defaults := h.connDefaults.Redacted()
	defaults.ClientID = hub.NewClientID()
	defaults = defaults.WithDefaults()

	resp := map[string]interface{}{
		"defaults": defaults,
		"ports": map[string]int{
			hub.SchemeWS:  hub.DefaultPort(hub.SchemeWS),
			hub.SchemeWSS: hub.DefaultPort(hub.SchemeWSS),
			hub.SchemeTCP: hub.DefaultPort(hub.SchemeTCP),
			hub.SchemeSSL: hub.DefaultPort(hub.SchemeSSL),
		},
	}
	if saved, ok := h.hub.SavedConnection(); ok {
		resp["saved"] = saved
	}

	writeJSON(w, http.StatusOK, resp)
}

// decodeOptionalJSON decodes body into v, treating an empty body as "no overrides"
func decodeOptionalJSON(body io.Reader, v any) error {
	err := json.NewDecoder(body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("invalid request body: %w", err)
}
