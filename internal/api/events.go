package api

import (
	"net/http"
	"strconv"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/events"
)

// EventsHandler handles the audit log endpoint
type EventsHandler struct {
	store *events.Store
}

// NewEventsHandler creates new events handler
func NewEventsHandler(store *events.Store) *EventsHandler {
	return &EventsHandler{store: store}
}

// List returns audit events, newest first
// GET /api/events?limit=50&since=123
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	var list []events.Event
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		sinceID, err := strconv.ParseInt(sinceStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an event id")
			return
		}
		list = h.store.GetSince(sinceID)
	} else {
		list = h.store.GetLast(queryInt(r, "limit", 50, 100))
	}
	if list == nil {
		list = []events.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": list,
		"lastId": h.store.LastID(),
	})
}
