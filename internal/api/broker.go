package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/events"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/hub"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/storage"
)

// SubscribeRequest is the body of POST /api/subscriptions
type SubscribeRequest struct {
	Topic string `json:"topic"`
	QoS   byte   `json:"qos"`
}

// PublishRequest is the body of POST /api/publish
type PublishRequest struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
	QoS     byte   `json:"qos"`
	Retain  bool   `json:"retain"`
}

// Subscriptions handles GET /api/subscriptions
func (h *DashboardHandler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscriptions": h.hub.Snapshot().Subscriptions,
	})
}

// Subscribe handles POST /api/subscriptions
// The subscription shows up in the list once the broker acknowledges it.
func (h *DashboardHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.hub.Subscribe(r.Context(), req.Topic, req.QoS)
	h.eventStore.Add(events.EventSubscribe, username(r), getClientIP(r), err == nil,
		fmt.Sprintf("%s (qos %d)", req.Topic, req.QoS))
	if err != nil {
		writeHubError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"success": true, "topic": req.Topic})
}

// Unsubscribe handles DELETE /api/subscriptions?topic=
func (h *DashboardHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")

	err := h.hub.Unsubscribe(r.Context(), topic)
	h.eventStore.Add(events.EventUnsubscribe, username(r), getClientIP(r), err == nil, topic)
	if err != nil {
		writeHubError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"success": true, "topic": topic})
}

// Publish handles POST /api/publish
func (h *DashboardHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.hub.Publish(r.Context(), req.Topic, []byte(req.Payload), req.QoS, req.Retain)
	h.eventStore.Add(events.EventPublish, username(r), getClientIP(r), err == nil,
		fmt.Sprintf("%s (qos %d, retain %v)", req.Topic, req.QoS, req.Retain))
	if err != nil {
		writeHubError(w, err)
		return
	}

	h.recordPublish(req)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// recordPublish appends to the recent publish list; failures are only logged
func (h *DashboardHandler) recordPublish(req PublishRequest) {
	if h.publishes == nil {
		return
	}

	rec := storage.PublishRecord{
		Topic:     req.Topic,
		Payload:   req.Payload,
		QoS:       req.QoS,
		Retained:  req.Retain,
		Timestamp: h.now(),
	}
	if err := h.publishes.SavePublish(rec); err != nil {
		h.logger.Warn().Err(err).Str("topic", req.Topic).Msg("failed to save publish history")
		return
	}
	if err := h.publishes.TrimPublishHistory(publishHistorySize); err != nil {
		h.logger.Warn().Err(err).Msg("failed to trim publish history")
	}
}

// PublishHistory handles GET /api/publish/history
func (h *DashboardHandler) PublishHistory(w http.ResponseWriter, r *http.Request) {
	records := []storage.PublishRecord{}
	if h.publishes != nil {
		var err error
		records, err = h.publishes.PublishHistory(queryInt(r, "limit", publishHistorySize, publishHistorySize))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to read publish history")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"publishes": records})
}

// Messages handles GET /api/messages?limit=100&since=42
// Messages are returned oldest first; lastId is the cursor for the next poll.
func (h *DashboardHandler) Messages(w http.ResponseWriter, r *http.Request) {
	snap := h.hub.Snapshot()

	var msgs []hub.MessageLogEntry
	if since := r.URL.Query().Get("since"); since != "" {
		id, err := strconv.ParseInt(since, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be a message id")
			return
		}
		msgs = snap.MessagesSince(id)
	} else {
		msgs = snap.LastMessages(queryInt(r, "limit", 100, 1000))
	}
	if msgs == nil {
		msgs = []hub.MessageLogEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"lastId":   snap.LastMessageID(),
		"total":    len(snap.Messages),
	})
}

// ClearMessages handles DELETE /api/messages
func (h *DashboardHandler) ClearMessages(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.ClearLog(r.Context()); err != nil {
		writeHubError(w, err)
		return
	}
	h.eventStore.Add(events.EventLogCleared, username(r), getClientIP(r), true, "")

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
