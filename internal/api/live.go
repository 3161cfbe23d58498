package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/auth"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/hub"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// initialMessages is how many log entries the first frame carries
	initialMessages = 50
)

// LiveObserver is told when live clients come and go. *metrics.Metrics implements it.
type LiveObserver interface {
	LiveClientConnected()
	LiveClientDisconnected()
}

// LiveFrame is pushed to websocket clients whenever the hub state changes.
// Messages holds only the log entries newer than the previous frame.
type LiveFrame struct {
	Type          string                `json:"type"`
	Snapshot      *hub.Snapshot         `json:"snapshot"`
	Messages      []hub.MessageLogEntry `json:"messages"`
	LastID        int64                 `json:"lastId"`
	TotalMessages int                   `json:"totalMessages"`
}

// LiveHandler streams hub snapshots over a websocket
type LiveHandler struct {
	hub          Dashboard
	wsTokenStore *auth.WSTokenStore
	observer     LiveObserver
	logger       zerolog.Logger
	upgrader     websocket.Upgrader
}

// NewLiveHandler creates new live handler. observer may be nil.
func NewLiveHandler(d Dashboard, wsTokenStore *auth.WSTokenStore, observer LiveObserver, logger zerolog.Logger) *LiveHandler {
	h := &LiveHandler{
		hub:          d,
		wsTokenStore: wsTokenStore,
		observer:     observer,
		logger:       logger,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// checkOrigin validates the one-time ws_token in place of an origin check
func (h *LiveHandler) checkOrigin(r *http.Request) bool {
	token := r.URL.Query().Get("ws_token")
	if token == "" {
		h.logger.Warn().Str("ip", getClientIP(r)).Msg("websocket rejected: missing ws_token")
		return false
	}

	user, valid := h.wsTokenStore.Validate(token)
	if !valid {
		h.logger.Warn().Str("ip", getClientIP(r)).Msg("websocket rejected: invalid or expired ws_token")
		return false
	}

	h.logger.Debug().Str("user", user).Msg("websocket authorized")
	return true
}

// Stream handles GET /api/live
func (h *LiveHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.Close()

	log := h.logger.With().Str("session", uuid.NewString()).Str("ip", getClientIP(r)).Logger()
	log.Info().Msg("live client connected")
	if h.observer != nil {
		h.observer.LiveClientConnected()
		defer h.observer.LiveClientDisconnected()
	}

	changed, stop := h.hub.Watch()
	defer stop()

	// The reader only exists to notice the client going away and to process pongs.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		ws.SetReadLimit(512)
		ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snap := h.hub.Snapshot()
	frame := LiveFrame{
		Type:          "snapshot",
		Snapshot:      snap,
		Messages:      snap.LastMessages(initialMessages),
		LastID:        snap.LastMessageID(),
		TotalMessages: len(snap.Messages),
	}
	if err := h.write(ws, frame); err != nil {
		return
	}
	cursor := frame.LastID

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Info().Msg("live client disconnected")
			return
		case <-r.Context().Done():
			return
		case <-changed:
			snap := h.hub.Snapshot()
			frame := LiveFrame{
				Type:          "update",
				Snapshot:      snap,
				Messages:      snap.MessagesSince(cursor),
				LastID:        snap.LastMessageID(),
				TotalMessages: len(snap.Messages),
			}
			// message ids keep growing after a clear, so never move the cursor back
			if frame.LastID > cursor {
				cursor = frame.LastID
			}
			if err := h.write(ws, frame); err != nil {
				log.Debug().Err(err).Msg("live write failed")
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *LiveHandler) write(ws *websocket.Conn, frame LiveFrame) error {
	if frame.Messages == nil {
		frame.Messages = []hub.MessageLogEntry{}
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(frame)
}
