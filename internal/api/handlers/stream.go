package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Harshitk-cp/resona/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsReadLimit  = 4096
	sseEventName = "state"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamHandler serves the live feed over SSE and WebSocket. Both transports
// are thin adapters over a broadcaster subscription.
type StreamHandler struct {
	feed   *service.Broadcaster
	logger *zap.Logger
}

func NewStreamHandler(feed *service.Broadcaster, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{feed: feed, logger: logger}
}

func (h *StreamHandler) SSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	sub, err := h.feed.Subscribe(sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("sse subscriber connected", zap.String("session_id", sessionID))
	for {
		select {
		case <-r.Context().Done():
			return
		case bundle, ok := <-sub.Updates():
			if !ok {
				// Feed cancelled or server stopping.
				return
			}
			data, err := json.Marshal(bundle)
			if err != nil {
				h.logger.Error("failed to encode state bundle", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sseEventName, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *StreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sub, err := h.feed.Subscribe(sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer sub.Close()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	defer ws.Close()

	// The feed is push-only. Reading is only for noticing the peer going away.
	gone := make(chan struct{})
	ws.SetReadLimit(wsReadLimit)
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	h.logger.Debug("websocket subscriber connected", zap.String("session_id", sessionID))
	for {
		select {
		case <-gone:
			return
		case bundle, ok := <-sub.Updates():
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "feed closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(bundle); err != nil {
				h.logger.Debug("websocket write failed", zap.String("session_id", sessionID), zap.Error(err))
				return
			}
		}
	}
}
