package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/resona/internal/service"
	"github.com/go-chi/chi/v5"
)

type StateHandler struct {
	state *service.StateService
	feed  *service.Broadcaster
}

func NewStateHandler(state *service.StateService, feed *service.Broadcaster) *StateHandler {
	return &StateHandler{state: state, feed: feed}
}

// Get returns the current state bundle without recording anything.
func (h *StateHandler) Get(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.state.Current(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// CancelFeed closes every live-feed subscriber of the session.
func (h *StateHandler) CancelFeed(w http.ResponseWriter, r *http.Request) {
	cancelled := h.feed.Cancel(chi.URLParam(r, "sessionID"))
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}
