package handlers

import (
	"net/http"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/Harshitk-cp/resona/internal/service"
	"github.com/go-chi/chi/v5"
)

type EventHandler struct {
	svc *service.EventService
}

func NewEventHandler(svc *service.EventService) *EventHandler {
	return &EventHandler{svc: svc}
}

type ingestEventRequest struct {
	Actor           string         `json:"actor" validate:"required,oneof=user system clinician"`
	EventType       string         `json:"event_type" validate:"required,max=64"`
	GoalID          *string        `json:"goal_id,omitempty" validate:"omitempty,max=256"`
	StateHashBefore *string        `json:"state_hash_before,omitempty" validate:"omitempty,max=256"`
	StateHashAfter  *string        `json:"state_hash_after,omitempty" validate:"omitempty,max=256"`
	Payload         map[string]any `json:"payload,omitempty"`
	TS              *time.Time     `json:"ts,omitempty"`
}

func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestEventRequest
	if !decodeBody(w, r, &req) {
		return
	}

	e := &domain.Event{
		SessionID:       chi.URLParam(r, "sessionID"),
		Actor:           domain.ActorType(req.Actor),
		EventType:       req.EventType,
		GoalID:          req.GoalID,
		StateHashBefore: req.StateHashBefore,
		StateHashAfter:  req.StateHashAfter,
		Payload:         req.Payload,
	}
	if req.TS != nil {
		e.TS = *req.TS
	}
	if err := h.svc.Ingest(r.Context(), e); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	events, err := h.svc.List(r.Context(), chi.URLParam(r, "sessionID"), domain.EventFilter{
		EventType: r.URL.Query().Get("event_type"),
		Limit:     limit,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
