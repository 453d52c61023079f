package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/Harshitk-cp/resona/internal/service"
	"github.com/go-chi/chi/v5"
)

type SessionHandler struct {
	svc *service.SessionService
}

func NewSessionHandler(svc *service.SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

type createSessionRequest struct {
	ID        string `json:"id" validate:"omitempty,max=128"`
	ActorType string `json:"actor_type" validate:"omitempty,oneof=user system clinician"`
	ActorID   string `json:"actor_id" validate:"required,max=256"`
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sess := &domain.Session{
		ID:        req.ID,
		ActorType: domain.ActorType(req.ActorType),
		ActorID:   req.ActorID,
	}
	if err := h.svc.Create(r.Context(), sess); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	sessions, err := h.svc.List(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.End(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
