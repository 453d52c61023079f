package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/Harshitk-cp/resona/internal/service"
	"github.com/go-chi/chi/v5"
)

type IncidentHandler struct {
	svc *service.IncidentService
}

func NewIncidentHandler(svc *service.IncidentService) *IncidentHandler {
	return &IncidentHandler{svc: svc}
}

type recordIncidentRequest struct {
	IncidentType string         `json:"incident_type" validate:"required,max=64"`
	Severity     string         `json:"severity" validate:"required"`
	Details      map[string]any `json:"details,omitempty"`
}

func (h *IncidentHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req recordIncidentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	inc := &domain.Incident{
		SessionID:    chi.URLParam(r, "sessionID"),
		IncidentType: req.IncidentType,
		Severity:     domain.Severity(req.Severity),
		Details:      req.Details,
	}
	if err := h.svc.Record(r.Context(), inc); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inc)
}

func (h *IncidentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	filter := domain.IncidentFilter{Limit: limit}
	if s := r.URL.Query().Get("severity"); s != "" {
		sev := domain.Severity(s)
		filter.Severity = &sev
	}
	if s := r.URL.Query().Get("min_severity"); s != "" {
		sev := domain.Severity(s)
		filter.MinSeverity = &sev
	}

	incidents, err := h.svc.List(r.Context(), chi.URLParam(r, "sessionID"), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}
