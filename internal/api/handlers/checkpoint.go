package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/Harshitk-cp/resona/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type CheckpointHandler struct {
	svc *service.CheckpointService
}

func NewCheckpointHandler(svc *service.CheckpointService) *CheckpointHandler {
	return &CheckpointHandler{svc: svc}
}

type saveCheckpointRequest struct {
	GoalStatement       string   `json:"goal_statement" validate:"required,max=2000"`
	Constraints         []string `json:"constraints" validate:"omitempty,max=50,dive,required,max=500"`
	PlanStep            *string  `json:"plan_step,omitempty" validate:"omitempty,max=2000"`
	Summary             *string  `json:"summary,omitempty" validate:"omitempty,max=4000"`
	RestoreInstructions *string  `json:"restore_instructions,omitempty" validate:"omitempty,max=4000"`
	CoherenceEstimate   *float64 `json:"coherence_estimate,omitempty" validate:"omitempty,gte=0,lte=1"`
}

func (h *CheckpointHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req saveCheckpointRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cp := &domain.Checkpoint{
		SessionID:           chi.URLParam(r, "sessionID"),
		GoalStatement:       req.GoalStatement,
		Constraints:         req.Constraints,
		PlanStep:            req.PlanStep,
		Summary:             req.Summary,
		RestoreInstructions: req.RestoreInstructions,
		CoherenceEstimate:   req.CoherenceEstimate,
	}
	if err := h.svc.Save(r.Context(), cp); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cp)
}

func (h *CheckpointHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	cps, err := h.svc.List(r.Context(), chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cps)
}

func (h *CheckpointHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	cp, err := h.svc.GetActive(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (h *CheckpointHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "checkpointID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid checkpoint id")
		return
	}
	cp, err := h.svc.Rollback(r.Context(), chi.URLParam(r, "sessionID"), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cp)
}
