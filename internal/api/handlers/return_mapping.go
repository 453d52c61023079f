package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/Harshitk-cp/resona/internal/service"
	"github.com/go-chi/chi/v5"
)

type ReturnMappingHandler struct {
	mappings *service.ReturnMappingService
	state    *service.StateService
}

func NewReturnMappingHandler(mappings *service.ReturnMappingService, state *service.StateService) *ReturnMappingHandler {
	return &ReturnMappingHandler{mappings: mappings, state: state}
}

func (h *ReturnMappingHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	out, err := h.mappings.List(r.Context(), chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Validate judges the return mapping against the active checkpoint now and
// records the result.
func (h *ReturnMappingHandler) Validate(w http.ResponseWriter, r *http.Request) {
	rm, err := h.state.ValidateReturn(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rm)
}

type submitReconstructionRequest struct {
	GoalReconstruction        string   `json:"goal_reconstruction" validate:"required,max=2000"`
	ConstraintsReconstruction []string `json:"constraints_reconstruction" validate:"omitempty,max=50,dive,max=500"`
	StateDelta                string   `json:"state_delta" validate:"max=4000"`
	WhyNextActionFollows      string   `json:"why_next_action_follows" validate:"max=4000"`
	StopCondition             string   `json:"stop_condition" validate:"max=2000"`
}

// Submit judges an agent's reconstruction of its active checkpoint and
// records the result with the reconstruction attached.
func (h *ReturnMappingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitReconstructionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rm, err := h.state.SubmitReconstruction(r.Context(), chi.URLParam(r, "sessionID"), domain.Reconstruction{
		GoalReconstruction:        req.GoalReconstruction,
		ConstraintsReconstruction: req.ConstraintsReconstruction,
		StateDelta:                req.StateDelta,
		WhyNextActionFollows:      req.WhyNextActionFollows,
		StopCondition:             req.StopCondition,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rm)
}
