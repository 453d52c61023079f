package handlers

import (
	"net/http"
	"time"

	"github.com/Harshitk-cp/resona/internal/service"
)

type ExportHandler struct {
	svc *service.ExportService
}

func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{svc: svc}
}

type exportRequest struct {
	SessionIDs      []string   `json:"session_ids" validate:"omitempty,max=1000,dive,required"`
	Start           *time.Time `json:"start,omitempty"`
	End             *time.Time `json:"end,omitempty"`
	Anonymize       *bool      `json:"anonymize,omitempty"`
	IncludePayloads bool       `json:"include_payloads"`
	Format          string     `json:"format" validate:"omitempty,oneof=json jsonl csv"`
}

type exportFileResponse struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
}

type exportResponse struct {
	Metadata service.ExportMetadata `json:"metadata"`
	Files    []exportFileResponse   `json:"files"`
}

func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeBody(w, r, &req) {
		return
	}

	opts := service.ExportOptions{
		SessionIDs:      req.SessionIDs,
		Start:           req.Start,
		End:             req.End,
		Anonymize:       true,
		IncludePayloads: req.IncludePayloads,
		Format:          service.ExportFormat(req.Format),
	}
	if req.Anonymize != nil {
		opts.Anonymize = *req.Anonymize
	}

	out, err := h.svc.Export(r.Context(), opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := exportResponse{Metadata: out.Metadata, Files: make([]exportFileResponse, 0, len(out.Files))}
	for _, f := range out.Files {
		resp.Files = append(resp.Files, exportFileResponse{
			Name:        f.Name,
			ContentType: f.ContentType,
			Content:     string(f.Data),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
