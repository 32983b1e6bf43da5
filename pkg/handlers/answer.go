package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/services"
)

// maxAnswerBodyBytes bounds the request body of POST /api/v1/answer.
const maxAnswerBodyBytes = 64 << 10

// AnswerRequest is the body of POST /api/v1/answer.
type AnswerRequest struct {
	Question   string `json:"question"`
	Synthesize bool   `json:"synthesize"`
}

// AnswerHandler answers natural language questions over HTTP.
type AnswerHandler struct {
	pipeline services.PipelineService
	logger   *zap.Logger
}

// NewAnswerHandler creates an AnswerHandler.
func NewAnswerHandler(pipeline services.PipelineService, logger *zap.Logger) *AnswerHandler {
	return &AnswerHandler{pipeline: pipeline, logger: logger}
}

// RegisterRoutes registers the answer route. wrap applies authentication and
// rate limiting.
func (h *AnswerHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("POST /api/v1/answer", wrap(h.Answer))
}

// Answer handles POST /api/v1/answer.
func (h *AnswerHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnswerBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Request body must be {\"question\": string, \"synthesize\": bool}"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	answer, err := h.pipeline.Answer(r.Context(), req.Question, req.Synthesize)
	if err != nil {
		if err := WritePipelineError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, answer); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
