package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/upb/image-gateway/internal/observability"
	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/services"
	"github.com/upb/image-gateway/services/generation"
	"github.com/upb/image-gateway/utils"
	"go.uber.org/zap"
)

// GenerateRequest is the body of POST /api/v1/generations
type GenerateRequest struct {
	Input                 map[string]interface{} `json:"input" validate:"required,min=1"`
	PinnedCandidate       string                 `json:"pinned_candidate,omitempty" validate:"omitempty,max=256,candidate"`
	ExcludePaidCandidates bool                   `json:"exclude_paid_candidates,omitempty"`
}

// GenerateResponse is the data of a successful generation
type GenerateResponse struct {
	GenerationID  string                 `json:"generation_id"`
	OutputURL     string                 `json:"output_url"`
	CandidateUsed string                 `json:"candidate_used"`
	VersionUsed   string                 `json:"version_used"`
	JobID         string                 `json:"job_id"`
	Attempts      []models.AttemptReport `json:"attempts,omitempty"`
}

// GenerationService runs one generation call
type GenerationService interface {
	Generate(ctx context.Context, req *generation.Request) (*generation.Result, error)
}

// HistoryService reads recorded generation outcomes
type HistoryService interface {
	Get(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error)
	List(ctx context.Context, limit, offset int) ([]*models.GenerationRecord, error)
}

// GenerationHandler handles generation-related HTTP requests
type GenerationHandler struct {
	service GenerationService
	history HistoryService // nil when no database is configured
	logger  *zap.Logger
}

// NewGenerationHandler creates a new GenerationHandler. history may be nil.
func NewGenerationHandler(service GenerationService, history HistoryService, logger *zap.Logger) *GenerationHandler {
	return &GenerationHandler{
		service: service,
		history: history,
		logger:  logger,
	}
}

// HandleGenerate handles POST /api/v1/generations and its aliases
func (h *GenerationHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.WithRequestID(ctx, h.logger)

	var req GenerateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		logger.Warn("failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		logger.Warn("request validation failed", zap.Error(err))
		HandleValidationError(w, err, logger)
		return
	}

	result, err := h.service.Generate(ctx, &generation.Request{
		Input:                 req.Input,
		PinnedCandidate:       req.PinnedCandidate,
		ExcludePaidCandidates: req.ExcludePaidCandidates,
		RequestID:             middleware.GetReqID(ctx),
	})
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	logger.Info("generation succeeded",
		zap.String("candidate", result.CandidateUsed),
		zap.String("version", result.VersionUsed),
		zap.String("job_id", result.JobID),
		zap.Int("skipped_or_failed", len(result.Attempts)))

	response := GenerateResponse{
		GenerationID:  result.GenerationID.String(),
		OutputURL:     result.OutputURL,
		CandidateUsed: result.CandidateUsed,
		VersionUsed:   result.VersionUsed,
		JobID:         result.JobID,
		Attempts:      result.Attempts,
	}
	if err := utils.WriteOK(w, response); err != nil {
		logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleList handles GET /api/v1/generations
func (h *GenerationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		HandleServiceError(w, services.ErrHistoryDisabled, h.logger)
		return
	}

	limit, err := utils.QueryInt(r, "limit", 0)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	offset, err := utils.QueryInt(r, "offset", 0)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	records, err := h.history.List(r.Context(), limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, records); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleGet handles GET /api/v1/generations/{id}
func (h *GenerationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		HandleServiceError(w, services.ErrHistoryDisabled, h.logger)
		return
	}

	id, err := utils.ParseUUID(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	record, err := h.history.Get(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, record); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}
