package handlers

import (
	"net/http"

	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/services/memo"
	"github.com/upb/image-gateway/utils"
	"go.uber.org/zap"
)

// CandidateLister exposes the configured candidates in preference order
type CandidateLister interface {
	All() []models.Candidate
}

// CandidateStatus is one catalog entry with its live cooldown, if any
type CandidateStatus struct {
	Identifier  string                `json:"identifier"`
	DisplayName string                `json:"display_name"`
	IsPaid      bool                  `json:"is_paid"`
	Cooldown    *models.FailureRecord `json:"cooldown,omitempty"`
}

// CandidatesHandler serves candidate diagnostics
type CandidatesHandler struct {
	catalog CandidateLister
	memo    memo.FailureMemo
	logger  *zap.Logger
}

// NewCandidatesHandler creates a new CandidatesHandler
func NewCandidatesHandler(catalog CandidateLister, failureMemo memo.FailureMemo, logger *zap.Logger) *CandidatesHandler {
	return &CandidatesHandler{
		catalog: catalog,
		memo:    failureMemo,
		logger:  logger,
	}
}

// HandleList handles GET /api/v1/candidates
func (h *CandidatesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	candidates := h.catalog.All()

	statuses := make([]CandidateStatus, 0, len(candidates))
	for _, c := range candidates {
		statuses = append(statuses, CandidateStatus{
			Identifier:  c.Identifier,
			DisplayName: c.Name(),
			IsPaid:      c.IsPaid,
			Cooldown:    h.memo.Get(r.Context(), c.Identifier),
		})
	}

	if err := utils.WriteOK(w, statuses); err != nil {
		h.logger.Error("failed to write candidates response", zap.Error(err))
	}
}
