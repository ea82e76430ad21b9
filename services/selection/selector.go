// Package selection decides which candidates are worth attempting for one
// generation call and in which order.
package selection

import (
	"context"
	"strings"

	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/services"
	"github.com/upb/image-gateway/services/catalog"
	"github.com/upb/image-gateway/services/memo"
	"go.uber.org/zap"
)

// Request carries the caller's selection preferences
type Request struct {
	PinnedCandidate       string
	ExcludePaidCandidates bool
}

// Selection is the ordered attempt list for one call
type Selection struct {
	// Candidates to attempt, pinned first then configured preference order
	Candidates []models.Candidate

	// Skipped holds one report per candidate dropped because of a live failure record
	Skipped []models.AttemptReport

	// Configured is the size of the full catalog
	Configured int
}

// Empty reports whether nothing is left to attempt
func (s *Selection) Empty() bool {
	return len(s.Candidates) == 0
}

// Selector builds attempt lists from the catalog and the failure memo
type Selector struct {
	catalog *catalog.Catalog
	memo    memo.FailureMemo
	logger  *zap.Logger
}

// NewSelector creates a new selector
func NewSelector(catalog *catalog.Catalog, memo memo.FailureMemo, logger *zap.Logger) *Selector {
	return &Selector{
		catalog: catalog,
		memo:    memo,
		logger:  logger,
	}
}

// Select applies the paid filter, moves the pinned candidate to the front and
// drops candidates with a live failure record. The pinned candidate bypasses
// both the paid filter and the memo.
func (s *Selector) Select(ctx context.Context, req Request) (*Selection, error) {
	pinnedID := strings.TrimSpace(req.PinnedCandidate)

	var pinned *models.Candidate
	if pinnedID != "" {
		c, err := s.catalog.Get(pinnedID)
		if err != nil {
			return nil, services.ErrUnknownCandidate.Clone().WithDetail("pinned_candidate", pinnedID)
		}
		pinned = &c
	}

	selection := &Selection{Configured: s.catalog.Len()}
	if pinned != nil {
		selection.Candidates = append(selection.Candidates, *pinned)
	}

	candidates := s.catalog.All()
	if req.ExcludePaidCandidates {
		candidates = s.catalog.Free()
	}

	for _, c := range candidates {
		if pinned != nil && c.Identifier == pinned.Identifier {
			continue
		}

		if record := s.memo.Get(ctx, c.Identifier); record != nil {
			selection.Skipped = append(selection.Skipped, models.AttemptReport{
				Candidate: c.Identifier,
				Outcome:   models.OutcomeSkippedRecentFailure,
				Detail:    skipDetail(record),
			})
			continue
		}

		selection.Candidates = append(selection.Candidates, c)
	}

	s.logger.Debug("candidates selected",
		zap.Int("configured", selection.Configured),
		zap.Int("attempting", len(selection.Candidates)),
		zap.Int("skipped", len(selection.Skipped)),
		zap.String("pinned", pinnedID))

	return selection, nil
}

func skipDetail(record *models.FailureRecord) string {
	if record.Details == "" {
		return string(record.Kind)
	}
	return string(record.Kind) + ": " + record.Details
}
