package generation

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/upb/image-gateway/models"
)

// FailureReason explains why a call produced no output
type FailureReason string

const (
	// ReasonNoCandidatesConfigured means the catalog is empty
	ReasonNoCandidatesConfigured FailureReason = "no_candidates_configured"

	// ReasonAllCandidatesFiltered means every configured candidate was excluded or memoized
	ReasonAllCandidatesFiltered FailureReason = "all_candidates_filtered"

	// ReasonAllCandidatesFailed means every attempted candidate failed
	ReasonAllCandidatesFailed FailureReason = "all_candidates_failed"

	// ReasonUnauthorized means the provider rejected the API credential
	ReasonUnauthorized FailureReason = "unauthorized"
)

// HTTPStatusHint returns the status a delivery layer should answer with
func (r FailureReason) HTTPStatusHint() int {
	switch r {
	case ReasonNoCandidatesConfigured:
		return http.StatusBadRequest
	case ReasonAllCandidatesFiltered:
		return http.StatusServiceUnavailable
	case ReasonUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}

// FailureReport is the structured failure of a generation call.
// Attempts holds every report collected, selector skips included.
type FailureReport struct {
	Reason   FailureReason          `json:"reason"`
	Message  string                 `json:"error_message"`
	Attempts []models.AttemptReport `json:"attempts"`
}

// Error implements the error interface
func (r *FailureReport) Error() string {
	return fmt.Sprintf("%s: %s (%d attempts)", r.Reason, r.Message, len(r.Attempts))
}

// HTTPStatusHint returns the status a delivery layer should answer with
func (r *FailureReport) HTTPStatusHint() int {
	return r.Reason.HTTPStatusHint()
}

// Fatal reports whether the failure is a configuration problem rather than
// a transient state of the candidates
func (r *FailureReport) Fatal() bool {
	return r.Reason == ReasonUnauthorized || r.Reason == ReasonNoCandidatesConfigured
}

// AsFailureReport extracts a FailureReport from an error chain
func AsFailureReport(err error) (*FailureReport, bool) {
	var report *FailureReport
	if errors.As(err, &report) {
		return report, true
	}
	return nil, false
}

func newFailureReport(reason FailureReason, attempts []models.AttemptReport) *FailureReport {
	if attempts == nil {
		attempts = []models.AttemptReport{}
	}

	var message string
	switch reason {
	case ReasonNoCandidatesConfigured:
		message = "no generation candidates are configured"
	case ReasonAllCandidatesFiltered:
		message = fmt.Sprintf("all %d candidates are currently filtered or cooling down", len(attempts))
		if len(attempts) == 0 {
			message = "all candidates are currently filtered or cooling down"
		}
	case ReasonUnauthorized:
		message = "generation provider rejected the API credential"
	default:
		message = fmt.Sprintf("all %d attempted candidates failed", countAttempted(attempts))
	}

	return &FailureReport{Reason: reason, Message: message, Attempts: attempts}
}

func countAttempted(attempts []models.AttemptReport) int {
	n := 0
	for _, a := range attempts {
		if a.Outcome != models.OutcomeSkippedRecentFailure {
			n++
		}
	}
	return n
}
