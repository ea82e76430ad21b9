package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerationStatus represents the final status of an orchestration call
type GenerationStatus string

const (
	GenerationStatusSucceeded GenerationStatus = "succeeded"
	GenerationStatusFailed    GenerationStatus = "failed"
)

// GenerationRecord is the persisted summary of one orchestration call.
// The per-candidate attempt trail is not stored, only its length.
type GenerationRecord struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	RequestID       string           `json:"request_id" db:"request_id"`
	Status          GenerationStatus `json:"status" db:"status"`
	PinnedCandidate *string          `json:"pinned_candidate,omitempty" db:"pinned_candidate"`
	ExcludePaid     bool             `json:"exclude_paid" db:"exclude_paid"`

	// Outcome
	CandidateUsed *string `json:"candidate_used,omitempty" db:"candidate_used"`
	VersionUsed   *string `json:"version_used,omitempty" db:"version_used"`
	OutputURL     *string `json:"output_url,omitempty" db:"output_url"`
	FailureReason *string `json:"failure_reason,omitempty" db:"failure_reason"`
	ErrorMessage  *string `json:"error_message,omitempty" db:"error_message"`
	AttemptCount  int     `json:"attempt_count" db:"attempt_count"`

	LatencyMs int       `json:"latency_ms" db:"latency_ms"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the GenerationRecord model
func (GenerationRecord) TableName() string {
	return "generation_records"
}

// NewGenerationRecord creates a record for a call
func NewGenerationRecord(requestID, pinned string, excludePaid bool) *GenerationRecord {
	rec := &GenerationRecord{
		ID:          uuid.New(),
		RequestID:   requestID,
		ExcludePaid: excludePaid,
		CreatedAt:   time.Now(),
	}
	if pinned != "" {
		rec.PinnedCandidate = &pinned
	}
	return rec
}

// MarkAsSucceeded records the successful candidate and output
func (r *GenerationRecord) MarkAsSucceeded(candidate, version, outputURL string, attempts int, latency time.Duration) {
	r.Status = GenerationStatusSucceeded
	r.CandidateUsed = &candidate
	r.VersionUsed = &version
	r.OutputURL = &outputURL
	r.AttemptCount = attempts
	r.LatencyMs = int(latency.Milliseconds())
}

// MarkAsFailed records the failure reason and message
func (r *GenerationRecord) MarkAsFailed(reason, message string, attempts int, latency time.Duration) {
	r.Status = GenerationStatusFailed
	r.FailureReason = &reason
	r.ErrorMessage = &message
	r.AttemptCount = attempts
	r.LatencyMs = int(latency.Milliseconds())
}
