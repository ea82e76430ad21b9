package models

import "time"

// FailureKind identifies a memoized transient failure class
type FailureKind string

const (
	FailureKindBillingRequired FailureKind = "billing_required"
	FailureKindRateLimited     FailureKind = "rate_limited"
)

// Cooldown TTLs per failure kind
const (
	BillingRequiredTTL = time.Hour
	RateLimitedTTL     = 30 * time.Second
)

// TTL returns the default cooldown for the kind
func (k FailureKind) TTL() time.Duration {
	switch k {
	case FailureKindBillingRequired:
		return BillingRequiredTTL
	case FailureKindRateLimited:
		return RateLimitedTTL
	default:
		return 0
	}
}

// FailureRecord is a memoized transient failure for a candidate
type FailureRecord struct {
	CandidateIdentifier string      `json:"candidate_identifier"`
	Kind                FailureKind `json:"kind"`
	Details             string      `json:"details"`
	CreatedAt           time.Time   `json:"created_at"`
	ExpiresAt           time.Time   `json:"expires_at"`
}

// NewFailureRecord creates a record expiring ttl after now
func NewFailureRecord(identifier string, kind FailureKind, details string, now time.Time, ttl time.Duration) *FailureRecord {
	return &FailureRecord{
		CandidateIdentifier: identifier,
		Kind:                kind,
		Details:             details,
		CreatedAt:           now,
		ExpiresAt:           now.Add(ttl),
	}
}

// IsExpired reports whether the record is no longer live at now
func (r *FailureRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
