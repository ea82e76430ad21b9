// Package memo records recent transient failures per candidate so that
// repeated requests skip candidates that are in a cooldown window.
package memo

import (
	"context"
	"time"

	"github.com/upb/image-gateway/models"
)

// FailureMemo stores "candidate X recently failed with kind K" records.
// Implementations never return errors: the memo is an optimization and its
// unavailability must not fail a generation.
type FailureMemo interface {
	// Get returns the live record for the identifier, or nil
	Get(ctx context.Context, identifier string) *models.FailureRecord

	// Set unconditionally overwrites the record for the identifier
	Set(ctx context.Context, identifier string, kind models.FailureKind, details string, ttl time.Duration)
}

// Clock returns the current time
type Clock func() time.Time
