package models

// AttemptOutcome classifies what happened to a candidate during one call
type AttemptOutcome string

const (
	OutcomeSkippedRecentFailure AttemptOutcome = "skipped_recent_failure"
	OutcomeNoVersionAvailable   AttemptOutcome = "no_version_available"
	OutcomeMetadataFetchFailed  AttemptOutcome = "metadata_fetch_failed"
	OutcomeBillingRequired      AttemptOutcome = "billing_required"
	OutcomeRateLimited          AttemptOutcome = "rate_limited"
	OutcomeForbidden            AttemptOutcome = "forbidden"
	OutcomeUnprocessableInput   AttemptOutcome = "unprocessable_input"
	OutcomeUnauthorized         AttemptOutcome = "unauthorized"
	OutcomeProviderError        AttemptOutcome = "provider_error"
	OutcomeJobFailed            AttemptOutcome = "job_failed"
	OutcomeEmptyOutput          AttemptOutcome = "empty_output"
	OutcomePollTimeout          AttemptOutcome = "poll_timeout"
)

// AttemptReport is one entry in the diagnostic trail of a call
type AttemptReport struct {
	Candidate string         `json:"candidate"`
	Outcome   AttemptOutcome `json:"outcome"`
	Detail    string         `json:"detail,omitempty"`
}
