package jobs

import (
	"net/http"

	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/services/providers"
)

// SubmitKind classifies a submission result
type SubmitKind string

const (
	SubmitAccepted           SubmitKind = "accepted"
	SubmitBillingRequired    SubmitKind = "billing_required"
	SubmitRateLimited        SubmitKind = "rate_limited"
	SubmitUnauthorized       SubmitKind = "unauthorized"
	SubmitForbidden          SubmitKind = "forbidden"
	SubmitUnprocessableInput SubmitKind = "unprocessable_input"
	SubmitOtherError         SubmitKind = "other_error"
)

// SubmitOutcome is the classified answer to a job submission
type SubmitOutcome struct {
	Kind SubmitKind

	// JobID is set when Kind is SubmitAccepted
	JobID string

	// Adapter names the input adapter whose shape was accepted, if any
	Adapter string

	// StatusCode is the provider HTTP status for rejections (0 for transport errors)
	StatusCode int

	// Details is the raw provider text
	Details string
}

// Accepted reports whether a job was created
func (o *SubmitOutcome) Accepted() bool {
	return o.Kind == SubmitAccepted
}

// AttemptOutcome maps a rejection to the attempt outcome reported to callers
func (o *SubmitOutcome) AttemptOutcome() models.AttemptOutcome {
	switch o.Kind {
	case SubmitBillingRequired:
		return models.OutcomeBillingRequired
	case SubmitRateLimited:
		return models.OutcomeRateLimited
	case SubmitUnauthorized:
		return models.OutcomeUnauthorized
	case SubmitForbidden:
		return models.OutcomeForbidden
	case SubmitUnprocessableInput:
		return models.OutcomeUnprocessableInput
	default:
		return models.OutcomeProviderError
	}
}

// FailureKind returns the memoized kind for this outcome, if it is memoized
func (o *SubmitOutcome) FailureKind() (models.FailureKind, bool) {
	switch o.Kind {
	case SubmitBillingRequired:
		return models.FailureKindBillingRequired, true
	case SubmitRateLimited:
		return models.FailureKindRateLimited, true
	default:
		return "", false
	}
}

func accepted(pred *providers.Prediction, adapter string) *SubmitOutcome {
	outcome := &SubmitOutcome{Kind: SubmitAccepted, Adapter: adapter}
	if pred != nil {
		outcome.JobID = pred.ID
	}
	return outcome
}

func classify(err error) *SubmitOutcome {
	status := providers.StatusCode(err)
	outcome := &SubmitOutcome{StatusCode: status, Details: providers.Detail(err)}

	switch status {
	case http.StatusPaymentRequired:
		outcome.Kind = SubmitBillingRequired
	case http.StatusTooManyRequests:
		outcome.Kind = SubmitRateLimited
	case http.StatusUnauthorized:
		outcome.Kind = SubmitUnauthorized
	case http.StatusForbidden:
		outcome.Kind = SubmitForbidden
	case http.StatusUnprocessableEntity:
		outcome.Kind = SubmitUnprocessableInput
	default:
		outcome.Kind = SubmitOtherError
	}
	return outcome
}
