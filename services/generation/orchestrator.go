// Package generation drives a generation call across the ranked candidate
// list, falling back on skip-worthy failures.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/services"
	"github.com/upb/image-gateway/services/jobs"
	"github.com/upb/image-gateway/services/memo"
	"github.com/upb/image-gateway/services/selection"
	"github.com/upb/image-gateway/services/versions"
	"go.uber.org/zap"
)

// VersionResolver resolves candidate identifiers to version handles
type VersionResolver interface {
	Resolve(ctx context.Context, identifier string) (models.ResolvedVersion, error)
}

// JobRunner submits jobs and waits for them
type JobRunner interface {
	Submit(ctx context.Context, version models.ResolvedVersion, input map[string]interface{}) (*jobs.SubmitOutcome, error)
	AwaitCompletion(ctx context.Context, jobID string) (*models.GenerationJob, error)
}

// CandidateSelector produces the attempt list for a call
type CandidateSelector interface {
	Select(ctx context.Context, req selection.Request) (*selection.Selection, error)
}

// Recorder receives a summary of every finished call
type Recorder interface {
	Record(rec *models.GenerationRecord) error
}

// Request is one generation call
type Request struct {
	Input                 map[string]interface{}
	PinnedCandidate       string
	ExcludePaidCandidates bool
	RequestID             string
}

// Result is a successful generation
type Result struct {
	GenerationID  uuid.UUID              `json:"generation_id"`
	OutputURL     string                 `json:"output_url"`
	CandidateUsed string                 `json:"candidate_used"`
	VersionUsed   string                 `json:"version_used"`
	JobID         string                 `json:"job_id"`
	Attempts      []models.AttemptReport `json:"attempts,omitempty"`
}

// Config holds the memo cooldowns applied after a failed submission
type Config struct {
	BillingRequiredTTL time.Duration
	RateLimitedTTL     time.Duration
}

// DefaultConfig returns the standard cooldowns
func DefaultConfig() Config {
	return Config{
		BillingRequiredTTL: models.BillingRequiredTTL,
		RateLimitedTTL:     models.RateLimitedTTL,
	}
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRecorder enables generation history
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithClock replaces the clock used for latency measurement
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// Orchestrator attempts candidates strictly in sequence until one succeeds
type Orchestrator struct {
	selector CandidateSelector
	resolver VersionResolver
	jobs     JobRunner
	memo     memo.FailureMemo
	config   Config
	recorder Recorder
	now      func() time.Time
	logger   *zap.Logger
}

// NewOrchestrator creates a new orchestrator. The resolver cache and the
// memo are shared across calls for the life of the process.
func NewOrchestrator(
	selector CandidateSelector,
	resolver VersionResolver,
	jobRunner JobRunner,
	failureMemo memo.FailureMemo,
	config Config,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		selector: selector,
		resolver: resolver,
		jobs:     jobRunner,
		memo:     failureMemo,
		config:   config,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate runs one call. Failures are returned as *FailureReport, caller
// input problems as validation DomainErrors and cancellation as a timeout
// DomainError.
func (o *Orchestrator) Generate(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || len(req.Input) == 0 {
		return nil, services.ErrEmptyInput
	}

	start := o.now()
	record := models.NewGenerationRecord(req.RequestID, req.PinnedCandidate, req.ExcludePaidCandidates)

	result, err := o.run(ctx, req)
	latency := o.now().Sub(start)

	if result != nil {
		result.GenerationID = record.ID
		record.MarkAsSucceeded(result.CandidateUsed, result.VersionUsed, result.OutputURL, len(result.Attempts)+1, latency)
		o.record(record)
		return result, nil
	}

	if report, ok := AsFailureReport(err); ok {
		record.MarkAsFailed(string(report.Reason), report.Message, len(report.Attempts), latency)
		o.record(record)
		o.logger.Warn("generation failed",
			zap.String("request_id", req.RequestID),
			zap.String("reason", string(report.Reason)),
			zap.Int("attempts", len(report.Attempts)),
			zap.Duration("latency", latency))
	}

	return nil, err
}

func (o *Orchestrator) run(ctx context.Context, req *Request) (*Result, error) {
	sel, err := o.selector.Select(ctx, selection.Request{
		PinnedCandidate:       req.PinnedCandidate,
		ExcludePaidCandidates: req.ExcludePaidCandidates,
	})
	if err != nil {
		return nil, err
	}

	attempts := make([]models.AttemptReport, 0, len(sel.Skipped)+len(sel.Candidates))
	attempts = append(attempts, sel.Skipped...)

	if sel.Empty() {
		if sel.Configured == 0 {
			return nil, newFailureReport(ReasonNoCandidatesConfigured, attempts)
		}
		return nil, newFailureReport(ReasonAllCandidatesFiltered, attempts)
	}

	for _, candidate := range sel.Candidates {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, canceled(ctxErr)
		}

		result, report, err := o.attempt(ctx, candidate, req)
		if result != nil {
			result.Attempts = attempts
			return result, nil
		}

		if err != nil && !errors.Is(err, jobs.ErrUnauthorized) {
			return nil, canceled(err)
		}

		o.logger.Info("candidate attempt failed",
			zap.String("request_id", req.RequestID),
			zap.String("candidate", report.Candidate),
			zap.String("outcome", string(report.Outcome)),
			zap.String("detail", report.Detail))

		attempts = append(attempts, report)
		if err != nil {
			return nil, newFailureReport(ReasonUnauthorized, attempts)
		}
	}

	return nil, newFailureReport(ReasonAllCandidatesFailed, attempts)
}

// attempt runs resolve, submit and await for one candidate. A non-nil error
// ends the whole call: either jobs.ErrUnauthorized or a context error.
func (o *Orchestrator) attempt(ctx context.Context, candidate models.Candidate, req *Request) (*Result, models.AttemptReport, error) {
	report := models.AttemptReport{Candidate: candidate.Identifier}

	version, err := o.resolver.Resolve(ctx, candidate.Identifier)
	if err != nil {
		var resolveErr *versions.ResolveError
		if errors.As(err, &resolveErr) {
			report.Outcome = resolveErr.Outcome()
			report.Detail = resolveErr.Detail
			return nil, report, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, report, ctxErr
		}
		report.Outcome = models.OutcomeMetadataFetchFailed
		report.Detail = err.Error()
		return nil, report, nil
	}

	outcome, err := o.jobs.Submit(ctx, version, req.Input)
	if err != nil {
		return nil, report, err
	}

	if !outcome.Accepted() {
		report.Outcome = outcome.AttemptOutcome()
		report.Detail = outcome.Details
		if outcome.Kind == jobs.SubmitOtherError && outcome.StatusCode != 0 {
			report.Detail = fmt.Sprintf("HTTP %d: %s", outcome.StatusCode, outcome.Details)
		}

		if kind, ok := outcome.FailureKind(); ok {
			o.memo.Set(ctx, candidate.Identifier, kind, outcome.Details, o.cooldown(kind))
		}
		if outcome.Kind == jobs.SubmitUnauthorized {
			return nil, report, fmt.Errorf("%w: %s", jobs.ErrUnauthorized, outcome.Details)
		}
		return nil, report, nil
	}

	job, err := o.jobs.AwaitCompletion(ctx, outcome.JobID)
	if err != nil {
		if errors.Is(err, jobs.ErrUnauthorized) {
			report.Outcome = models.OutcomeUnauthorized
			report.Detail = err.Error()
		}
		return nil, report, err
	}

	switch {
	case job.Status == models.JobStatusSucceeded:
		if url, ok := job.FirstOutput(); ok {
			o.logger.Info("candidate attempt succeeded",
				zap.String("request_id", req.RequestID),
				zap.String("candidate", candidate.Identifier),
				zap.String("version", version.VersionID),
				zap.String("job_id", job.ID))
			return &Result{
				OutputURL:     url,
				CandidateUsed: candidate.Identifier,
				VersionUsed:   version.VersionID,
				JobID:         job.ID,
			}, report, nil
		}
		report.Outcome = models.OutcomeEmptyOutput
		report.Detail = "job succeeded without outputs"
	case job.Status.IsTerminal():
		report.Outcome = models.OutcomeJobFailed
		report.Detail = job.ErrorDetail
		if report.Detail == "" {
			report.Detail = "job " + string(job.Status)
		}
	default:
		report.Outcome = models.OutcomePollTimeout
		report.Detail = "Unexpected non-terminal status: " + string(job.Status)
	}

	return nil, report, nil
}

func (o *Orchestrator) cooldown(kind models.FailureKind) time.Duration {
	switch kind {
	case models.FailureKindBillingRequired:
		return o.config.BillingRequiredTTL
	case models.FailureKindRateLimited:
		return o.config.RateLimitedTTL
	default:
		return kind.TTL()
	}
}

func (o *Orchestrator) record(rec *models.GenerationRecord) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Record(rec); err != nil {
		o.logger.Warn("failed to queue generation record",
			zap.String("generation_id", rec.ID.String()),
			zap.Error(err))
	}
}

func canceled(err error) error {
	return services.WrapError(services.ErrorTypeTimeout, services.ErrCanceled.Message, err)
}
