// Package jobs submits generation jobs to a resolved backend version and
// polls them to completion.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/services/providers"
	"go.uber.org/zap"
)

// ErrUnauthorized is returned when the provider rejects the API credential
var ErrUnauthorized = errors.New("provider rejected credentials")

// Config holds the submission retry and polling budget
type Config struct {
	// PollInterval between non-terminal polls
	PollInterval time.Duration

	// MaxPolls is the poll budget for one job, rate-limited polls included
	MaxPolls int

	// RateLimitedPollWait is the pause after a poll answered 429
	RateLimitedPollWait time.Duration

	// SubmitRetries is the number of extra submissions after a 429
	SubmitRetries int

	// BackoffBase is the first submission backoff; it doubles per retry
	BackoffBase time.Duration

	// InputAdapters are tried in order after a 422. Nil selects the defaults.
	InputAdapters []InputAdapter
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		PollInterval:        time.Second,
		MaxPolls:            120,
		RateLimitedPollWait: 2 * time.Second,
		SubmitRetries:       3,
		BackoffBase:         time.Second,
	}
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Option configures a Client
type Option func(*Client)

// WithSleep replaces the wait used for backoff and polling
func WithSleep(sleep SleepFunc) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// Client submits and polls jobs through a provider
type Client struct {
	provider providers.Client
	config   Config
	adapters []InputAdapter
	sleep    SleepFunc
	logger   *zap.Logger
}

// NewClient creates a job client
func NewClient(provider providers.Client, config Config, logger *zap.Logger, opts ...Option) *Client {
	adapters := config.InputAdapters
	if adapters == nil {
		adapters = DefaultInputAdapters()
	}

	c := &Client{
		provider: provider,
		config:   config,
		adapters: adapters,
		sleep:    ContextSleep,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit creates a job for the version. The returned error is non-nil only
// when ctx ends; every provider answer is classified into the outcome.
func (c *Client) Submit(ctx context.Context, version models.ResolvedVersion, input map[string]interface{}) (*SubmitOutcome, error) {
	req := &providers.PredictionRequest{Version: version.VersionID, Input: input}

	pred, err := c.createWithBackoff(ctx, req)
	var interrupted *backoffInterrupted
	if errors.As(err, &interrupted) {
		return nil, interrupted.err
	}
	if err == nil {
		return accepted(pred, ""), nil
	}
	// A provider timeout wraps context.DeadlineExceeded too; only ctx decides
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	outcome := classify(err)
	if outcome.Kind != SubmitUnprocessableInput {
		return outcome, nil
	}

	for _, adapter := range c.adapters {
		shaped, ok := adapter.Apply(input)
		if !ok {
			continue
		}

		pred, adaptErr := c.provider.CreatePrediction(ctx, &providers.PredictionRequest{Version: version.VersionID, Input: shaped})
		if adaptErr == nil {
			c.logger.Info("input adapter accepted",
				zap.String("candidate", version.CandidateIdentifier),
				zap.String("adapter", adapter.Name))
			return accepted(pred, adapter.Name), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if providers.StatusCode(adaptErr) == http.StatusUnauthorized {
			return classify(adaptErr), nil
		}

		c.logger.Debug("input adapter rejected",
			zap.String("candidate", version.CandidateIdentifier),
			zap.String("adapter", adapter.Name),
			zap.Error(adaptErr))
	}

	return outcome, nil
}

// backoffInterrupted carries the sleep error that cut a 429 backoff short
type backoffInterrupted struct {
	err error
}

func (e *backoffInterrupted) Error() string { return "backoff interrupted: " + e.err.Error() }

// createWithBackoff retries a 429 up to SubmitRetries times, doubling the wait
func (c *Client) createWithBackoff(ctx context.Context, req *providers.PredictionRequest) (*providers.Prediction, error) {
	for attempt := 0; ; attempt++ {
		pred, err := c.provider.CreatePrediction(ctx, req)
		if err == nil || !providers.IsRateLimited(err) || attempt >= c.config.SubmitRetries {
			return pred, err
		}

		delay := c.config.BackoffBase << attempt
		c.logger.Debug("submission rate limited, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))

		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return nil, &backoffInterrupted{err: sleepErr}
		}
	}
}

// Poll reads the current state of a job once
func (c *Client) Poll(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	pred, err := c.provider.GetPrediction(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return toJob(pred, jobID), nil
}

// AwaitCompletion polls until the job is terminal or MaxPolls is spent.
// An exhausted budget returns the last observed non-terminal job. The error
// is non-nil only when ctx ends or the credential is rejected.
func (c *Client) AwaitCompletion(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	last := &models.GenerationJob{ID: jobID, Status: models.JobStatusStarting}

	for poll := 1; poll <= c.config.MaxPolls; poll++ {
		job, err := c.Poll(ctx, jobID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}

			switch providers.StatusCode(err) {
			case http.StatusTooManyRequests:
				if sleepErr := c.sleep(ctx, c.config.RateLimitedPollWait); sleepErr != nil {
					return nil, sleepErr
				}
				continue
			case http.StatusUnauthorized:
				return nil, fmt.Errorf("%w: %s", ErrUnauthorized, providers.Detail(err))
			}

			return &models.GenerationJob{
				ID:          jobID,
				Status:      models.JobStatusFailed,
				ErrorDetail: providers.Detail(err),
			}, nil
		}

		last = job
		if job.Status.IsTerminal() {
			return job, nil
		}

		if poll < c.config.MaxPolls {
			if sleepErr := c.sleep(ctx, c.config.PollInterval); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}

	c.logger.Warn("poll budget exhausted",
		zap.String("job_id", jobID),
		zap.String("status", string(last.Status)),
		zap.Int("max_polls", c.config.MaxPolls))

	return last, nil
}

func toJob(pred *providers.Prediction, fallbackID string) *models.GenerationJob {
	job := &models.GenerationJob{
		ID:          pred.ID,
		Status:      models.JobStatus(pred.Status),
		Outputs:     pred.Outputs(),
		ErrorDetail: pred.ErrorDetail(),
	}
	if job.ID == "" {
		job.ID = fallbackID
	}
	if job.Status == "" {
		job.Status = models.JobStatusStarting
	}
	return job
}
