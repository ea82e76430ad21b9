package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/services"
	"github.com/upb/image-gateway/services/catalog"
	"github.com/upb/image-gateway/services/jobs"
	"github.com/upb/image-gateway/services/memo"
	"github.com/upb/image-gateway/services/providers"
	"github.com/upb/image-gateway/services/providers/providertest"
	"github.com/upb/image-gateway/services/providers/replicate"
	"github.com/upb/image-gateway/services/selection"
	"github.com/upb/image-gateway/services/versions"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingRecorder struct {
	mu      sync.Mutex
	records []*models.GenerationRecord
}

func (r *recordingRecorder) Record(rec *models.GenerationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

type harness struct {
	provider *providertest.FakeClient
	memo     *memo.LocalMemo
	clock    *fakeClock
	recorder *recordingRecorder
	orch     *Orchestrator
}

func newHarness(t *testing.T, candidates []models.Candidate) *harness {
	t.Helper()

	cat, err := catalog.New(candidates)
	require.NoError(t, err)

	h := &harness{
		provider: providertest.NewFakeClient(),
		clock:    &fakeClock{now: time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)},
		recorder: &recordingRecorder{},
	}
	h.memo = memo.NewLocalMemoWithClock(h.clock.Now)

	logger := zap.NewNop()
	noSleep := func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	h.orch = NewOrchestrator(
		selection.NewSelector(cat, h.memo, logger),
		versions.NewResolver(h.provider, logger),
		jobs.NewClient(h.provider, jobs.DefaultConfig(), logger, jobs.WithSleep(noSleep)),
		h.memo,
		DefaultConfig(),
		logger,
		WithRecorder(h.recorder),
		WithClock(h.clock.Now),
	)
	return h
}

// submitted returns the candidate identifiers that received a submission, in order
func (h *harness) submitted() []string {
	var out []string
	for _, req := range h.provider.Requests() {
		id := strings.TrimPrefix(req.Version, "v-")
		if len(out) == 0 || out[len(out)-1] != id {
			out = append(out, id)
		}
	}
	return out
}

func rejectFor(status int, identifiers ...string) func(context.Context, *providers.PredictionRequest) (*providers.Prediction, error) {
	return func(ctx context.Context, req *providers.PredictionRequest) (*providers.Prediction, error) {
		for _, id := range identifiers {
			if req.Version == "v-"+id {
				return nil, providertest.StatusError(status, http.StatusText(status))
			}
		}
		return &providers.Prediction{ID: "job-" + req.Version, Status: "starting"}, nil
	}
}

func prompt(text string) map[string]interface{} {
	return map[string]interface{}{"prompt": text}
}

func threeFree() []models.Candidate {
	return []models.Candidate{
		{Identifier: "acme/one"},
		{Identifier: "acme/two"},
		{Identifier: "acme/three"},
	}
}

func TestGenerate_FirstCandidateSucceeds(t *testing.T) {
	h := newHarness(t, threeFree())

	result, err := h.orch.Generate(context.Background(), &Request{Input: prompt("a red bicycle"), RequestID: "req-1"})

	require.NoError(t, err)
	assert.Equal(t, "acme/one", result.CandidateUsed)
	assert.Equal(t, "v-acme/one", result.VersionUsed)
	assert.Equal(t, "job-v-acme/one", result.JobID)
	assert.Equal(t, "https://cdn.example.com/job-v-acme/one.png", result.OutputURL)
	assert.Empty(t, result.Attempts)

	require.Len(t, h.recorder.records, 1)
	rec := h.recorder.records[0]
	assert.Equal(t, result.GenerationID, rec.ID)
	assert.Equal(t, models.GenerationStatusSucceeded, rec.Status)
	assert.Equal(t, "req-1", rec.RequestID)
	assert.Equal(t, 1, rec.AttemptCount)
}

func TestGenerate_SequentialFallbackAfterBillingRequired(t *testing.T) {
	h := newHarness(t, threeFree())
	h.provider.CreatePredictionFunc = rejectFor(http.StatusPaymentRequired, "acme/one", "acme/two")

	result, err := h.orch.Generate(context.Background(), &Request{Input: prompt("x")})

	require.NoError(t, err)
	assert.Equal(t, "acme/three", result.CandidateUsed)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, "acme/one", result.Attempts[0].Candidate)
	assert.Equal(t, "acme/two", result.Attempts[1].Candidate)
	for _, a := range result.Attempts {
		assert.Equal(t, models.OutcomeBillingRequired, a.Outcome)
	}
	assert.Equal(t, []string{"acme/one", "acme/two", "acme/three"}, h.submitted())

	for _, id := range []string{"acme/one", "acme/two"} {
		rec := h.memo.Get(context.Background(), id)
		require.NotNil(t, rec, id)
		assert.Equal(t, models.FailureKindBillingRequired, rec.Kind)
	}
	h.clock.Advance(59 * time.Minute)
	assert.NotNil(t, h.memo.Get(context.Background(), "acme/one"))
	h.clock.Advance(2 * time.Minute)
	assert.Nil(t, h.memo.Get(context.Background(), "acme/one"))
}

func TestGenerate_UnauthorizedShortCircuits(t *testing.T) {
	h := newHarness(t, []models.Candidate{{Identifier: "acme/a"}, {Identifier: "acme/b"}})
	h.provider.CreatePredictionFunc = rejectFor(http.StatusUnauthorized, "acme/a")

	result, err := h.orch.Generate(context.Background(), &Request{Input: prompt("x")})

	assert.Nil(t, result)
	report, ok := AsFailureReport(err)
	require.True(t, ok)
	assert.Equal(t, ReasonUnauthorized, report.Reason)
	assert.Equal(t, http.StatusUnauthorized, report.HTTPStatusHint())
	assert.True(t, report.Fatal())
	require.Len(t, report.Attempts, 1)
	assert.Equal(t, models.OutcomeUnauthorized, report.Attempts[0].Outcome)

	assert.Equal(t, []string{"acme/a"}, h.submitted())
	assert.Equal(t, 1, h.provider.Calls("GetModel"))
	assert.Nil(t, h.memo.Get(context.Background(), "acme/a"), "unauthorized is never memoized")
}

func TestGenerate_UnauthorizedWhilePolling(t *testing.T) {
	h := newHarness(t, []models.Candidate{{Identifier: "acme/a"}, {Identifier: "acme/b"}})
	h.provider.GetPredictionFunc = func(ctx context.Context, id string) (*providers.Prediction, error) {
		return nil, providertest.StatusError(http.StatusUnauthorized, "invalid token")
	}

	_, err := h.orch.Generate(context.Background(), &Request{Input: prompt("x")})

	report, ok := AsFailureReport(err)
	require.True(t, ok)
	assert.Equal(t, ReasonUnauthorized, report.Reason)
	assert.Equal(t, []string{"acme/a"}, h.submitted())
}

func TestGenerate_EmptySelection(t *testing.T) {
	t.Run("no candidates configured", func(t *testing.T) {
		h := newHarness(t, nil)

		_, err := h.orch.Generate(context.Background(), &Request{Input: prompt("x")})

		report, ok := AsFailureReport(err)
		require.True(t, ok)
		assert.Equal(t, ReasonNoCandidatesConfigured, report.Reason)
		assert.Equal(t, http.StatusBadRequest, report.HTTPStatusHint())
		assert.Empty(t, report.Attempts)
		assert.NotNil(t, report.Attempts)
	})

	t.Run("all candidates memoized", func(t *testing.T) {
		h := newHarness(t, threeFree())
		for _, c := range threeFree() {
			h.memo.Set(context.Background(), c.Identifier, models.FailureKindRateLimited, "429", 30*time.Second)
		}

		_, err := h.orch.Generate(context.Background(), &Request{Input: prompt("x")})

		report, ok := AsFailureReport(err)
		require.True(t, ok)
		assert.Equal(t, ReasonAllCandidatesFiltered, report.Reason)
		assert.Equal(t, http.StatusServiceUnavailable, report.HTTPStatusHint())
		require.Len(t, report.Attempts, 3)
		for _, a := range report.Attempts {
			assert.Equal(t, models.OutcomeSkippedRecentFailure, a.Outcome)
		}
		assert.Equal(t, 0, h.provider.Calls("CreatePrediction"))

		require.Len(t, h.recorder.records, 1)
		assert.Equal(t, models.GenerationStatusFailed, h.recorder.records[0].Status)
		assert.Equal(t, "all_candidates_filtered", *h.recorder.records[0].FailureReason)
	})

	t.Run("all paid and excluded", func(t *testing.T) {
		h := newHarness(t, []models.Candidate{{Identifier: "acme/pro", IsPaid: true}})

		_, err := h.orch.Generate(context.Background(), &Request{Input: prompt("x"), ExcludePaidCandidates: true})

		report, ok := AsFailureReport(err)
		require.True(t, ok)
		assert.Equal(t, ReasonAllCandidatesFiltered, report.Reason)
		assert.Empty(t, report.Attempts)
	})
}

func TestGenerate_PinnedCandidateOverridesMemoAndPaidFilter(t *testing.T) {
	h := newHarness(t, []models.Candidate{
		{Identifier: "acme/free"},
		{Identifier: "acme/pro", IsPaid: true},
	})
	h.memo.Set(context.Background(), "acme/pro", models.FailureKindBillingRequired, "402", time.Hour)

	result, err := h.orch.Generate(context.Background(), &Request{
		Input:                 prompt("x"),
		PinnedCandidate:       "acme/pro",
		ExcludePaidCandidates: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "acme/pro", result.CandidateUsed)
	assert.Equal(t, []string{"acme/pro"}, h.submitted())
}

func TestGenerate_PollBudgetExhaustionFallsThrough(t *testing.T) {
	h := newHarness(t, []models.Candidate{{Identifier: "acme/stuck"}, {Identifier: "acme/ok"}})
	h.provider.GetPredictionFunc = func(ctx context.Context, id string) (*providers.Prediction, error) {
		if id == "job-v-acme/stuck" {
			return providertest.Processing(id), nil
		}
		return providertest.Succeeded(id, "https://cdn/ok.png"), nil
	}

	result, err := h.orch.Generate(context.Background(), &Request{Input: prompt("x")})

	require.NoError(t, err)
	assert.Equal(t, "acme/ok", result.CandidateUsed)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, models.OutcomePollTimeout, result.Attempts[0].Outcome)
	assert.Equal(t, "Unexpected non-terminal status: processing", result.Attempts[0].Detail)
	assert.Equal(t, 121, h.provider.Calls("GetPrediction"))
}

func TestGenerate_SkipWorthyOutcomes(t *testing.T) {
	h := newHarness(t, []models.Candidate{
		{Identifier: "acme/gone"},
		{Identifier: "acme/forbidden"},
		{Identifier: "acme/broken"},
		{Identifier: "acme/empty"},
		{Identifier: "acme/crash"},
	})
	h.provider.GetModelFunc = func(ctx context.Context, identifier string) (*providers.ModelMetadata, error) {
		if identifier == "acme/gone" {
			return nil, providertest.StatusError(http.StatusNotFound, "model not found")
		}
		return &providers.ModelMetadata{LatestVersion: &providers.ModelVersion{ID: "v-" + identifier}}, nil
	}
	h.provider.CreatePredictionFunc = func(ctx context.Context, req *providers.PredictionRequest) (*providers.Prediction, error) {
		switch req.Version {
		case "v-acme/forbidden":
			return nil, providertest.StatusError(http.StatusForbidden, "no access")
		case "v-acme/crash":
			return nil, providertest.StatusError(http.StatusInternalServerError, "boom")
		}
		return &providers.Prediction{ID: "job-" + req.Version, Status: "starting"}, nil
	}
	h.provider.GetPredictionFunc = func(ctx context.Context, id string) (*providers.Prediction, error) {
		if id == "job-v-acme/empty" {
			return providertest.Succeeded(id), nil
		}
		return providertest.Failed(id, "CUDA out of memory"), nil
	}

	_, err := h.orch.Generate(context.Background(), &Request{Input: prompt("x")})

	report, ok := AsFailureReport(err)
	require.True(t, ok)
	assert.Equal(t, ReasonAllCandidatesFailed, report.Reason)
	assert.Equal(t, http.StatusBadGateway, report.HTTPStatusHint())
	assert.False(t, report.Fatal())

	assert.Equal(t, []models.AttemptReport{
		{Candidate: "acme/gone", Outcome: models.OutcomeMetadataFetchFailed, Detail: "model not found"},
		{Candidate: "acme/forbidden", Outcome: models.OutcomeForbidden, Detail: "no access"},
		{Candidate: "acme/broken", Outcome: models.OutcomeJobFailed, Detail: "CUDA out of memory"},
		{Candidate: "acme/empty", Outcome: models.OutcomeEmptyOutput, Detail: "job succeeded without outputs"},
		{Candidate: "acme/crash", Outcome: models.OutcomeProviderError, Detail: "HTTP 500: boom"},
	}, report.Attempts)

	assert.Nil(t, h.memo.Get(context.Background(), "acme/forbidden"), "forbidden is never memoized")
}

func TestGenerate_EndToEndWithPaidFilterAndRateLimit(t *testing.T) {
	h := newHarness(t, []models.Candidate{
		{Identifier: "acme/c1", IsPaid: true},
		{Identifier: "acme/c2", IsPaid: true},
		{Identifier: "acme/c3"},
		{Identifier: "acme/c4"},
		{Identifier: "acme/c5"},
	})
	h.provider.CreatePredictionFunc = rejectFor(http.StatusTooManyRequests, "acme/c3")
	h.provider.GetPredictionFunc = func(ctx context.Context, id string) (*providers.Prediction, error) {
		return providertest.Succeeded(id, "https://cdn/x.png"), nil
	}

	result, err := h.orch.Generate(context.Background(), &Request{
		Input:                 prompt("a red bicycle"),
		ExcludePaidCandidates: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "https://cdn/x.png", result.OutputURL)
	assert.Equal(t, "acme/c4", result.CandidateUsed)
	assert.Equal(t, []string{"acme/c3", "acme/c4"}, h.submitted())
	assert.Len(t, h.provider.Requests(), 5, "four submissions to c3 and one to c4")

	require.Len(t, result.Attempts, 1)
	assert.Equal(t, models.OutcomeRateLimited, result.Attempts[0].Outcome)

	rec := h.memo.Get(context.Background(), "acme/c3")
	require.NotNil(t, rec)
	assert.Equal(t, models.FailureKindRateLimited, rec.Kind)
	h.clock.Advance(31 * time.Second)
	assert.Nil(t, h.memo.Get(context.Background(), "acme/c3"))
}

func TestGenerate_CallerInputErrors(t *testing.T) {
	h := newHarness(t, threeFree())

	_, err := h.orch.Generate(context.Background(), &Request{})
	assert.True(t, services.IsValidationError(err))

	_, err = h.orch.Generate(context.Background(), &Request{Input: prompt("x"), PinnedCandidate: "acme/unknown"})
	assert.True(t, services.IsValidationError(err))

	assert.Equal(t, 0, h.provider.Calls("GetModel"))
	assert.Empty(t, h.recorder.records)
}

func TestGenerate_Canceled(t *testing.T) {
	h := newHarness(t, threeFree())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.orch.Generate(ctx, &Request{Input: prompt("x")})

	assert.Nil(t, result)
	assert.True(t, services.IsTimeoutError(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.provider.Calls("CreatePrediction"))
}

func TestGenerate_CanceledWhilePolling(t *testing.T) {
	h := newHarness(t, threeFree())
	ctx, cancel := context.WithCancel(context.Background())
	h.provider.GetPredictionFunc = func(c context.Context, id string) (*providers.Prediction, error) {
		cancel()
		return providertest.Processing(id), nil
	}

	_, err := h.orch.Generate(ctx, &Request{Input: prompt("x")})

	assert.True(t, services.IsTimeoutError(err))
	assert.Equal(t, []string{"acme/one"}, h.submitted())
}

func TestGenerate_SlowProviderFallsThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/models/acme/slow":
			_, _ = w.Write([]byte(`{"owner":"acme","name":"slow","latest_version":{"id":"v-slow"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/models/acme/fast":
			_, _ = w.Write([]byte(`{"owner":"acme","name":"fast","latest_version":{"id":"v-fast"}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/predictions":
			var body providers.PredictionRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Version == "v-slow" {
				select {
				case <-time.After(300 * time.Millisecond):
				case <-r.Context().Done():
					return
				}
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"pred-` + body.Version + `","status":"starting"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/predictions/pred-v-fast":
			_, _ = w.Write([]byte(`{"id":"pred-v-fast","status":"succeeded","output":["https://cdn.example.com/fast.png"]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	cat, err := catalog.New([]models.Candidate{{Identifier: "acme/slow"}, {Identifier: "acme/fast"}})
	require.NoError(t, err)

	provider := replicate.NewAdapter(providers.ProviderConfig{
		APIToken: "test-token",
		BaseURL:  server.URL,
		Timeout:  100 * time.Millisecond,
	})
	logger := zap.NewNop()
	failures := memo.NewLocalMemo()
	noSleep := func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	orch := NewOrchestrator(
		selection.NewSelector(cat, failures, logger),
		versions.NewResolver(provider, logger),
		jobs.NewClient(provider, jobs.DefaultConfig(), logger, jobs.WithSleep(noSleep)),
		failures,
		DefaultConfig(),
		logger,
	)

	result, err := orch.Generate(context.Background(), &Request{Input: prompt("x")})

	require.NoError(t, err)
	assert.Equal(t, "acme/fast", result.CandidateUsed)
	assert.Equal(t, "https://cdn.example.com/fast.png", result.OutputURL)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, "acme/slow", result.Attempts[0].Candidate)
	assert.Equal(t, models.OutcomeProviderError, result.Attempts[0].Outcome)
}
