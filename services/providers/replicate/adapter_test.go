package replicate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/image-gateway/services/providers"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewAdapter(providers.ProviderConfig{
		APIToken: "test-token",
		BaseURL:  server.URL,
	})
}

func TestNewAdapter(t *testing.T) {
	adapter := NewAdapter(providers.ProviderConfig{APIToken: "k"})

	assert.Equal(t, "replicate", adapter.Name())
	assert.Equal(t, defaultBaseURL, adapter.config.BaseURL)
	assert.NotZero(t, adapter.config.Timeout)
}

func TestAdapter_GetModel(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/models/black-forest-labs/flux-schnell", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"owner":"black-forest-labs","name":"flux-schnell","latest_version":{"id":"v-latest"},"default_example":{"version":"v-default"}}`))
	})

	meta, err := adapter.GetModel(context.Background(), "black-forest-labs/flux-schnell")
	require.NoError(t, err)
	assert.Equal(t, "v-latest", meta.LatestVersionID())
	assert.Equal(t, "v-default", meta.DefaultVersionID())
}

func TestAdapter_GetModel_InvalidIdentifier(t *testing.T) {
	adapter := NewAdapter(providers.ProviderConfig{})

	_, err := adapter.GetModel(context.Background(), "no-slash")
	require.Error(t, err)
	assert.Equal(t, 0, providers.StatusCode(err))
}

func TestAdapter_ListVersions(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/stability-ai/sdxl/versions", r.URL.Path)
		_, _ = w.Write([]byte(`{"results":[{"id":"v2"},{"id":"v1"}]}`))
	})

	versions, err := adapter.ListVersions(context.Background(), "stability-ai/sdxl")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "v2", versions[0].ID)
}

func TestAdapter_CreatePrediction(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predictions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body providers.PredictionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "v1", body.Version)
		assert.Equal(t, "a red bicycle", body.Input["prompt"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pred-1","status":"starting"}`))
	})

	pred, err := adapter.CreatePrediction(context.Background(), &providers.PredictionRequest{
		Version: "v1",
		Input:   map[string]interface{}{"prompt": "a red bicycle"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pred-1", pred.ID)
	assert.Equal(t, "starting", pred.Status)
}

func TestAdapter_ErrorResponses(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantCode   string
		wantDetail string
		retryable  bool
	}{
		{
			name:       "billing required",
			status:     http.StatusPaymentRequired,
			body:       `{"title":"Payment required","detail":"You have insufficient credit"}`,
			wantCode:   "BILLING_REQUIRED",
			wantDetail: "You have insufficient credit",
		},
		{
			name:       "rate limited",
			status:     http.StatusTooManyRequests,
			body:       `{"detail":"Request was throttled"}`,
			wantCode:   "RATE_LIMITED",
			wantDetail: "Request was throttled",
			retryable:  true,
		},
		{
			name:       "unauthorized plain text",
			status:     http.StatusUnauthorized,
			body:       `Invalid token`,
			wantCode:   "UNAUTHORIZED",
			wantDetail: "Invalid token",
		},
		{
			name:       "server error empty body",
			status:     http.StatusBadGateway,
			body:       ``,
			wantCode:   "HTTP_502",
			wantDetail: "Bad Gateway",
			retryable:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := adapter.CreatePrediction(context.Background(), &providers.PredictionRequest{Version: "v"})
			require.Error(t, err)

			var provErr *providers.ProviderError
			require.ErrorAs(t, err, &provErr)
			assert.Equal(t, tt.status, provErr.StatusCode)
			assert.Equal(t, tt.wantCode, provErr.Code)
			assert.Equal(t, tt.wantDetail, provErr.Message)
			assert.Equal(t, tt.retryable, provErr.Retryable)
		})
	}
}

func TestAdapter_GetPrediction(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predictions/pred-9", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"pred-9","status":"succeeded","output":["https://cdn/x.png"]}`))
	})

	pred, err := adapter.GetPrediction(context.Background(), "pred-9")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", pred.Status)
	assert.Equal(t, []string{"https://cdn/x.png"}, pred.Outputs())
}

func TestAdapter_GetPrediction_EmptyID(t *testing.T) {
	adapter := NewAdapter(providers.ProviderConfig{})

	_, err := adapter.GetPrediction(context.Background(), "")
	assert.Error(t, err)
}
