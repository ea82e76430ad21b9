// Package providertest provides a scriptable providers.Client for tests.
package providertest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/upb/image-gateway/services/providers"
)

// FakeClient is a providers.Client whose behavior is set per test.
// Unset hooks fall back to a healthy provider: every model resolves to
// version "v-<identifier>", every submission is accepted and every job
// succeeds with one output.
type FakeClient struct {
	GetModelFunc         func(ctx context.Context, identifier string) (*providers.ModelMetadata, error)
	ListVersionsFunc     func(ctx context.Context, identifier string) ([]providers.ModelVersion, error)
	CreatePredictionFunc func(ctx context.Context, req *providers.PredictionRequest) (*providers.Prediction, error)
	GetPredictionFunc    func(ctx context.Context, id string) (*providers.Prediction, error)

	mu       sync.Mutex
	calls    map[string]int
	requests []providers.PredictionRequest
}

// NewFakeClient creates a fake with default behavior
func NewFakeClient() *FakeClient {
	return &FakeClient{calls: make(map[string]int)}
}

// Name implements providers.Client
func (f *FakeClient) Name() string { return "fake" }

// GetModel implements providers.Client
func (f *FakeClient) GetModel(ctx context.Context, identifier string) (*providers.ModelMetadata, error) {
	f.record("GetModel")
	if f.GetModelFunc != nil {
		return f.GetModelFunc(ctx, identifier)
	}
	return &providers.ModelMetadata{LatestVersion: &providers.ModelVersion{ID: "v-" + identifier}}, nil
}

// ListVersions implements providers.Client
func (f *FakeClient) ListVersions(ctx context.Context, identifier string) ([]providers.ModelVersion, error) {
	f.record("ListVersions")
	if f.ListVersionsFunc != nil {
		return f.ListVersionsFunc(ctx, identifier)
	}
	return nil, nil
}

// CreatePrediction implements providers.Client
func (f *FakeClient) CreatePrediction(ctx context.Context, req *providers.PredictionRequest) (*providers.Prediction, error) {
	f.mu.Lock()
	f.calls["CreatePrediction"]++
	f.requests = append(f.requests, *req)
	f.mu.Unlock()

	if f.CreatePredictionFunc != nil {
		return f.CreatePredictionFunc(ctx, req)
	}
	return &providers.Prediction{ID: "job-" + req.Version, Status: "starting"}, nil
}

// GetPrediction implements providers.Client
func (f *FakeClient) GetPrediction(ctx context.Context, id string) (*providers.Prediction, error) {
	f.record("GetPrediction")
	if f.GetPredictionFunc != nil {
		return f.GetPredictionFunc(ctx, id)
	}
	return Succeeded(id, "https://cdn.example.com/"+id+".png"), nil
}

// Calls returns how many times a method was invoked
func (f *FakeClient) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Requests returns every submission received, in order
func (f *FakeClient) Requests() []providers.PredictionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]providers.PredictionRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *FakeClient) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
}

// StatusError builds the provider error the HTTP adapter returns for a status
func StatusError(status int, message string) error {
	return providers.NewProviderError("fake", fmt.Sprintf("HTTP_%d", status), message, status,
		status >= http.StatusInternalServerError || status == http.StatusTooManyRequests, nil)
}

// Succeeded builds a terminal successful prediction
func Succeeded(id string, outputs ...string) *providers.Prediction {
	raw, _ := json.Marshal(outputs)
	return &providers.Prediction{ID: id, Status: "succeeded", Output: raw}
}

// Failed builds a terminal failed prediction
func Failed(id, detail string) *providers.Prediction {
	raw, _ := json.Marshal(detail)
	return &providers.Prediction{ID: id, Status: "failed", Error: raw}
}

// Processing builds a non-terminal prediction
func Processing(id string) *providers.Prediction {
	return &providers.Prediction{ID: id, Status: "processing"}
}
