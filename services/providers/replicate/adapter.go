package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/upb/image-gateway/services/providers"
)

const (
	defaultBaseURL = "https://api.replicate.com/v1"
	providerName   = "replicate"
)

// Adapter implements providers.Client over the Replicate-style HTTP API
type Adapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewAdapter creates a new adapter
func NewAdapter(config providers.ProviderConfig) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Adapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return providerName
}

// GetModel fetches model metadata
func (a *Adapter) GetModel(ctx context.Context, identifier string) (*providers.ModelMetadata, error) {
	path, err := modelPath(identifier)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "INVALID_MODEL", err.Error(), 0, false, err)
	}

	var meta providers.ModelMetadata
	if err := a.do(ctx, http.MethodGet, path, nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// ListVersions lists published versions of a model
func (a *Adapter) ListVersions(ctx context.Context, identifier string) ([]providers.ModelVersion, error) {
	path, err := modelPath(identifier)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "INVALID_MODEL", err.Error(), 0, false, err)
	}

	var page struct {
		Results []providers.ModelVersion `json:"results"`
	}
	if err := a.do(ctx, http.MethodGet, path+"/versions", nil, &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

// CreatePrediction submits a generation job
func (a *Adapter) CreatePrediction(ctx context.Context, req *providers.PredictionRequest) (*providers.Prediction, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "Failed to marshal request", 0, false, err)
	}

	var pred providers.Prediction
	if err := a.do(ctx, http.MethodPost, "/predictions", body, &pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

// GetPrediction reads the current state of a job
func (a *Adapter) GetPrediction(ctx context.Context, id string) (*providers.Prediction, error) {
	if id == "" {
		return nil, providers.NewProviderError(a.Name(), "INVALID_ID", "prediction id is empty", 0, false, nil)
	}

	var pred providers.Prediction
	if err := a.do(ctx, http.MethodGet, "/predictions/"+url.PathEscape(id), nil, &pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

// do executes a request and decodes a 2xx JSON body into out
func (a *Adapter) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, reader)
	if err != nil {
		return providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, false, err)
	}

	// Set headers
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if a.config.APIToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.config.APIToken)
	}
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, true, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return providers.NewProviderError(a.Name(), "READ_ERROR", "Failed to read response", httpResp.StatusCode, false, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, false, err)
	}
	return nil
}

// handleErrorResponse converts a non-2xx response into a ProviderError
// keeping the raw provider text for diagnostics.
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		if detail := errResp.Message(); detail != "" {
			message = detail
		}
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	retryable := statusCode >= 500 || statusCode == http.StatusTooManyRequests

	return providers.NewProviderError(a.Name(), errorCode(statusCode), message, statusCode, retryable, nil)
}

func modelPath(identifier string) (string, error) {
	owner, name, ok := strings.Cut(identifier, "/")
	if !ok || owner == "" || name == "" {
		return "", fmt.Errorf("model identifier %q must have the form owner/name", identifier)
	}
	return "/models/" + url.PathEscape(owner) + "/" + url.PathEscape(name), nil
}

func errorCode(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusPaymentRequired:
		return "BILLING_REQUIRED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusUnprocessableEntity:
		return "UNPROCESSABLE_ENTITY"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return "HTTP_" + fmt.Sprint(statusCode)
	}
}

// ErrorResponse is the provider's problem-details error body
type ErrorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

// Message returns the most specific text in the error body
func (e ErrorResponse) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Title
}
