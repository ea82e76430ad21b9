package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Client is the abstract asynchronous generation provider.
// Model identifiers have the form "owner/name".
type Client interface {
	// Name returns the provider name (e.g., "replicate")
	Name() string

	// GetModel fetches model metadata (GET /models/{identifier})
	GetModel(ctx context.Context, identifier string) (*ModelMetadata, error)

	// ListVersions lists published versions, newest first (GET /models/{identifier}/versions)
	ListVersions(ctx context.Context, identifier string) ([]ModelVersion, error)

	// CreatePrediction submits a job (POST /predictions)
	CreatePrediction(ctx context.Context, req *PredictionRequest) (*Prediction, error)

	// GetPrediction reads the current job state (GET /predictions/{id})
	GetPrediction(ctx context.Context, id string) (*Prediction, error)
}

// ModelVersion identifies one immutable revision of a model
type ModelVersion struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ModelMetadata is the subset of model information needed to pick a version
type ModelMetadata struct {
	Owner          string        `json:"owner"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	LatestVersion  *ModelVersion `json:"latest_version,omitempty"`
	DefaultExample *struct {
		Version string `json:"version"`
	} `json:"default_example,omitempty"`
}

// LatestVersionID returns the explicit latest version id, if present
func (m *ModelMetadata) LatestVersionID() string {
	if m == nil || m.LatestVersion == nil {
		return ""
	}
	return m.LatestVersion.ID
}

// DefaultVersionID returns the version of the default example, if present
func (m *ModelMetadata) DefaultVersionID() string {
	if m == nil || m.DefaultExample == nil {
		return ""
	}
	return m.DefaultExample.Version
}

// PredictionRequest is the body of a job submission
type PredictionRequest struct {
	Version string                 `json:"version"`
	Input   map[string]interface{} `json:"input"`
}

// Prediction is the provider's view of a job
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// Outputs normalizes the output field into an ordered list of URLs.
// Providers return either a single string or a list of strings.
func (p *Prediction) Outputs() []string {
	if p == nil || len(p.Output) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil {
		if single == "" {
			return nil
		}
		return []string{single}
	}

	var list []interface{}
	if err := json.Unmarshal(p.Output, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	return nil
}

// ErrorDetail returns the provider error as plain text
func (p *Prediction) ErrorDetail() string {
	if p == nil || len(p.Error) == 0 || string(p.Error) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.Error, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(p.Error))
}

// ProviderConfig holds common configuration for providers
type ProviderConfig struct {
	// APIToken for authentication
	APIToken string

	// BaseURL for the API (optional override)
	BaseURL string

	// Timeout for a single HTTP request
	Timeout time.Duration

	// Additional headers
	Headers map[string]string
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout: 30 * time.Second,
		Headers: make(map[string]string),
	}
}

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message (raw provider text when available)
	Message string

	// StatusCode is the HTTP status code (0 for transport failures)
	StatusCode int

	// Retryable indicates if the request can be retried
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}

// StatusCode returns the HTTP status carried by a provider error, or 0
func StatusCode(err error) int {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.StatusCode
	}
	return 0
}

// IsRateLimited reports whether the provider answered 429
func IsRateLimited(err error) bool {
	return StatusCode(err) == http.StatusTooManyRequests
}

// Detail returns the raw provider text of an error for diagnostics
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) && provErr.Message != "" {
		return provErr.Message
	}
	return err.Error()
}
