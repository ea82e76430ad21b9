// Package versions resolves candidate identifiers to immutable provider
// version handles and keeps them for the life of the process.
package versions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/services/providers"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoVersionAvailable is returned when metadata carries no usable version id
	ErrNoVersionAvailable = errors.New("no version available")

	// ErrMetadataFetchFailed is returned when the model metadata request itself fails
	ErrMetadataFetchFailed = errors.New("metadata fetch failed")
)

// ResolveError describes a skip-worthy resolution failure for one candidate
type ResolveError struct {
	Identifier string
	Kind       error // ErrNoVersionAvailable or ErrMetadataFetchFailed
	Detail     string
	Cause      error
}

// Error implements the error interface
func (e *ResolveError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %v: %s", e.Identifier, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %v", e.Identifier, e.Kind)
}

// Is matches the failure kind sentinel
func (e *ResolveError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying provider error
func (e *ResolveError) Unwrap() error {
	return e.Cause
}

// Outcome maps the failure to the attempt outcome reported to callers
func (e *ResolveError) Outcome() models.AttemptOutcome {
	if e.Kind == ErrMetadataFetchFailed {
		return models.OutcomeMetadataFetchFailed
	}
	return models.OutcomeNoVersionAvailable
}

// Resolver maps candidate identifiers to version handles.
// A resolved entry is never invalidated; a restart is needed to pick up a
// newer upstream version.
type Resolver struct {
	client       providers.Client
	logger       *zap.Logger
	fetchTimeout time.Duration

	mu    sync.RWMutex
	cache map[string]models.ResolvedVersion
	group singleflight.Group
}

// DefaultFetchTimeout bounds one shared metadata fetch
const DefaultFetchTimeout = 30 * time.Second

// Option configures a Resolver
type Option func(*Resolver)

// WithFetchTimeout bounds the shared metadata fetch
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}

// NewResolver creates a resolver with an empty cache
func NewResolver(client providers.Client, logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		client:       client,
		logger:       logger,
		fetchTimeout: DefaultFetchTimeout,
		cache:        make(map[string]models.ResolvedVersion),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the version handle for the identifier.
// Concurrent misses for the same identifier share one metadata fetch. The
// shared fetch is detached from any single caller, so one caller giving up
// does not fail the others; each caller waits only as long as its own ctx.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (models.ResolvedVersion, error) {
	if resolved, ok := r.Cached(identifier); ok {
		return resolved, nil
	}
	if err := ctx.Err(); err != nil {
		return models.ResolvedVersion{}, err
	}

	ch := r.group.DoChan(identifier, func() (interface{}, error) {
		if resolved, ok := r.Cached(identifier); ok {
			return resolved, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()

		resolved, err := r.fetch(fetchCtx, identifier)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if existing, ok := r.cache[identifier]; ok {
			resolved = existing
		} else {
			r.cache[identifier] = resolved
		}
		r.mu.Unlock()

		r.logger.Debug("resolved candidate version",
			zap.String("candidate", identifier),
			zap.String("version", resolved.VersionID))

		return resolved, nil
	})

	select {
	case <-ctx.Done():
		return models.ResolvedVersion{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.ResolvedVersion{}, res.Err
		}
		return res.Val.(models.ResolvedVersion), nil
	}
}

// Cached returns the cached handle without fetching
func (r *Resolver) Cached(identifier string) (models.ResolvedVersion, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolved, ok := r.cache[identifier]
	return resolved, ok
}

// Len returns the number of cached handles
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// fetch walks latest version, default example version, then the version listing
func (r *Resolver) fetch(ctx context.Context, identifier string) (models.ResolvedVersion, error) {
	if _, version, ok := (models.Candidate{Identifier: identifier}).PinnedVersion(); ok {
		return models.ResolvedVersion{CandidateIdentifier: identifier, VersionID: version}, nil
	}

	meta, err := r.client.GetModel(ctx, identifier)
	if err != nil {
		return models.ResolvedVersion{}, &ResolveError{
			Identifier: identifier,
			Kind:       ErrMetadataFetchFailed,
			Detail:     providers.Detail(err),
			Cause:      err,
		}
	}

	if id := meta.LatestVersionID(); id != "" {
		return models.ResolvedVersion{CandidateIdentifier: identifier, VersionID: id}, nil
	}
	if id := meta.DefaultVersionID(); id != "" {
		return models.ResolvedVersion{CandidateIdentifier: identifier, VersionID: id}, nil
	}

	listed, err := r.client.ListVersions(ctx, identifier)
	if err != nil {
		return models.ResolvedVersion{}, &ResolveError{
			Identifier: identifier,
			Kind:       ErrNoVersionAvailable,
			Detail:     providers.Detail(err),
			Cause:      err,
		}
	}
	for _, v := range listed {
		if v.ID != "" {
			return models.ResolvedVersion{CandidateIdentifier: identifier, VersionID: v.ID}, nil
		}
	}

	return models.ResolvedVersion{}, &ResolveError{
		Identifier: identifier,
		Kind:       ErrNoVersionAvailable,
		Detail:     "metadata carries no version id",
	}
}
