package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/upb/image-gateway/models"
)

var (
	// ErrCandidateNotFound is returned when an identifier is not in the catalog
	ErrCandidateNotFound = errors.New("candidate not found")

	// ErrDuplicateCandidate is returned when an identifier appears twice
	ErrDuplicateCandidate = errors.New("duplicate candidate identifier")

	// ErrEmptyIdentifier is returned for a candidate without an identifier
	ErrEmptyIdentifier = errors.New("candidate identifier cannot be empty")
)

// Catalog is the ordered, immutable list of configured candidates.
// It is built once at process start and shared read-only across requests.
type Catalog struct {
	candidates []models.Candidate
	index      map[string]int
}

// New builds a catalog preserving the configured preference order
func New(candidates []models.Candidate) (*Catalog, error) {
	c := &Catalog{
		candidates: make([]models.Candidate, 0, len(candidates)),
		index:      make(map[string]int, len(candidates)),
	}

	for _, cand := range candidates {
		cand.Identifier = strings.TrimSpace(cand.Identifier)
		if cand.Identifier == "" {
			return nil, ErrEmptyIdentifier
		}
		if _, exists := c.index[cand.Identifier]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCandidate, cand.Identifier)
		}
		c.index[cand.Identifier] = len(c.candidates)
		c.candidates = append(c.candidates, cand)
	}

	return c, nil
}

// All returns a copy of the candidates in preference order
func (c *Catalog) All() []models.Candidate {
	out := make([]models.Candidate, len(c.candidates))
	copy(out, c.candidates)
	return out
}

// Get retrieves a candidate by identifier
func (c *Catalog) Get(identifier string) (models.Candidate, error) {
	idx, ok := c.index[identifier]
	if !ok {
		return models.Candidate{}, ErrCandidateNotFound
	}
	return c.candidates[idx], nil
}

// Contains reports whether the identifier is configured
func (c *Catalog) Contains(identifier string) bool {
	_, ok := c.index[identifier]
	return ok
}

// Len returns the number of configured candidates
func (c *Catalog) Len() int {
	return len(c.candidates)
}

// Free returns the candidates that are not paid, in preference order
func (c *Catalog) Free() []models.Candidate {
	out := make([]models.Candidate, 0, len(c.candidates))
	for _, cand := range c.candidates {
		if !cand.IsPaid {
			out = append(out, cand)
		}
	}
	return out
}
