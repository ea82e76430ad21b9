package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/upb/image-gateway/models"
	"gopkg.in/yaml.v3"
)

// candidatesFile is the on-disk shape of CANDIDATES_FILE
type candidatesFile struct {
	Candidates []models.Candidate `yaml:"candidates"`
}

// DefaultCandidates is the catalog used when CANDIDATES_FILE is unset,
// in preference order
func DefaultCandidates() []models.Candidate {
	return []models.Candidate{
		{Identifier: "black-forest-labs/flux-1.1-pro", DisplayName: "FLUX 1.1 Pro", IsPaid: true},
		{Identifier: "black-forest-labs/flux-pro", DisplayName: "FLUX Pro", IsPaid: true},
		{Identifier: "black-forest-labs/flux-dev", DisplayName: "FLUX Dev"},
		{Identifier: "black-forest-labs/flux-schnell", DisplayName: "FLUX Schnell"},
		{Identifier: "stability-ai/sdxl", DisplayName: "Stable Diffusion XL"},
	}
}

// LoadCandidates reads the candidate catalog from a YAML file.
// An empty path selects DefaultCandidates; an empty file is an empty catalog.
func LoadCandidates(path string) ([]models.Candidate, error) {
	if path == "" {
		return DefaultCandidates(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates file %s: %w", path, err)
	}

	var file candidatesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse candidates file %s: %w", path, err)
	}

	if file.Candidates == nil {
		return []models.Candidate{}, nil
	}
	return file.Candidates, nil
}

func validateCandidates(candidates []models.Candidate) error {
	seen := make(map[string]struct{}, len(candidates))
	for i, c := range candidates {
		id := strings.TrimSpace(c.Identifier)
		if id == "" {
			return fmt.Errorf("candidate %d: identifier is required", i)
		}
		if !models.ValidIdentifier(id) {
			return fmt.Errorf("candidate %q: identifier must look like owner/name or owner/name:version", id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("candidate %q is configured more than once", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
