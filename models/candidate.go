package models

import (
	"regexp"
	"strings"
)

// identifierPattern matches "owner/name" with an optional ":version" suffix
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][\w.\-]*/[\w.\-]+(:[\w.\-]+)?$`)

// ValidIdentifier reports whether id is a well-formed candidate identifier
func ValidIdentifier(id string) bool {
	return identifierPattern.MatchString(id)
}

// Candidate represents one upstream generation backend
type Candidate struct {
	Identifier  string `json:"identifier" yaml:"identifier"` // e.g. "black-forest-labs/flux-schnell"
	DisplayName string `json:"display_name" yaml:"display_name"`
	IsPaid      bool   `json:"is_paid" yaml:"is_paid"`
}

// Name returns the display name, falling back to the identifier
func (c Candidate) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Identifier
}

// PinnedVersion splits an "owner/name:version" identifier.
// Returns the model part, the version and true when a version suffix is present.
func (c Candidate) PinnedVersion() (string, string, bool) {
	idx := strings.LastIndex(c.Identifier, ":")
	if idx <= 0 || idx == len(c.Identifier)-1 {
		return c.Identifier, "", false
	}
	return c.Identifier[:idx], c.Identifier[idx+1:], true
}

// ResolvedVersion is the immutable version handle for a candidate
type ResolvedVersion struct {
	CandidateIdentifier string `json:"candidate_identifier"`
	VersionID           string `json:"version_id"`
}
