package domain

import (
	"errors"
	"regexp"
)

// ErrInvalidTimestamp rejects build timestamps that do not match the
// engine's project directory suffix.
var ErrInvalidTimestamp = errors.New("timestamp must look like YYYYmmdd_HHMMSS")

// timestampRE matches the suffix the engine appends to project directories.
var timestampRE = regexp.MustCompile(`^[0-9]{8}_[0-9]{6}$`)

// BuildRequest identifies a generated project to package into an APK. The
// three fields select a warehouse directory, so they share the same charset
// rules as GenerateRequest to keep the lookup path-safe.
type BuildRequest struct {
	ProjectName  string `json:"project_name"`
	Organization string `json:"organization"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// ApplyDefaults fills optional fields with their documented default values.
func (r *BuildRequest) ApplyDefaults() {
	if r.Organization == "" {
		r.Organization = DefaultOrganization
	}
}

// Validate checks the request against the documented field constraints.
func (r *BuildRequest) Validate() error {
	if r.ProjectName == "" {
		return ErrEmptyProjectName
	}

	if len(r.ProjectName) > MaxProjectNameLen {
		return ErrProjectNameLength
	}

	if !projectNameRE.MatchString(r.ProjectName) {
		return ErrInvalidProjectName
	}

	if r.Organization != "" && !projectNameRE.MatchString(r.Organization) {
		return ErrInvalidOrganization
	}

	if r.Timestamp != "" && !timestampRE.MatchString(r.Timestamp) {
		return ErrInvalidTimestamp
	}

	return nil
}
