package jobs

import "errors"

// Sentinel errors for job registry failure modes.
// Callers should use errors.Is() to check for these.
var (
	// ErrNoTargets indicates a submission without any target; the
	// job is never created.
	ErrNoTargets = errors.New("jobs: at least one target must be provided")

	// ErrJobNotFound indicates a lookup by unknown job id.
	ErrJobNotFound = errors.New("jobs: job not found")

	// ErrArtifactNotFound indicates a request for a workspace file
	// that does not exist.
	ErrArtifactNotFound = errors.New("jobs: artifact not found")
)
