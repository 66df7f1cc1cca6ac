package runner

import "errors"

// Sentinel errors for runner failure modes.
// Callers should use errors.Is() to check for these.
var (
	// ErrEmptyCommand indicates Run was invoked without a program
	// to execute.
	ErrEmptyCommand = errors.New("runner: empty command")
)
