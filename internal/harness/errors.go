package harness

import "errors"

// Failure classes. Every failure of a run is reported as one error message
// whose text starts with the class, so a controller can tell them apart.
var (
	ErrMalformedRequest  = errors.New("malformed request")
	ErrMalformedInstance = errors.New("malformed instance")
	ErrOptimizerAborted  = errors.New("optimizer aborted")
	ErrRenderFailed      = errors.New("render failed")
)

// ErrAlreadyConfigured is returned when Configure is called twice on one
// harness. A fresh run needs a fresh harness.
var ErrAlreadyConfigured = errors.New("harness already configured")
