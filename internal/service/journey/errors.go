package journey

import "errors"

// Hard failures. Each aborts the operation and is returned to the caller,
// usually wrapped with detail; compare with errors.Is.
var (
	ErrInvalidContext      = errors.New("journey: missing user identity")
	ErrInvalidInput        = errors.New("journey: invalid input")
	ErrNoPublishedVersion  = errors.New("journey: no published version")
	ErrVersionNotPublished = errors.New("journey: version is not published")
	ErrInvalidDefinition   = errors.New("journey: invalid definition")
	ErrRunNotFound         = errors.New("journey: run not found")
	ErrUnauthorized        = errors.New("journey: run belongs to another user")
	ErrRunNotActive        = errors.New("journey: run is not in progress")
	ErrStepMismatch        = errors.New("journey: step is not the current step")
	ErrStepNotFound        = errors.New("journey: step not found")
	ErrVersionNotFound     = errors.New("journey: version not found")
	ErrConcurrentUpdate    = errors.New("journey: run was modified concurrently")
)
