package bucket

import "errors"

var (
	// ErrNotFound indicates the requested object does not exist (HTTP 404).
	ErrNotFound = errors.New("bucket: object not found")

	// ErrTransient indicates a network/IO failure that a caller may retry.
	ErrTransient = errors.New("bucket: transient failure")

	// ErrFatal indicates a non-retryable failure (bad URI, unexpected status).
	ErrFatal = errors.New("bucket: fatal failure")

	// ErrInvalidURI indicates a bucket URI could not be rewritten to an HTTPS URL.
	ErrInvalidURI = errors.New("bucket: invalid bucket URI")
)
