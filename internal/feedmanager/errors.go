package feedmanager

import "errors"

var (
	// ErrInvalidID indicates a feedId or subfeedHash was too short to
	// shard (mirrors bucket.ErrFatal's role for malformed identifiers).
	ErrInvalidID = errors.New("feedmanager: invalid feedId or subfeedHash")

	// ErrTransient indicates a retryable local-disk failure.
	ErrTransient = errors.New("feedmanager: transient failure")
)
