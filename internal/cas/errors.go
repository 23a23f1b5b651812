package cas

import "errors"

var (
	// ErrNotFound indicates no stored file or link exists for the key.
	ErrNotFound = errors.New("cas: file not found")

	// ErrIntegrityViolation indicates a computed hash did not match the
	// expected one; any temp file involved is deleted and the operation
	// is aborted, never auto-repaired.
	ErrIntegrityViolation = errors.New("cas: integrity violation")

	// ErrPreconditionFailed indicates a link's declared stat does not
	// match the file it is being linked from.
	ErrPreconditionFailed = errors.New("cas: precondition failed")

	// ErrTransient indicates an I/O failure a caller may retry (e.g. a
	// rename race where the destination existed transiently).
	ErrTransient = errors.New("cas: transient I/O failure")

	// ErrInvalidKey indicates a FileKey could not be resolved to a path
	// (e.g. neither sha1 nor chunkOf nor manifestSha1 set).
	ErrInvalidKey = errors.New("cas: invalid file key")

	// ErrChunkNotLocal indicates concatenateChunksAndStoreResult was asked
	// to assemble a chunk that isn't present locally.
	ErrChunkNotLocal = errors.New("cas: chunk not stored locally")
)
