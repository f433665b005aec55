package upload

import "errors"

// Sentinel errors surfaced by the chunk store. Handlers map these to
// response codes with errors.Is.
var (
	// ErrBadChunkCount reports a missing or out-of-range chunk index or
	// total. Nothing is written to storage when it is returned.
	ErrBadChunkCount = errors.New("upload: chunk index or total out of range")

	// ErrBadUploadID reports an upload identifier that is empty after
	// sanitizing or contains path separators.
	ErrBadUploadID = errors.New("upload: invalid upload id")

	// ErrBadName reports a missing original filename.
	ErrBadName = errors.New("upload: original name is required")

	// ErrChunkTooLarge reports a chunk body over the configured ceiling.
	ErrChunkTooLarge = errors.New("upload: chunk exceeds size limit")

	// ErrMissingChunk reports a gap in the chunk sequence at assembly
	// time. The session is left on disk for inspection.
	ErrMissingChunk = errors.New("upload: missing chunk at assembly")

	// ErrSessionNotFound reports an unknown upload session.
	ErrSessionNotFound = errors.New("upload: session not found")

	// ErrNotAssembled reports that a session has no assembled file yet.
	ErrNotAssembled = errors.New("upload: session not assembled")
)
