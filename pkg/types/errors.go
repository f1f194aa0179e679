package types

import "errors"

// Error taxonomy shared by the indexing and retrieval layers.
// Callers wrap these with fmt.Errorf("...: %w") and test with errors.Is.
var (
	// ErrRecoverableIO marks an unreadable file; the file is skipped
	ErrRecoverableIO = errors.New("recoverable io error")
	// ErrParseFailure marks a chunker fallback to line windows
	ErrParseFailure = errors.New("parse failure")
	// ErrBackendUnavailable is returned when an embed or rerank call fails after retries
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrIndexInconsistency marks an orphaned vector, lexical or call-graph entry
	ErrIndexInconsistency = errors.New("index inconsistency")
	// ErrConcurrentSync rejects an index, sync or remove that overlaps another on the same project
	ErrConcurrentSync = errors.New("sync already in progress for project")
	// ErrResourceExhausted is the only error fatal to a whole run
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrProjectNotFound is returned for unknown project names
	ErrProjectNotFound = errors.New("project not found")
	// ErrInvalidProjectState is returned when an operation is not allowed in the current state
	ErrInvalidProjectState = errors.New("invalid project state")
)

// Validation errors
var (
	ErrInvalidChunkID = errors.New("invalid chunk ID")
	ErrInvalidRank    = errors.New("rank must be >= 1")
	ErrInvalidSpan    = errors.New("invalid line span")
	ErrMissingFile    = errors.New("file path is required")
)
