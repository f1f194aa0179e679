package indexer

import (
	"errors"
	"fmt"
	"time"

	"github.com/dshills/coderag-mcp/pkg/types"
)

// Run kinds
const (
	RunIndex = "index"
	RunSync  = "sync"
)

// Failure kinds recorded in FileError
const (
	KindIO      = "io"
	KindStorage = "storage"
	KindEmbed   = "embed"
	KindIndex   = "index"
)

// FileError is a per-file failure. The run continues past it.
type FileError struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Summary reports what one index or sync run did
type Summary struct {
	RunID   string `json:"run_id"`
	Project string `json:"project"`
	Kind    string `json:"kind"`

	FilesIndexed   int `json:"files_indexed"`
	FilesUnchanged int `json:"files_unchanged"`
	FilesDeleted   int `json:"files_deleted"`
	FilesFailed    int `json:"files_failed"`
	FilesSkipped   int `json:"files_skipped"`

	ChunksAdded   int `json:"chunks_added"`
	ChunksRemoved int `json:"chunks_removed"`
	ChunksKept    int `json:"chunks_kept"`

	EmbeddingsCreated int `json:"embeddings_created"`
	EmbeddingsFailed  int `json:"embeddings_failed"`

	Redactions       int `json:"redactions"`
	SuspiciousChunks int `json:"suspicious_chunks"`

	Errors   []FileError `json:"errors,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`

	Cancelled bool               `json:"cancelled"`
	State     types.ProjectState `json:"state"`
	Duration  time.Duration      `json:"duration"`
}

// HasWarnings reports whether the run finished with anything left undone
func (s *Summary) HasWarnings() bool {
	return len(s.Errors) > 0 || len(s.Warnings) > 0 || s.EmbeddingsFailed > 0
}

func (s *Summary) addError(path, kind string, err error) {
	s.FilesFailed++
	s.Errors = append(s.Errors, FileError{Path: path, Kind: kind, Message: err.Error()})
}

func (s *Summary) warn(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// errorKind maps a failure to the kind reported for it
func errorKind(err error) string {
	switch {
	case errors.Is(err, types.ErrBackendUnavailable):
		return KindEmbed
	case errors.Is(err, types.ErrIndexInconsistency):
		return KindIndex
	case errors.Is(err, types.ErrRecoverableIO):
		return KindIO
	default:
		return KindStorage
	}
}
