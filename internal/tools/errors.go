package tools

import (
	"errors"
	"fmt"

	"github.com/dshills/coderag-mcp/internal/indexer"
	"github.com/dshills/coderag-mcp/internal/searcher"
	"github.com/dshills/coderag-mcp/pkg/types"
)

// Error codes shared by the MCP and HTTP surfaces
const (
	CodeInvalidParams   = -32602 // Invalid method parameters
	CodeInternalError   = -32603 // Internal JSON-RPC error
	CodeProjectNotFound = -32001 // No project with that name
	CodeSyncInProgress  = -32002 // Another writer owns the project
	CodeNotIndexed      = -32003 // Project has not finished indexing
	CodeEmptyQuery      = -32004 // Query parameter is empty
	CodeRateLimited     = -32005 // Too many calls
)

var (
	ErrInvalidParams   = errors.New("invalid params")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrOutsideRoot     = errors.New("path escapes the project root")
	ErrSensitiveFile   = errors.New("file is excluded as sensitive")
)

// Error is a tool failure with a protocol error code
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("error %d: %s", e.Code, e.Message)
}

// Code maps an error to its protocol error code
func Code(err error) int {
	var te *Error
	switch {
	case err == nil:
		return 0
	case errors.As(err, &te):
		return te.Code
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, searcher.ErrEmptyQuery):
		return CodeEmptyQuery
	case errors.Is(err, types.ErrProjectNotFound):
		return CodeProjectNotFound
	case errors.Is(err, types.ErrConcurrentSync):
		return CodeSyncInProgress
	case errors.Is(err, types.ErrInvalidProjectState):
		return CodeNotIndexed
	case errors.Is(err, ErrInvalidParams),
		errors.Is(err, ErrPathRequired),
		errors.Is(err, ErrPathNotAbsolute),
		errors.Is(err, ErrPathNotFound),
		errors.Is(err, ErrOutsideRoot),
		errors.Is(err, ErrSensitiveFile),
		errors.Is(err, indexer.ErrNotDirectory):
		return CodeInvalidParams
	default:
		return CodeInternalError
	}
}

// AsError converts err to an *Error carrying its code
func AsError(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Code: Code(err), Message: err.Error()}
}

func invalidParam(param, reason string) error {
	return &Error{
		Code:    CodeInvalidParams,
		Message: fmt.Sprintf("invalid %s: %s", param, reason),
		Data:    map[string]string{"param": param, "reason": reason},
	}
}
