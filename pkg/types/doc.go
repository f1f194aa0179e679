// Package types provides shared type definitions for the coderag engine.
//
// Chunk is the atomic unit of indexed and retrieved code. Its ID is derived
// from the file path, kind, symbol and a SHA-256 fingerprint of the raw text,
// so an unchanged chunk keeps its ID (and its embedding) when code around it
// moves:
//
//	chunks := strategy.Chunk(...)
//	types.AssignIDs(chunks)
//
// Language is the tagged variant that selects a chunking strategy:
//
//	lang := types.LanguageFromPath("src/main.rs") // types.LangRust
//
// ProjectState models the per-project lifecycle
// (uninitialized -> indexing -> ready -> syncing -> ready, removing -> gone):
//
//	next, err := state.Transition(types.StateSyncing)
//
// The error taxonomy (ErrRecoverableIO, ErrParseFailure, ErrBackendUnavailable,
// ErrIndexInconsistency, ErrConcurrentSync, ErrResourceExhausted) is shared by
// all layers and checked with errors.Is.
package types
