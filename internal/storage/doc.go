// Package storage provides SQLite-based persistence for indexed code data.
//
// The database is the source of truth for every project. The in-memory
// vector, lexical and call graph indexes are rebuilt from it when a project
// is loaded.
//
// # Database Schema
//
// Tables:
//   - projects: name, root path, lifecycle state, last sync time
//   - files: one row per fully committed file; this is the persisted sync state
//   - chunks: chunk rows keyed by (project_id, id), content already redacted
//   - embeddings: float32 vectors tagged with the "provider/model" that made them
//   - symbols: definitions owned by chunks
//   - call_edges: call sites inside chunk bodies
//
// Every table reaches projects through ON DELETE CASCADE, so removing a
// project is one DELETE.
//
// # Committing a file
//
// All writes for one file go through CommitFile, which runs in a single
// transaction:
//
//	err := db.CommitFile(ctx, &storage.FileCommit{
//	    File:      file,
//	    Added:     added,
//	    Unchanged: moved,
//	    Removed:   removedIDs,
//	    Vectors:   vectors,
//	    Symbols:   symbols,
//	    Edges:     edges,
//	})
//
// If the process dies before the commit, the previous file row (or none)
// remains and the next sync sees the file as modified (or new).
//
// # Build modes
//
// The default build uses modernc.org/sqlite and ranks exact vector searches
// in Go. Building with -tags sqlite_vec uses mattn/go-sqlite3 with the
// sqlite-vec extension and ranks in SQL.
//
// Out-of-space and out-of-memory failures are reported as
// types.ErrResourceExhausted.
package storage
