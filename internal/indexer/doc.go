// Package indexer coordinates indexing runs and owns the in-memory indexes
// of every project.
//
// # Basic Usage
//
//	coord := indexer.New(store, emb, filter, indexer.OptionsFrom(cfg), logger)
//	coord.OnCommit(search.InvalidateProject)
//	search.OnOrphan(coord.DropOrphans)
//
//	sum, err := coord.Index(ctx, "/path/to/project", indexer.IndexOptions{})
//	sum, err = coord.Sync(ctx, "project")
//
//	h, err := coord.Open(ctx, "project")
//	resp, err := search.Search(ctx, h.Target(), searcher.SearchRequest{Query: "login"})
//
// # Project lifecycle
//
// A project moves through uninitialized, indexing, ready (or
// ready_with_warnings), syncing and removing. Index, Sync, Remove and
// Compact take the project's IndexLock without blocking; a second writer
// gets types.ErrConcurrentSync. Different projects never wait on each other.
//
// # Pipeline
//
//  1. Walk: ignore patterns, .coderagignore, the size cap and sensitive
//     files decide what is considered
//  2. Classify: content fingerprints sort files into new, modified,
//     unchanged and deleted
//  3. Prepare (worker pool): read, chunk, redact, diff against stored
//     chunks and embed the added ones
//  4. Commit (single writer): one transaction per file, then the vector,
//     BM25 and call graph indexes are updated, inserts before removals
//  5. Delete files that disappeared
//  6. Backfill chunks whose vector is missing or from another model
//
// Cancellation is checked between files. A file that was not committed
// keeps its previous row, so the next run picks it up again.
//
// # Watching
//
// EventQueue debounces file-system events per project and runs one sync per
// burst. Watcher feeds it from fsnotify.
package indexer
