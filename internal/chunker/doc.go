// Package chunker divides source files into chunks for embedding and search.
//
// Each language is handled by a Strategy:
//
//   - Go files are cut along top-level declarations found by go/ast, with
//     the package clause and imports in a leading module chunk.
//   - Rust, Python, JavaScript, TypeScript, C, C++, Java, Ruby and shell use
//     tree-sitter grammars. Nested definitions are dropped in favour of the
//     enclosing one unless the enclosing node is too large to embed whole.
//   - Env, JSON, YAML and TOML files are cut per assignment, key or table.
//   - Markdown is cut per heading.
//   - Everything else is cut into 60-line windows overlapping by 5 lines.
//
// Whatever the strategy, a chunk over MaxChunkBytes is split into 40-line
// windows, a file that fails to parse is chunked as lines, and every file
// yields at least one chunk. An empty file yields a single empty chunk of
// kind file so it still has a row to track.
//
//	c := chunker.New(logger)
//	chunks, err := c.Chunk(ctx, "internal/api/server.go", content, types.LangGo)
//
// Chunk ids derive from the path, kind, symbol and content of a chunk, never
// from its position, so moving a function does not change its id.
package chunker
