// Package searcher implements hybrid code search combining vector similarity
// and BM25 keyword matching.
//
// Three modes are supported:
//   - hybrid (default): vector and BM25 retrieval run concurrently and are
//     merged with reciprocal rank fusion
//   - vector: semantic search only
//   - keyword: BM25 only, never reranked
//
// # Pipeline
//
// A hybrid search scans the query for prompt injection (flag only), embeds
// it, retrieves BroadK candidates from both indexes, fuses them with
// Fuse, loads chunk rows for the best RerankCandidates entries, reranks
// them and truncates to K.
//
// If the query cannot be embedded the search degrades to lexical results
// and SearchResponse.Degraded is set. If the reranker fails the fused order
// is returned and RerankSkipped is set. Index entries without a chunk row
// are dropped, logged as types.ErrIndexInconsistency and reported to the
// OnOrphan handler so the owner can compact them.
//
// Result text is redacted again on the way out.
//
// # Reciprocal Rank Fusion
//
//	score(d) = sum over lists of 1 / (c + rank(d))
//
// Ranks start at 1, c defaults to 60 and ties are broken by chunk id.
//
// # Caching
//
// Answers are cached in an expirable LRU (default 1000 entries, 5 minute
// TTL). InvalidateProject bumps a per-project generation that is part of
// the cache key, so every commit makes older answers unreachable. Degraded
// answers are never cached.
package searcher
