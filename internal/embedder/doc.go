// Package embedder generates vector embeddings for code chunks and reranks
// retrieval candidates.
//
// Providers (Jina, OpenAI, Ollama, Gemini and an offline local hasher)
// implement Embedder and make exactly one remote call per batch. Callers
// use them through Guarded, which adds:
//
//   - a content-hash LRU cache keyed by model and text
//   - batching at Config.BatchSize (default 32, hard cap 100)
//   - a per-attempt timeout (default 30s)
//   - exponential backoff: 3 attempts, 100ms base, 5s cap, no retry on 4xx other than 429
//
// A batch that still fails is reported wrapped in types.ErrBackendUnavailable.
// The indexer records that per chunk and backfills later; the searcher
// degrades to lexical-only retrieval.
//
// # Basic Usage
//
//	emb, err := embedder.New(ctx, embedder.Config{Provider: "jina", APIKey: key}, logger)
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
//	if errors.Is(err, types.ErrBackendUnavailable) {
//	    // degrade
//	}
//
// # Model tags
//
// ModelTag returns "provider/model". Stored vectors carry the tag they were
// produced with; vectors under a different tag are stale and get re-embedded.
//
// # Reranking
//
// Reranker scores query/document pairs. NewReranker returns nil when
// reranking is disabled or has no credentials. GuardedReranker bounds the
// call with a single timeout and rejects responses that are not a
// permutation of the input.
package embedder

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -destination=mocks/mock_embedder.go -package=mocks github.com/dshills/coderag-mcp/internal/embedder Embedder,Reranker
