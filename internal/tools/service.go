// Package tools implements the tool calls exposed over MCP and HTTP. Both
// surfaces decode their arguments into the param structs here and render
// the returned values as JSON.
package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/indexer"
	"github.com/dshills/coderag-mcp/internal/logging"
	"github.com/dshills/coderag-mcp/internal/searcher"
	"github.com/dshills/coderag-mcp/internal/security"
	"github.com/dshills/coderag-mcp/pkg/types"
)

// Limits on caller-supplied values
const (
	DefaultSymbolLimit = 50
	MaxSymbolLimit     = 500
	DefaultMaxFileSize = 1 << 20
)

// Service answers tool calls against the coordinator and searcher
type Service struct {
	coord       *indexer.Coordinator
	search      *searcher.Searcher
	filter      *security.Filter
	maxFileSize int64
	logger      *zap.Logger
}

// NewService creates a Service. maxFileSize caps get_file reads; zero means
// DefaultMaxFileSize.
func NewService(coord *indexer.Coordinator, search *searcher.Searcher, filter *security.Filter, maxFileSize int64, logger *zap.Logger) *Service {
	if filter == nil {
		filter = security.NewFilter(logger)
	}
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Service{
		coord:       coord,
		search:      search,
		filter:      filter,
		maxFileSize: maxFileSize,
		logger:      logging.OrNop(logger),
	}
}

// SearchParams are the arguments of search_code, find_similar_code and
// text_search
type SearchParams struct {
	Project string `json:"project"`
	Query   string `json:"query"`
	K       int    `json:"k,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// SearchResult is the answer of the search tools
type SearchResult struct {
	Project        string               `json:"project"`
	Mode           string               `json:"mode"`
	Results        []types.SearchResult `json:"results"`
	Degraded       bool                 `json:"degraded,omitempty"`
	DegradedReason string               `json:"degraded_reason,omitempty"`
	Reranked       bool                 `json:"reranked,omitempty"`
	RerankSkipped  bool                 `json:"rerank_skipped,omitempty"`
	QueryWarnings  []string             `json:"query_warnings,omitempty"`
	DurationMS     int64                `json:"duration_ms"`
}

func toSearchResult(project string, resp *searcher.SearchResponse) *SearchResult {
	results := resp.Results
	if results == nil {
		results = []types.SearchResult{}
	}
	return &SearchResult{
		Project:        project,
		Mode:           string(resp.SearchMode),
		Results:        results,
		Degraded:       resp.Degraded,
		DegradedReason: resp.DegradedReason,
		Reranked:       resp.Reranked,
		RerankSkipped:  resp.RerankSkipped,
		QueryWarnings:  resp.QueryWarnings,
		DurationMS:     resp.Duration.Milliseconds(),
	}
}

// ListProjects lists every known project
func (s *Service) ListProjects(ctx context.Context) ([]indexer.ProjectInfo, error) {
	projects, err := s.coord.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	if projects == nil {
		projects = []indexer.ProjectInfo{}
	}
	return projects, nil
}

// SearchCode runs a hybrid (or vector / keyword) search
func (s *Service) SearchCode(ctx context.Context, p SearchParams) (*SearchResult, error) {
	if err := checkSearch(p); err != nil {
		return nil, err
	}
	mode := searcher.SearchMode(p.Mode)
	switch mode {
	case "", searcher.SearchModeHybrid, searcher.SearchModeVector, searcher.SearchModeKeyword:
	default:
		return nil, invalidParam("mode", "must be hybrid, vector or keyword")
	}
	h, err := s.coord.Open(ctx, p.Project)
	if err != nil {
		return nil, err
	}
	resp, err := s.search.Search(ctx, h.Target(), searcher.SearchRequest{Query: p.Query, K: p.K, Mode: mode})
	if err != nil {
		return nil, err
	}
	return toSearchResult(h.Project.Name, resp), nil
}

// FindSimilarCode searches with a code snippet as the query
func (s *Service) FindSimilarCode(ctx context.Context, p SearchParams) (*SearchResult, error) {
	if err := checkSearch(p); err != nil {
		return nil, err
	}
	h, err := s.coord.Open(ctx, p.Project)
	if err != nil {
		return nil, err
	}
	resp, err := s.search.FindSimilar(ctx, h.Target(), p.Query, p.K)
	if err != nil {
		return nil, err
	}
	return toSearchResult(h.Project.Name, resp), nil
}

// TextSearch runs a BM25-only search over the given terms
func (s *Service) TextSearch(ctx context.Context, p SearchParams) (*SearchResult, error) {
	if err := checkSearch(p); err != nil {
		return nil, err
	}
	h, err := s.coord.Open(ctx, p.Project)
	if err != nil {
		return nil, err
	}
	resp, err := s.search.TextSearch(ctx, h.Target(), p.Query, p.K)
	if err != nil {
		return nil, err
	}
	return toSearchResult(h.Project.Name, resp), nil
}

// SymbolParams are the arguments of search_symbols
type SymbolParams struct {
	Project     string `json:"project"`
	NamePattern string `json:"name_pattern"`
	Limit       int    `json:"limit,omitempty"`
}

// SearchSymbols finds definitions by glob (* and ?) or substring
func (s *Service) SearchSymbols(ctx context.Context, p SymbolParams) ([]types.SymbolRef, error) {
	if err := requireProject(p.Project); err != nil {
		return nil, err
	}
	pattern := strings.TrimSpace(p.NamePattern)
	if pattern == "" {
		return nil, invalidParam("name_pattern", "missing or empty")
	}
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultSymbolLimit
	}
	limit = min(limit, MaxSymbolLimit)

	h, err := s.coord.Open(ctx, p.Project)
	if err != nil {
		return nil, err
	}
	symbols, err := s.coord.Store().SearchSymbols(ctx, h.Project.ID, pattern, limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.SymbolRef, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, sym.ToSymbolRef())
	}
	return out, nil
}

// CallParams are the arguments of find_callers and find_callees
type CallParams struct {
	Project string `json:"project"`
	Symbol  string `json:"symbol"`
}

// FindCallers lists the chunks whose body calls the symbol
func (s *Service) FindCallers(ctx context.Context, p CallParams) ([]types.ChunkRef, error) {
	h, err := s.openForSymbol(ctx, p)
	if err != nil {
		return nil, err
	}
	refs := h.Graph.FindCallers(p.Symbol)
	if refs == nil {
		refs = []types.ChunkRef{}
	}
	return refs, nil
}

// FindCallees lists the indexed symbols called by every definition of the
// symbol
func (s *Service) FindCallees(ctx context.Context, p CallParams) ([]types.SymbolRef, error) {
	h, err := s.openForSymbol(ctx, p)
	if err != nil {
		return nil, err
	}
	refs := h.Graph.FindCallees(p.Symbol)
	if refs == nil {
		refs = []types.SymbolRef{}
	}
	return refs, nil
}

func (s *Service) openForSymbol(ctx context.Context, p CallParams) (*indexer.Handle, error) {
	if err := requireProject(p.Project); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Symbol) == "" {
		return nil, invalidParam("symbol", "missing or empty")
	}
	return s.coord.Open(ctx, p.Project)
}

// IndexParams are the arguments of index_project
type IndexParams struct {
	Path  string `json:"path"`
	Name  string `json:"name,omitempty"`
	Force bool   `json:"force,omitempty"`
}

// IndexProject indexes a directory, creating the project on first use
func (s *Service) IndexProject(ctx context.Context, p IndexParams) (*indexer.Summary, error) {
	if err := validatePath(p.Path); err != nil {
		return nil, err
	}
	return s.coord.Index(ctx, p.Path, indexer.IndexOptions{Name: p.Name, Force: p.Force})
}

// ProjectParams name a project
type ProjectParams struct {
	Project string `json:"project"`
}

// SyncProject brings a project up to date
func (s *Service) SyncProject(ctx context.Context, p ProjectParams) (*indexer.Summary, error) {
	if err := requireProject(p.Project); err != nil {
		return nil, err
	}
	return s.coord.Sync(ctx, p.Project)
}

// RemoveResult is the answer of remove_project
type RemoveResult struct {
	Project string `json:"project"`
	Removed bool   `json:"removed"`
}

// RemoveProject deletes a project and everything derived from it
func (s *Service) RemoveProject(ctx context.Context, p ProjectParams) (*RemoveResult, error) {
	if err := requireProject(p.Project); err != nil {
		return nil, err
	}
	if err := s.coord.Remove(ctx, p.Project); err != nil {
		return nil, err
	}
	return &RemoveResult{Project: p.Project, Removed: true}, nil
}

// StatusResult is the answer of project_status
type StatusResult struct {
	Name            string             `json:"name"`
	Path            string             `json:"path"`
	State           types.ProjectState `json:"state"`
	LastSync        *time.Time         `json:"last_sync,omitempty"`
	Busy            bool               `json:"busy"`
	Model           string             `json:"model"`
	Files           int                `json:"files"`
	Chunks          int                `json:"chunks"`
	Embeddings      int                `json:"embeddings"`
	StaleEmbeddings int                `json:"stale_embeddings"`
	Symbols         int                `json:"symbols"`
	CallEdges       int                `json:"call_edges"`
	Suspicious      int                `json:"suspicious_chunks"`
	Redactions      int                `json:"redactions"`
	IndexSizeMB     float64            `json:"index_size_mb"`
	Vectors         int                `json:"vectors"`
	Tombstones      int                `json:"tombstones"`
	LastRun         *indexer.Summary   `json:"last_run,omitempty"`
}

// ProjectStatus reports state and counts of a project
func (s *Service) ProjectStatus(ctx context.Context, p ProjectParams) (*StatusResult, error) {
	if err := requireProject(p.Project); err != nil {
		return nil, err
	}
	st, err := s.coord.Status(ctx, p.Project)
	if err != nil {
		return nil, err
	}
	out := &StatusResult{
		Name:            st.Project.Name,
		Path:            st.Project.RootPath,
		State:           st.Project.State,
		Busy:            st.Busy,
		Model:           st.Model,
		Files:           st.Stats.Files,
		Chunks:          st.Stats.Chunks,
		Embeddings:      st.Stats.Embeddings,
		StaleEmbeddings: st.Stats.StaleEmbeddings,
		Symbols:         st.Stats.Symbols,
		CallEdges:       st.Stats.CallEdges,
		Suspicious:      st.Stats.SuspiciousChunks,
		Redactions:      st.Stats.Redactions,
		IndexSizeMB:     st.Stats.IndexSizeMB,
		Vectors:         st.Vectors,
		Tombstones:      st.Tombstones,
		LastRun:         st.LastRun,
	}
	if !st.Project.LastSyncAt.IsZero() {
		t := st.Project.LastSyncAt
		out.LastSync = &t
	}
	return out, nil
}

// checkSearch validates the arguments common to the search tools
func checkSearch(p SearchParams) error {
	if err := requireProject(p.Project); err != nil {
		return err
	}
	if p.K < 0 || p.K > searcher.MaxTopK {
		return invalidParam("k", fmt.Sprintf("must be between 1 and %d", searcher.MaxTopK))
	}
	return nil
}

func requireProject(name string) error {
	if strings.TrimSpace(name) == "" {
		return invalidParam("project", "missing or empty")
	}
	return nil
}

// validatePath checks that an index root exists and is a directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrPathNotFound
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return indexer.ErrNotDirectory
	}
	return nil
}
