package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/coderag-mcp/internal/embedder"
	"github.com/dshills/coderag-mcp/internal/indexer"
	"github.com/dshills/coderag-mcp/internal/searcher"
	"github.com/dshills/coderag-mcp/internal/storage"
	"github.com/dshills/coderag-mcp/internal/tools"
	"github.com/dshills/coderag-mcp/pkg/types"
)

func newTestServer(t *testing.T, limiter *tools.Limiter) (*Server, string) {
	t.Helper()

	root := t.TempDir()
	files := map[string]string{
		"main.go":  "package main\n\nfunc main() {\n\tgreet(\"world\")\n}\n",
		"greet.go": "package main\n\nimport \"fmt\"\n\nfunc greet(name string) {\n\tfmt.Println(\"hello\", name)\n}\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb := embedder.NewLocalProvider()
	coord := indexer.New(store, emb, nil, indexer.Options{Workers: 1}, nil)
	t.Cleanup(func() { _ = coord.Close() })
	search := searcher.NewSearcher(store, emb, nil, nil, searcher.Options{}, nil)
	coord.OnCommit(search.InvalidateProject)

	return NewServer(tools.NewService(coord, search, nil, 0, nil), limiter, nil), root
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func callOK(t *testing.T, s *Server, name string, args map[string]any, out any) {
	t.Helper()
	res, err := s.Call(context.Background(), name, args)
	require.NoError(t, err)
	text := resultText(t, res)
	require.False(t, res.IsError, "%s failed: %s", name, text)
	if out != nil {
		require.NoError(t, json.Unmarshal([]byte(text), out))
	}
}

func callErr(t *testing.T, s *Server, name string, args map[string]any) tools.Error {
	t.Helper()
	res, err := s.Call(context.Background(), name, args)
	require.NoError(t, err)
	text := resultText(t, res)
	require.True(t, res.IsError, "%s succeeded: %s", name, text)

	var te tools.Error
	require.NoError(t, json.Unmarshal([]byte(text), &te))
	return te
}

func TestServer_RegistersTools(t *testing.T) {
	s, _ := newTestServer(t, nil)
	assert.Equal(t, []string{
		"find_callees", "find_callers", "find_similar_code", "get_file",
		"get_project_patterns", "index_project", "list_projects", "project_status",
		"remove_project", "search_code", "search_symbols", "sync_project", "text_search",
	}, s.Tools())
}

func TestServer_ToolFlow(t *testing.T) {
	s, root := newTestServer(t, nil)

	var sum indexer.Summary
	callOK(t, s, "index_project", map[string]any{"path": root, "name": "demo"}, &sum)
	assert.Equal(t, 2, sum.FilesIndexed)
	assert.Equal(t, types.StateReady, sum.State)

	var projects []indexer.ProjectInfo
	callOK(t, s, "list_projects", nil, &projects)
	require.Len(t, projects, 1)
	assert.Equal(t, "demo", projects[0].Name)

	var found tools.SearchResult
	callOK(t, s, "search_code", map[string]any{"project": "demo", "query": "greet", "k": float64(3)}, &found)
	assert.NotEmpty(t, found.Results)
	assert.LessOrEqual(t, len(found.Results), 3)

	callOK(t, s, "text_search", map[string]any{"project": "demo", "terms": "hello"}, &found)
	require.NotEmpty(t, found.Results)
	assert.Equal(t, "greet.go", found.Results[0].FilePath)

	var callers []types.ChunkRef
	callOK(t, s, "find_callers", map[string]any{"project": "demo", "symbol": "greet"}, &callers)
	require.Len(t, callers, 1)
	assert.Equal(t, "main.go", callers[0].FilePath)

	var callees []types.SymbolRef
	callOK(t, s, "find_callees", map[string]any{"project": "demo", "symbol": "main"}, &callees)
	require.Len(t, callees, 1)
	assert.Equal(t, "greet", callees[0].Name)

	var symbols []types.SymbolRef
	callOK(t, s, "search_symbols", map[string]any{"project": "demo", "name_pattern": "gr*"}, &symbols)
	require.Len(t, symbols, 1)

	var file tools.FileContent
	callOK(t, s, "get_file", map[string]any{"project": "demo", "path": "main.go", "start_line": float64(3), "end_line": float64(3)}, &file)
	assert.Equal(t, "func main() {\n", file.Text)

	var patterns tools.Patterns
	callOK(t, s, "get_project_patterns", map[string]any{"project": "demo"}, &patterns)
	assert.Equal(t, 2, patterns.StructureSummary.Files)

	var status tools.StatusResult
	callOK(t, s, "project_status", map[string]any{"project": "demo"}, &status)
	assert.Equal(t, types.StateReady, status.State)

	callOK(t, s, "sync_project", map[string]any{"project": "demo"}, &sum)
	assert.Equal(t, 2, sum.FilesUnchanged)

	var removed tools.RemoveResult
	callOK(t, s, "remove_project", map[string]any{"project": "demo"}, &removed)
	assert.True(t, removed.Removed)

	te := callErr(t, s, "project_status", map[string]any{"project": "demo"})
	assert.Equal(t, tools.CodeProjectNotFound, te.Code)
}

func TestServer_ErrorCodes(t *testing.T) {
	s, root := newTestServer(t, nil)
	callOK(t, s, "index_project", map[string]any{"path": root, "name": "demo"}, nil)

	tests := []struct {
		name string
		tool string
		args map[string]any
		code int
	}{
		{"empty query", "search_code", map[string]any{"project": "demo", "query": ""}, tools.CodeEmptyQuery},
		{"missing project", "search_code", map[string]any{"query": "x"}, tools.CodeInvalidParams},
		{"unknown project", "find_callers", map[string]any{"project": "nope", "symbol": "x"}, tools.CodeProjectNotFound},
		{"k out of range", "search_code", map[string]any{"project": "demo", "query": "x", "k": float64(500)}, tools.CodeInvalidParams},
		{"relative path", "index_project", map[string]any{"path": "rel/dir"}, tools.CodeInvalidParams},
		{"escape root", "get_file", map[string]any{"project": "demo", "path": "../x"}, tools.CodeInvalidParams},
		{"unknown tool", "no_such_tool", nil, tools.CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := callErr(t, s, tt.tool, tt.args)
			assert.Equal(t, tt.code, te.Code, te.Message)
		})
	}
}

func TestServer_RateLimited(t *testing.T) {
	s, _ := newTestServer(t, tools.NewLimiter(1, 2))

	callOK(t, s, "list_projects", nil, nil)
	callOK(t, s, "list_projects", nil, nil)
	te := callErr(t, s, "list_projects", nil)
	assert.Equal(t, tools.CodeRateLimited, te.Code)
}
