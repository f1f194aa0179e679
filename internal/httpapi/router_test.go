package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/coderag-mcp/internal/embedder"
	"github.com/dshills/coderag-mcp/internal/indexer"
	"github.com/dshills/coderag-mcp/internal/searcher"
	"github.com/dshills/coderag-mcp/internal/storage"
	"github.com/dshills/coderag-mcp/internal/tools"
	"github.com/dshills/coderag-mcp/pkg/types"
)

func newTestRouter(t *testing.T, limiter *tools.Limiter) (http.Handler, string) {
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

	return NewRouter(&Deps{Service: tools.NewService(coord, search, nil, 0, nil), Limiter: limiter}), root
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func indexBody(t *testing.T, root string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{"path": root, "name": "demo"})
	require.NoError(t, err)
	return string(b)
}

func TestRouter_Flow(t *testing.T) {
	h, root := newTestRouter(t, nil)

	w := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPost, "/api/projects", indexBody(t, root))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sum indexer.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 2, sum.FilesIndexed)

	w = do(t, h, http.MethodGet, "/api/projects", "")
	require.Equal(t, http.StatusOK, w.Code)
	var projects []indexer.ProjectInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &projects))
	require.Len(t, projects, 1)

	w = do(t, h, http.MethodPost, "/api/projects/demo/search", `{"query":"greet","k":3}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var found tools.SearchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &found))
	assert.NotEmpty(t, found.Results)

	w = do(t, h, http.MethodPost, "/api/projects/demo/text", `{"terms":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &found))
	require.NotEmpty(t, found.Results)
	assert.Equal(t, "greet.go", found.Results[0].FilePath)

	w = do(t, h, http.MethodPost, "/api/projects/demo/similar", `{"snippet":"func greet(name string)"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/projects/demo/callers?symbol=greet", "")
	require.Equal(t, http.StatusOK, w.Code)
	var callers []types.ChunkRef
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &callers))
	require.Len(t, callers, 1)
	assert.Equal(t, "main.go", callers[0].FilePath)

	w = do(t, h, http.MethodGet, "/api/projects/demo/callees?symbol=main", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/projects/demo/symbols?pattern="+url.QueryEscape("gr*"), "")
	require.Equal(t, http.StatusOK, w.Code)
	var symbols []types.SymbolRef
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &symbols))
	require.Len(t, symbols, 1)

	w = do(t, h, http.MethodGet, "/api/projects/demo/file?path=main.go&start_line=3&end_line=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	var file tools.FileContent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &file))
	assert.Equal(t, "func main() {\n", file.Text)

	w = do(t, h, http.MethodGet, "/api/projects/demo/patterns", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPost, "/api/projects/demo/sync", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/api/projects/demo", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status tools.StatusResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, types.StateReady, status.State)

	w = do(t, h, http.MethodDelete, "/api/projects/demo", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/projects/demo", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_Errors(t *testing.T) {
	h, root := newTestRouter(t, nil)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/projects", indexBody(t, root)).Code)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
		code   int
	}{
		{"empty query", http.MethodPost, "/api/projects/demo/search", `{"query":""}`, http.StatusBadRequest, tools.CodeEmptyQuery},
		{"bad body", http.MethodPost, "/api/projects/demo/search", `{"query":`, http.StatusBadRequest, tools.CodeInvalidParams},
		{"unknown field", http.MethodPost, "/api/projects/demo/search", `{"q":"x"}`, http.StatusBadRequest, tools.CodeInvalidParams},
		{"unknown project", http.MethodGet, "/api/projects/nope/patterns", "", http.StatusNotFound, tools.CodeProjectNotFound},
		{"bad limit", http.MethodGet, "/api/projects/demo/symbols?pattern=x&limit=abc", "", http.StatusBadRequest, tools.CodeInvalidParams},
		{"escape root", http.MethodGet, "/api/projects/demo/file?path=../etc/passwd", "", http.StatusBadRequest, tools.CodeInvalidParams},
		{"relative index path", http.MethodPost, "/api/projects", `{"path":"rel"}`, http.StatusBadRequest, tools.CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			var body struct {
				Error tools.Error `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}

	w := do(t, h, http.MethodGet, "/api/projects/demo/search", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouter_RateLimit(t *testing.T) {
	h, _ := newTestRouter(t, tools.NewLimiter(1, 1))

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/projects", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodGet, "/api/projects", "").Code)
	// health checks are not limited
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(tools.CodeSyncInProgress))
	assert.Equal(t, http.StatusConflict, statusFor(tools.CodeNotIndexed))
	assert.Equal(t, http.StatusInternalServerError, statusFor(tools.CodeInternalError))
}
