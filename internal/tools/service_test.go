package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/coderag-mcp/internal/embedder"
	"github.com/dshills/coderag-mcp/internal/indexer"
	"github.com/dshills/coderag-mcp/internal/searcher"
	"github.com/dshills/coderag-mcp/internal/storage"
	"github.com/dshills/coderag-mcp/pkg/types"
)

var sampleTree = map[string]string{
	"main.go": "package main\n\nfunc main() {\n\tgreet(\"world\")\n}\n",
	"greet.go": "package main\n\nimport \"fmt\"\n\n// greet prints a greeting\n" +
		"func greet(name string) {\n\tfmt.Println(\"hello\", name)\n}\n",
	"auth/login.go": "package auth\n\n// Login checks a password\n" +
		"func Login(user, password string) bool {\n\treturn user != \"\" && password != \"\"\n}\n",
	"README.md": "# Sample\n\nA sample project used in tests.\n",
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb := embedder.NewLocalProvider()
	coord := indexer.New(store, emb, nil, indexer.Options{Workers: 2}, nil)
	t.Cleanup(func() { _ = coord.Close() })

	search := searcher.NewSearcher(store, emb, nil, nil, searcher.Options{}, nil)
	coord.OnCommit(search.InvalidateProject)
	search.OnOrphan(coord.DropOrphans)

	return NewService(coord, search, nil, 0, nil)
}

// indexedService returns a service with the sample tree indexed as "proj"
func indexedService(t *testing.T, extra map[string]string) (*Service, string) {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, sampleTree)
	writeTree(t, root, extra)

	svc := newTestService(t)
	sum, err := svc.IndexProject(context.Background(), IndexParams{Path: root, Name: "proj"})
	require.NoError(t, err)
	require.Equal(t, types.StateReady, sum.State)
	return svc, root
}

func TestService_ListProjects(t *testing.T) {
	svc := newTestService(t)
	projects, err := svc.ListProjects(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, projects)
	assert.Empty(t, projects)

	svc, root := indexedService(t, nil)
	projects, err = svc.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "proj", projects[0].Name)
	assert.Equal(t, root, projects[0].Path)
	assert.Equal(t, 4, projects[0].FileCount)
	assert.NotNil(t, projects[0].LastSync)
}

func TestService_SearchCode(t *testing.T) {
	svc, _ := indexedService(t, nil)
	ctx := context.Background()

	res, err := svc.SearchCode(ctx, SearchParams{Project: "proj", Query: "greet", K: 5})
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, "hybrid", res.Mode)
	assert.LessOrEqual(t, len(res.Results), 5)

	files := map[string]bool{}
	for _, r := range res.Results {
		files[r.FilePath] = true
	}
	assert.True(t, files["greet.go"] || files["main.go"])

	res, err = svc.TextSearch(ctx, SearchParams{Project: "proj", Query: "password"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, "auth/login.go", res.Results[0].FilePath)
	assert.Equal(t, "keyword", res.Mode)

	res, err = svc.FindSimilarCode(ctx, SearchParams{Project: "proj", Query: "func greet(name string) {"})
	require.NoError(t, err)
	assert.Equal(t, "vector", res.Mode)
	assert.NotEmpty(t, res.Results)
}

func TestService_SearchErrors(t *testing.T) {
	svc, _ := indexedService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		p    SearchParams
		code int
	}{
		{"empty query", SearchParams{Project: "proj", Query: "  "}, CodeEmptyQuery},
		{"missing project", SearchParams{Query: "x"}, CodeInvalidParams},
		{"unknown project", SearchParams{Project: "nope", Query: "x"}, CodeProjectNotFound},
		{"bad mode", SearchParams{Project: "proj", Query: "x", Mode: "fuzzy"}, CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SearchCode(ctx, tt.p)
			require.Error(t, err)
			assert.Equal(t, tt.code, Code(err))
		})
	}
}

func TestService_SearchSymbols(t *testing.T) {
	svc, _ := indexedService(t, nil)
	ctx := context.Background()

	refs, err := svc.SearchSymbols(ctx, SymbolParams{Project: "proj", NamePattern: "gre*"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "greet", refs[0].Name)
	assert.Equal(t, "greet.go", refs[0].FilePath)
	assert.Equal(t, types.KindFunction, refs[0].Kind)

	refs, err = svc.SearchSymbols(ctx, SymbolParams{Project: "proj", NamePattern: "ogi"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "Login", refs[0].Name)

	_, err = svc.SearchSymbols(ctx, SymbolParams{Project: "proj"})
	assert.Equal(t, CodeInvalidParams, Code(err))
}

func TestService_CallGraph(t *testing.T) {
	svc, _ := indexedService(t, nil)
	ctx := context.Background()

	callers, err := svc.FindCallers(ctx, CallParams{Project: "proj", Symbol: "greet"})
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "main.go", callers[0].FilePath)

	callees, err := svc.FindCallees(ctx, CallParams{Project: "proj", Symbol: "main"})
	require.NoError(t, err)
	require.Len(t, callees, 1)
	assert.Equal(t, "greet", callees[0].Name)

	callers, err = svc.FindCallers(ctx, CallParams{Project: "proj", Symbol: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, callers)
	assert.Empty(t, callers)

	_, err = svc.FindCallees(ctx, CallParams{Project: "proj"})
	assert.Equal(t, CodeInvalidParams, Code(err))
}

func TestService_Lifecycle(t *testing.T) {
	svc, root := indexedService(t, nil)
	ctx := context.Background()

	_, err := svc.IndexProject(ctx, IndexParams{Path: "relative/dir"})
	assert.ErrorIs(t, err, ErrPathNotAbsolute)
	_, err = svc.IndexProject(ctx, IndexParams{Path: filepath.Join(root, "missing")})
	assert.ErrorIs(t, err, ErrPathNotFound)
	_, err = svc.IndexProject(ctx, IndexParams{Path: filepath.Join(root, "main.go")})
	assert.Equal(t, CodeInvalidParams, Code(err))

	writeTree(t, root, map[string]string{"extra.go": "package main\n\nfunc extra() {}\n"})
	sum, err := svc.SyncProject(ctx, ProjectParams{Project: "proj"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FilesIndexed)

	st, err := svc.ProjectStatus(ctx, ProjectParams{Project: "proj"})
	require.NoError(t, err)
	assert.Equal(t, types.StateReady, st.State)
	assert.Equal(t, 5, st.Files)
	assert.Positive(t, st.Embeddings)
	assert.NotNil(t, st.LastSync)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, indexer.RunSync, st.LastRun.Kind)

	removed, err := svc.RemoveProject(ctx, ProjectParams{Project: "proj"})
	require.NoError(t, err)
	assert.True(t, removed.Removed)

	_, err = svc.ProjectStatus(ctx, ProjectParams{Project: "proj"})
	assert.Equal(t, CodeProjectNotFound, Code(err))
	_, err = svc.SyncProject(ctx, ProjectParams{Project: "proj"})
	assert.Equal(t, CodeProjectNotFound, Code(err))
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{nil, 0},
		{ErrRateLimited, CodeRateLimited},
		{fmt.Errorf("wrap: %w", searcher.ErrEmptyQuery), CodeEmptyQuery},
		{fmt.Errorf("%w: x", types.ErrProjectNotFound), CodeProjectNotFound},
		{types.ErrConcurrentSync, CodeSyncInProgress},
		{fmt.Errorf("%w: not indexed", types.ErrInvalidProjectState), CodeNotIndexed},
		{ErrOutsideRoot, CodeInvalidParams},
		{indexer.ErrNotDirectory, CodeInvalidParams},
		{invalidParam("k", "negative"), CodeInvalidParams},
		{errors.New("disk on fire"), CodeInternalError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, Code(tt.err), "%v", tt.err)
	}

	e := AsError(types.ErrConcurrentSync)
	assert.Equal(t, CodeSyncInProgress, e.Code)
	assert.Contains(t, e.Message, "sync already in progress")
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(60, 2)
	require.NoError(t, l.Allow())
	require.NoError(t, l.Allow())
	assert.ErrorIs(t, l.Allow(), ErrRateLimited)

	unlimited := NewLimiter(0, 0)
	for range 100 {
		require.NoError(t, unlimited.Allow())
	}

	var none *Limiter
	assert.NoError(t, none.Allow())
}

func TestService_SearchRejectsBadK(t *testing.T) {
	svc, _ := indexedService(t, nil)
	for _, k := range []int{-1, searcher.MaxTopK + 1} {
		_, err := svc.TextSearch(context.Background(), SearchParams{Project: "proj", Query: "greet", K: k})
		assert.Equal(t, CodeInvalidParams, Code(err), "k=%d", k)
	}
}
