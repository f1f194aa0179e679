package callgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/coderag-mcp/pkg/types"
)

func ref(id, file string, line int) types.ChunkRef {
	return types.ChunkRef{ChunkID: id, FilePath: file, Span: types.Span{StartLine: line, EndLine: line + 2}}
}

func def(name string, kind types.SymbolKind, line int) []types.Definition {
	return []types.Definition{{Name: name, Kind: kind, StartLine: line, EndLine: line + 2}}
}

func calls(names ...string) []types.CallSite {
	out := make([]types.CallSite, len(names))
	for i, n := range names {
		out[i] = types.CallSite{Callee: n, Line: i + 1}
	}
	return out
}

func TestFindCallersAndCallees(t *testing.T) {
	g := New()
	g.Add(ref("f1", "a.go", 1), def("f", types.KindFunction, 1), calls("g", "fmt.Println"))
	g.Add(ref("g1", "b.go", 10), def("g", types.KindFunction, 10), nil)
	g.Add(ref("h1", "a.go", 20), def("h", types.KindFunction, 20), calls("pkg.g"))

	callers := g.FindCallers("g")
	require.Len(t, callers, 2)
	assert.Equal(t, "f1", callers[0].ChunkID)
	assert.Equal(t, "h1", callers[1].ChunkID)

	callees := g.FindCallees("f")
	require.Len(t, callees, 1, "Println has no indexed definition")
	assert.Equal(t, "g", callees[0].Name)
	assert.Equal(t, "b.go", callees[0].FilePath)
	assert.Equal(t, "g1", callees[0].ChunkID)
	assert.Equal(t, 10, callees[0].Span.StartLine)
}

func TestFindCallees_AmbiguousNames(t *testing.T) {
	g := New()
	g.Add(ref("a", "x.go", 1), def("Server.Start", types.KindMethod, 1), calls("listen"))
	g.Add(ref("b", "y.go", 1), def("Client.Start", types.KindMethod, 1), calls("dial"))
	g.Add(ref("l", "x.go", 30), def("listen", types.KindFunction, 30), nil)
	g.Add(ref("d", "y.go", 30), def("dial", types.KindFunction, 30), nil)

	callees := g.FindCallees("Start")
	require.Len(t, callees, 2)
	assert.Equal(t, "dial", callees[0].Name)
	assert.Equal(t, "listen", callees[1].Name)
}

func TestRemoveChunk(t *testing.T) {
	g := New()
	g.Add(ref("f1", "a.go", 1), def("f", types.KindFunction, 1), calls("g"))
	g.Add(ref("g1", "b.go", 1), def("g", types.KindFunction, 1), nil)

	g.RemoveChunk("g1")
	assert.Empty(t, g.FindCallees("f"))
	assert.Len(t, g.FindCallers("g"), 1)

	g.RemoveChunk("f1")
	assert.Empty(t, g.FindCallers("g"))
	assert.Equal(t, 0, g.Len())
}

func TestAdd_Replaces(t *testing.T) {
	g := New()
	g.Add(ref("f1", "a.go", 1), def("f", types.KindFunction, 1), calls("old"))
	g.Add(ref("f1", "a.go", 1), def("f", types.KindFunction, 1), calls("new"))

	assert.Empty(t, g.FindCallers("old"))
	assert.Len(t, g.FindCallers("new"), 1)
	assert.Len(t, g.Definitions("f"), 1)
}
