// Package callgraph answers who-calls-what questions for a project. Names
// are matched on their last identifier segment, so a call to pkg.Foo or
// obj.Foo resolves to every definition named Foo.
package callgraph

import (
	"sort"
	"sync"

	"github.com/dshills/coderag-mcp/pkg/types"
)

type entry struct {
	ref   types.ChunkRef
	defs  []types.Definition
	calls []string
}

// Graph is the in-memory call graph of one project
type Graph struct {
	mu        sync.RWMutex
	chunks    map[string]*entry
	definedBy map[string]map[string]struct{}
	calledBy  map[string]map[string]struct{}
}

// New creates an empty graph
func New() *Graph {
	return &Graph{
		chunks:    make(map[string]*entry),
		definedBy: make(map[string]map[string]struct{}),
		calledBy:  make(map[string]map[string]struct{}),
	}
}

// Add records the definitions and call sites of a chunk, replacing
// anything previously recorded for it
func (g *Graph) Add(ref types.ChunkRef, defs []types.Definition, calls []types.CallSite) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.removeLocked(ref.ChunkID)
	if len(defs) == 0 && len(calls) == 0 {
		return
	}

	e := &entry{ref: ref, defs: defs}
	seen := make(map[string]bool, len(calls))
	for _, c := range calls {
		name := types.LastSegment(c.Callee)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		e.calls = append(e.calls, name)
		link(g.calledBy, name, ref.ChunkID)
	}
	for _, d := range defs {
		link(g.definedBy, types.LastSegment(d.Name), ref.ChunkID)
	}
	g.chunks[ref.ChunkID] = e
}

// RemoveChunk forgets a chunk
func (g *Graph) RemoveChunk(chunkID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(chunkID)
}

func (g *Graph) removeLocked(chunkID string) {
	e, ok := g.chunks[chunkID]
	if !ok {
		return
	}
	for _, name := range e.calls {
		unlink(g.calledBy, name, chunkID)
	}
	for _, d := range e.defs {
		unlink(g.definedBy, types.LastSegment(d.Name), chunkID)
	}
	delete(g.chunks, chunkID)
}

// FindCallers returns the chunks whose body calls symbol
func (g *Graph) FindCallers(symbol string) []types.ChunkRef {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := g.calledBy[types.LastSegment(symbol)]
	refs := make([]types.ChunkRef, 0, len(ids))
	for id := range ids {
		refs = append(refs, g.chunks[id].ref)
	}
	sortChunkRefs(refs)
	return refs
}

// FindCallees returns the definitions called from every chunk defining
// symbol. Callees without an indexed definition are left out.
func (g *Graph) FindCallees(symbol string) []types.SymbolRef {
	g.mu.RLock()
	defer g.mu.RUnlock()

	type key struct{ chunk, name string }
	seen := make(map[key]bool)
	var refs []types.SymbolRef

	for callerID := range g.definedBy[types.LastSegment(symbol)] {
		for _, callee := range g.chunks[callerID].calls {
			for defID := range g.definedBy[callee] {
				def := g.chunks[defID]
				for _, d := range def.defs {
					if types.LastSegment(d.Name) != callee {
						continue
					}
					k := key{defID, d.Name}
					if seen[k] {
						continue
					}
					seen[k] = true
					refs = append(refs, types.SymbolRef{
						Name:     d.Name,
						Kind:     d.Kind,
						FilePath: def.ref.FilePath,
						Span:     types.Span{StartLine: d.StartLine, EndLine: d.EndLine},
						ChunkID:  defID,
					})
				}
			}
		}
	}

	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Span.StartLine != b.Span.StartLine {
			return a.Span.StartLine < b.Span.StartLine
		}
		return a.ChunkID < b.ChunkID
	})
	return refs
}

// Definitions returns the chunks defining symbol
func (g *Graph) Definitions(symbol string) []types.ChunkRef {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := g.definedBy[types.LastSegment(symbol)]
	refs := make([]types.ChunkRef, 0, len(ids))
	for id := range ids {
		refs = append(refs, g.chunks[id].ref)
	}
	sortChunkRefs(refs)
	return refs
}

// Len returns the number of chunks with definitions or calls
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.chunks)
}

func sortChunkRefs(refs []types.ChunkRef) {
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Span.StartLine != b.Span.StartLine {
			return a.Span.StartLine < b.Span.StartLine
		}
		return a.ChunkID < b.ChunkID
	})
}

func link(m map[string]map[string]struct{}, name, id string) {
	set := m[name]
	if set == nil {
		set = make(map[string]struct{})
		m[name] = set
	}
	set[id] = struct{}{}
}

func unlink(m map[string]map[string]struct{}, name, id string) {
	set := m[name]
	delete(set, id)
	if len(set) == 0 {
		delete(m, name)
	}
}
