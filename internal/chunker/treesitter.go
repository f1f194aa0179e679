package chunker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"

	"github.com/dshills/coderag-mcp/pkg/types"
)

// MinNodeBytes drops captures too small to be worth a chunk
const MinNodeBytes = 50

// grammar describes how one language is chunked with tree-sitter. Every key
// of kinds becomes a `(kind) @chunk` query pattern.
type grammar struct {
	language  func() *sitter.Language
	kinds     map[string]types.ChunkKind
	callKinds []string
}

var grammars = map[types.Language]grammar{
	types.LangRust: {
		language: rust.GetLanguage,
		kinds: map[string]types.ChunkKind{
			"function_item":    types.ChunkFunction,
			"impl_item":        types.ChunkImpl,
			"struct_item":      types.ChunkType,
			"enum_item":        types.ChunkType,
			"trait_item":       types.ChunkType,
			"mod_item":         types.ChunkModule,
			"macro_definition": types.ChunkSymbol,
			"const_item":       types.ChunkConst,
			"static_item":      types.ChunkVar,
			"type_item":        types.ChunkType,
		},
		callKinds: []string{"call_expression"},
	},
	types.LangPython: {
		language: python.GetLanguage,
		kinds: map[string]types.ChunkKind{
			"function_definition":  types.ChunkFunction,
			"class_definition":     types.ChunkClass,
			"decorated_definition": types.ChunkSymbol,
		},
		callKinds: []string{"call"},
	},
	types.LangJavaScript: {
		language: javascript.GetLanguage,
		kinds: map[string]types.ChunkKind{
			"function_declaration": types.ChunkFunction,
			"class_declaration":    types.ChunkClass,
			"method_definition":    types.ChunkMethod,
			"arrow_function":       types.ChunkFunction,
			"export_statement":     types.ChunkSymbol,
			"lexical_declaration":  types.ChunkVar,
		},
		callKinds: []string{"call_expression"},
	},
	types.LangTypeScript: {
		language: tsx.GetLanguage,
		kinds: map[string]types.ChunkKind{
			"function_declaration":   types.ChunkFunction,
			"class_declaration":      types.ChunkClass,
			"method_definition":      types.ChunkMethod,
			"arrow_function":         types.ChunkFunction,
			"export_statement":       types.ChunkSymbol,
			"lexical_declaration":    types.ChunkVar,
			"interface_declaration":  types.ChunkType,
			"type_alias_declaration": types.ChunkType,
		},
		callKinds: []string{"call_expression"},
	},
	types.LangC: {
		language: c.GetLanguage,
		kinds: map[string]types.ChunkKind{
			"function_definition": types.ChunkFunction,
			"struct_specifier":    types.ChunkType,
			"enum_specifier":      types.ChunkType,
		},
		callKinds: []string{"call_expression"},
	},
	types.LangCpp: {
		language: cpp.GetLanguage,
		kinds: map[string]types.ChunkKind{
			"function_definition":  types.ChunkFunction,
			"struct_specifier":     types.ChunkType,
			"class_specifier":      types.ChunkClass,
			"enum_specifier":       types.ChunkType,
			"namespace_definition": types.ChunkModule,
		},
		callKinds: []string{"call_expression"},
	},
	types.LangJava: {
		language: java.GetLanguage,
		kinds: map[string]types.ChunkKind{
			"method_declaration":      types.ChunkMethod,
			"constructor_declaration": types.ChunkMethod,
			"class_declaration":       types.ChunkClass,
			"interface_declaration":   types.ChunkType,
			"enum_declaration":        types.ChunkType,
		},
		callKinds: []string{"method_invocation"},
	},
	types.LangRuby: {
		language: ruby.GetLanguage,
		kinds: map[string]types.ChunkKind{
			"method":           types.ChunkFunction,
			"singleton_method": types.ChunkMethod,
			"class":            types.ChunkClass,
			"module":           types.ChunkModule,
		},
		callKinds: []string{"call"},
	},
	types.LangShell: {
		language: bash.GetLanguage,
		kinds: map[string]types.ChunkKind{
			"function_definition": types.ChunkFunction,
		},
		callKinds: []string{"command"},
	},
}

// treeSitterLanguages lists the languages chunked with a tree-sitter grammar
func treeSitterLanguages() []types.Language {
	langs := make([]types.Language, 0, len(grammars))
	for lang := range grammars {
		langs = append(langs, lang)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}

// treeSitterStrategy chunks a language with its tree-sitter grammar.
// The compiled query is built once and shared; cursors are per call.
type treeSitterStrategy struct {
	lang    types.Language
	grammar grammar

	once    sync.Once
	query   *sitter.Query
	callSet map[string]bool
	initErr error
}

func newTreeSitterStrategy(lang types.Language) *treeSitterStrategy {
	return &treeSitterStrategy{lang: lang, grammar: grammars[lang]}
}

func (t *treeSitterStrategy) Name() string { return "tree-sitter/" + string(t.lang) }

func (t *treeSitterStrategy) init() error {
	t.once.Do(func() {
		kinds := make([]string, 0, len(t.grammar.kinds))
		for k := range t.grammar.kinds {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)

		var q strings.Builder
		for _, k := range kinds {
			fmt.Fprintf(&q, "(%s) @chunk\n", k)
		}
		t.query, t.initErr = sitter.NewQuery([]byte(q.String()), t.grammar.language())

		t.callSet = make(map[string]bool, len(t.grammar.callKinds))
		for _, k := range t.grammar.callKinds {
			t.callSet[k] = true
		}
	})
	return t.initErr
}

type capture struct {
	node      *sitter.Node
	kind      types.ChunkKind
	startByte uint32
	endByte   uint32
}

func (c capture) size() uint32 { return c.endByte - c.startByte }

func (t *treeSitterStrategy) Chunk(ctx context.Context, path string, text string) ([]types.Chunk, error) {
	if err := t.init(); err != nil {
		return nil, fmt.Errorf("compile query for %s: %w", t.lang, err)
	}

	src := []byte(text)
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(t.grammar.language())

	tree, err := p.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(t.query, tree.RootNode())

	var caps []capture
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			if c.Node.EndByte()-c.Node.StartByte() < MinNodeBytes {
				continue
			}
			caps = append(caps, capture{
				node:      c.Node,
				kind:      t.grammar.kinds[c.Node.Type()],
				startByte: docStart(c.Node),
				endByte:   c.Node.EndByte(),
			})
		}
	}

	caps = dedupCaptures(caps)
	if len(caps) == 0 {
		caps = topLevelCaptures(tree.RootNode())
	}

	s := newSource(text)
	chunks := make([]types.Chunk, 0, len(caps))
	for _, c := range caps {
		kind, name := t.describe(c.node, c.kind, src)
		ch := s.bytes(kind, name, int(c.startByte), int(c.endByte))
		if ch.IsEmpty() {
			continue
		}
		if name != "" {
			ch.Definitions = []types.Definition{{
				Name:      name,
				Kind:      definitionKind(kind),
				StartLine: ch.StartLine,
				EndLine:   ch.EndLine,
			}}
		}
		if kind.IsFunctionLike() {
			ch.Calls = t.calls(c.node, src)
		}
		chunks = append(chunks, ch)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	// imports, assignments and statements between definitions
	return withGaps(s, chunks), nil
}

// docStart extends a node back over the comments directly above it. A
// comment that trails code on its own line is left alone.
func docStart(n *sitter.Node) uint32 {
	start, row := n.StartByte(), n.StartPoint().Row
	for p := n.PrevNamedSibling(); p != nil && strings.Contains(p.Type(), "comment"); p = p.PrevNamedSibling() {
		if p.EndPoint().Row+1 < row {
			break
		}
		if prev := p.PrevSibling(); prev != nil && prev.EndPoint().Row == p.StartPoint().Row {
			break
		}
		start, row = p.StartByte(), p.StartPoint().Row
	}
	return start
}

// dedupCaptures keeps outer nodes and drops nodes nested inside them,
// unless the outer node is over MaxChunkBytes: then its nested captures
// survive so methods of a large class stay addressable.
func dedupCaptures(caps []capture) []capture {
	sort.Slice(caps, func(i, j int) bool {
		if caps[i].startByte != caps[j].startByte {
			return caps[i].startByte < caps[j].startByte
		}
		return caps[i].size() > caps[j].size()
	})

	var out []capture
	var stack []capture
	for _, c := range caps {
		for len(stack) > 0 && c.startByte >= stack[len(stack)-1].endByte {
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.startByte == c.startByte && top.endByte == c.endByte {
				continue
			}
			if top.size() <= MaxChunkBytes {
				continue
			}
		}
		out = append(out, c)
		stack = append(stack, c)
	}
	return out
}

// topLevelCaptures uses the root's children when no definition matched
func topLevelCaptures(root *sitter.Node) []capture {
	var out []capture
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		if n.EndByte()-n.StartByte() < MinNodeBytes {
			continue
		}
		out = append(out, capture{
			node:      n,
			kind:      types.ChunkSymbol,
			startByte: docStart(n),
			endByte:   n.EndByte(),
		})
	}
	return out
}

// describe resolves the final kind and name of a captured node. Wrappers
// such as decorators and export statements take the kind of what they wrap,
// and functions nested in a class become methods.
func (t *treeSitterStrategy) describe(n *sitter.Node, kind types.ChunkKind, src []byte) (types.ChunkKind, string) {
	target := n
	for _, field := range []string{"definition", "declaration"} {
		if inner := target.ChildByFieldName(field); inner != nil {
			if k, ok := t.grammar.kinds[inner.Type()]; ok {
				kind = k
			}
			target = inner
		}
	}

	if kind == types.ChunkSymbol && target.Type() == "lexical_declaration" {
		kind = types.ChunkVar
	}
	if kind == types.ChunkFunction && t.insideClass(n) {
		kind = types.ChunkMethod
	}

	return kind, nodeName(target, src)
}

func (t *treeSitterStrategy) insideClass(n *sitter.Node) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		switch t.grammar.kinds[p.Type()] {
		case types.ChunkClass, types.ChunkImpl, types.ChunkType:
			return true
		case types.ChunkFunction, types.ChunkMethod:
			return false
		}
	}
	return false
}

var identifierKinds = map[string]bool{
	"identifier":          true,
	"name":                true,
	"type_identifier":     true,
	"property_identifier": true,
	"field_identifier":    true,
	"constant":            true,
	"word":                true,
}

// nodeName finds the declared name of a definition node
func nodeName(n *sitter.Node, src []byte) string {
	cur := n
	for depth := 0; cur != nil && depth < 8; depth++ {
		if name := cur.ChildByFieldName("name"); name != nil {
			return lastIdentifier(name, src)
		}
		d := cur.ChildByFieldName("declarator")
		if d == nil {
			break
		}
		if identifierKinds[d.Type()] {
			return d.Content(src)
		}
		cur = d
	}

	if n.Type() == "impl_item" {
		if typ := n.ChildByFieldName("type"); typ != nil {
			return typ.Content(src)
		}
	}
	return firstIdentifier(n, src, 0)
}

func firstIdentifier(n *sitter.Node, src []byte, depth int) string {
	if depth > 10 {
		return ""
	}
	count := int(n.NamedChildCount())
	for i := 0; i < count; i++ {
		child := n.NamedChild(i)
		if identifierKinds[child.Type()] {
			return child.Content(src)
		}
	}
	for i := 0; i < count; i++ {
		if name := firstIdentifier(n.NamedChild(i), src, depth+1); name != "" {
			return name
		}
	}
	return ""
}

// lastIdentifier returns the rightmost identifier under n, so a.b.c yields c
func lastIdentifier(n *sitter.Node, src []byte) string {
	if identifierKinds[n.Type()] {
		return n.Content(src)
	}
	for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
		if name := lastIdentifier(n.NamedChild(i), src); name != "" {
			return name
		}
	}
	return ""
}

// calls collects call sites in the body of n, in source order
func (t *treeSitterStrategy) calls(n *sitter.Node, src []byte) []types.CallSite {
	var out []types.CallSite
	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		if t.callSet[node.Type()] {
			if callee := calleeOf(node, src); callee != "" {
				out = append(out, types.CallSite{
					Callee: callee,
					Line:   int(node.StartPoint().Row) + 1,
				})
			}
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(n)
	return out
}

func calleeOf(call *sitter.Node, src []byte) string {
	for _, field := range []string{"function", "method", "name"} {
		if target := call.ChildByFieldName(field); target != nil {
			return lastIdentifier(target, src)
		}
	}
	if call.NamedChildCount() > 0 {
		return lastIdentifier(call.NamedChild(0), src)
	}
	return ""
}

func definitionKind(kind types.ChunkKind) types.SymbolKind {
	switch kind {
	case types.ChunkFunction:
		return types.KindFunction
	case types.ChunkMethod:
		return types.KindMethod
	case types.ChunkClass:
		return types.KindClass
	case types.ChunkImpl:
		return types.KindImpl
	case types.ChunkModule:
		return types.KindModule
	case types.ChunkConst:
		return types.KindConst
	case types.ChunkVar:
		return types.KindVar
	case types.ChunkSection, types.ChunkEnvVar:
		return types.KindKey
	default:
		return types.KindType
	}
}
