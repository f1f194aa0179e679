package parser

import (
	"errors"
	"fmt"
	"go/ast"
	goparser "go/parser"
	"go/scanner"
	"go/token"
	gotypes "go/types"
	"os"
	"strconv"
	"strings"

	"github.com/dshills/coderag-mcp/pkg/types"
)

// Parser extracts declarations, symbols and call sites from Go source
type Parser struct {
	// Fields controls whether struct fields are reported as symbols
	Fields bool
}

// New creates a Parser that also reports struct fields
func New() *Parser {
	return &Parser{Fields: true}
}

// ParseFile reads and parses a Go source file
func (p *Parser) ParseFile(filePath string) (*types.ParseResult, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filePath, err)
	}
	return p.ParseSource(filePath, content)
}

// ParseSource parses Go source. Syntax errors are recorded on the result
// and the partial tree the parser recovered is still used.
func (p *Parser) ParseSource(filePath string, content []byte) (*types.ParseResult, error) {
	result := &types.ParseResult{}
	fset := token.NewFileSet()

	file, err := goparser.ParseFile(fset, filePath, content, goparser.ParseComments|goparser.SkipObjectResolution)
	if err != nil {
		line, col := errorPosition(err)
		result.AddError(filePath, line, col, fmt.Sprintf("syntax error: %v", err))
	}
	if file == nil {
		return result, nil
	}

	if file.Name != nil {
		result.PackageName = file.Name.Name
	}
	result.Imports = imports(file)

	w := &walker{fset: fset, fields: p.Fields}
	for _, d := range file.Decls {
		w.decl(d)
	}
	result.Decls = w.decls
	result.Symbols = w.symbols
	result.Calls = w.calls
	return result, nil
}

// errorPosition returns the position of the first syntax error
func errorPosition(err error) (int, int) {
	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		return list[0].Pos.Line, list[0].Pos.Column
	}
	return 0, 0
}

func imports(file *ast.File) []types.Import {
	out := make([]types.Import, 0, len(file.Imports))
	for _, spec := range file.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			path = strings.Trim(spec.Path.Value, "`\"")
		}
		imp := types.Import{Path: path}
		if spec.Name != nil {
			imp.Alias = spec.Name.Name
		}
		out = append(out, imp)
	}
	return out
}

// walker collects the output of one file, one top-level declaration at a
// time
type walker struct {
	fset   *token.FileSet
	fields bool

	decls   []types.Declaration
	symbols []types.Symbol
	calls   []types.CallSite
}

func (w *walker) decl(d ast.Decl) {
	switch n := d.(type) {
	case *ast.FuncDecl:
		w.funcDecl(n)
	case *ast.GenDecl:
		if n.Tok == token.IMPORT {
			return
		}
		w.genDecl(n)
	}
	w.collectCalls(d)
}

func (w *walker) funcDecl(fn *ast.FuncDecl) {
	kind := types.KindFunction
	receiver := ""
	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		kind = types.KindMethod
		receiver = receiverName(fn.Recv.List[0].Type)
	}
	sig := funcSignature(fn)

	d := w.span(fn.Doc, fn.Pos(), fn.End())
	d.Kind = kind
	d.Name = fn.Name.Name
	d.Receiver = receiver
	d.Signature = sig
	w.decls = append(w.decls, d)

	w.symbols = append(w.symbols, types.Symbol{
		Name:       fn.Name.Name,
		Kind:       kind,
		Receiver:   receiver,
		Signature:  sig,
		DocComment: docText(fn.Doc),
		Scope:      types.ScopeOf(fn.Name.Name),
		Start:      w.position(fn.Pos()),
		End:        w.position(fn.End()),
	})
}

func (w *walker) genDecl(g *ast.GenDecl) {
	d := w.span(g.Doc, g.Pos(), g.End())
	switch g.Tok {
	case token.TYPE:
		d.Kind = types.KindType
	case token.CONST:
		d.Kind = types.KindConst
	default:
		d.Kind = types.KindVar
	}

	var names []string
	for _, spec := range g.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			names = append(names, s.Name.Name)
			w.typeSpec(s, firstDoc(s.Doc, g.Doc))
		case *ast.ValueSpec:
			for _, n := range s.Names {
				if n.Name == "_" {
					continue
				}
				names = append(names, n.Name)
				w.symbols = append(w.symbols, types.Symbol{
					Name:       n.Name,
					Kind:       d.Kind,
					Signature:  valueSignature(n.Name, s),
					DocComment: docText(firstDoc(s.Doc, g.Doc)),
					Scope:      types.ScopeOf(n.Name),
					Start:      w.position(s.Pos()),
					End:        w.position(s.End()),
				})
			}
		}
	}
	d.Name = strings.Join(names, ",")
	w.decls = append(w.decls, d)
}

func (w *walker) typeSpec(s *ast.TypeSpec, doc *ast.CommentGroup) {
	sym := types.Symbol{
		Name:       s.Name.Name,
		DocComment: docText(doc),
		Scope:      types.ScopeOf(s.Name.Name),
		Start:      w.position(s.Pos()),
		End:        w.position(s.End()),
	}
	switch t := s.Type.(type) {
	case *ast.StructType:
		sym.Kind = types.KindStruct
		sym.Signature = fmt.Sprintf("type %s struct (%d fields)", s.Name.Name, t.Fields.NumFields())
	case *ast.InterfaceType:
		sym.Kind = types.KindInterface
		sym.Signature = fmt.Sprintf("type %s interface (%d methods)", s.Name.Name, t.Methods.NumFields())
	default:
		sym.Kind = types.KindType
		op := " "
		if s.Assign.IsValid() {
			op = " = "
		}
		sym.Signature = "type " + s.Name.Name + op + gotypes.ExprString(s.Type)
	}
	w.symbols = append(w.symbols, sym)

	st, ok := s.Type.(*ast.StructType)
	if !ok || !w.fields || st.Fields == nil {
		return
	}
	for _, f := range st.Fields.List {
		typ := gotypes.ExprString(f.Type)
		for _, n := range f.Names {
			w.symbols = append(w.symbols, types.Symbol{
				Name:      n.Name,
				Kind:      types.KindField,
				Receiver:  s.Name.Name,
				Signature: n.Name + " " + typ,
				Scope:     types.ScopeOf(n.Name),
				Start:     w.position(f.Pos()),
				End:       w.position(f.End()),
			})
		}
	}
}

// collectCalls records every named call inside a declaration
func (w *walker) collectCalls(d ast.Decl) {
	ast.Inspect(d, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if name := calleeName(call.Fun); name != "" {
			w.calls = append(w.calls, types.CallSite{
				Callee: name,
				Line:   w.fset.Position(call.Lparen).Line,
			})
		}
		return true
	})
}

// span covers a declaration and its doc comment
func (w *walker) span(doc *ast.CommentGroup, pos, end token.Pos) types.Declaration {
	if doc != nil {
		pos = doc.Pos()
	}
	from, to := w.fset.Position(pos), w.fset.Position(end)
	return types.Declaration{
		StartLine: from.Line,
		EndLine:   to.Line,
		StartByte: from.Offset,
		EndByte:   to.Offset,
	}
}

func (w *walker) position(pos token.Pos) types.Position {
	p := w.fset.Position(pos)
	return types.Position{Line: p.Line, Column: p.Column}
}

// calleeName returns the last identifier of a call target, or "" for
// targets with no name such as function literals
func calleeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.SelectorExpr:
		return t.Sel.Name
	case *ast.IndexExpr:
		return calleeName(t.X)
	case *ast.IndexListExpr:
		return calleeName(t.X)
	case *ast.ParenExpr:
		return calleeName(t.X)
	}
	return ""
}

// receiverName strips pointers and type parameters: *List[T] -> List
func receiverName(expr ast.Expr) string {
	for {
		switch t := expr.(type) {
		case *ast.StarExpr:
			expr = t.X
		case *ast.ParenExpr:
			expr = t.X
		case *ast.IndexExpr:
			expr = t.X
		case *ast.IndexListExpr:
			expr = t.X
		case *ast.Ident:
			return t.Name
		default:
			return ""
		}
	}
}

// funcSignature renders "func (r *T) Name(a int) error"
func funcSignature(fn *ast.FuncDecl) string {
	var b strings.Builder
	b.WriteString("func ")
	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		b.WriteString("(")
		b.WriteString(fieldString(fn.Recv.List[0]))
		b.WriteString(") ")
	}
	b.WriteString(fn.Name.Name)
	if tp := fn.Type.TypeParams; tp != nil && len(tp.List) > 0 {
		b.WriteString("[")
		b.WriteString(fieldsString(tp.List))
		b.WriteString("]")
	}
	// ExprString renders "func(params) results"; drop the keyword
	b.WriteString(strings.TrimPrefix(gotypes.ExprString(fn.Type), "func"))
	return b.String()
}

func fieldString(f *ast.Field) string {
	typ := gotypes.ExprString(f.Type)
	if len(f.Names) == 0 {
		return typ
	}
	names := make([]string, len(f.Names))
	for i, n := range f.Names {
		names[i] = n.Name
	}
	return strings.Join(names, ", ") + " " + typ
}

func fieldsString(fields []*ast.Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fieldString(f)
	}
	return strings.Join(parts, ", ")
}

func valueSignature(name string, s *ast.ValueSpec) string {
	switch {
	case s.Type != nil:
		return name + " " + gotypes.ExprString(s.Type)
	case len(s.Values) > 0:
		return name + " = ..."
	default:
		return name
	}
}

// firstDoc prefers the doc of a spec inside a group over the group's doc
func firstDoc(docs ...*ast.CommentGroup) *ast.CommentGroup {
	for _, d := range docs {
		if d != nil {
			return d
		}
	}
	return nil
}

func docText(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}
