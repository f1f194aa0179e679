package chunker

import (
	"context"
	"fmt"

	"github.com/dshills/coderag-mcp/internal/parser"
	"github.com/dshills/coderag-mcp/pkg/types"
)

// goStrategy chunks Go files along top-level declarations using go/ast
type goStrategy struct {
	parser *parser.Parser
}

func newGoStrategy() goStrategy {
	return goStrategy{parser: parser.New()}
}

func (goStrategy) Name() string { return "go" }

func (g goStrategy) Chunk(ctx context.Context, path string, text string) ([]types.Chunk, error) {
	result, err := g.parser.ParseSource(path, []byte(text))
	if err != nil {
		return nil, err
	}
	if result.HasErrors() {
		return nil, fmt.Errorf("%s: %s", path, result.Errors[0].Message)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := newSource(text)
	chunks := make([]types.Chunk, 0, len(result.Decls)+1)

	// package clause, imports and file comments ahead of the first declaration
	headerEnd := src.lineCount()
	if len(result.Decls) > 0 {
		headerEnd = result.Decls[0].StartLine - 1
	}
	if headerEnd >= 1 {
		header := src.lines(types.ChunkModule, result.PackageName, 1, headerEnd)
		if !header.IsEmpty() {
			chunks = append(chunks, header)
		}
	}

	for _, d := range result.Decls {
		symbol := d.Name
		if d.Receiver != "" {
			symbol = d.Receiver + "." + d.Name
		}

		ch := src.bytes(declChunkKind(d.Kind), symbol, d.StartByte, d.EndByte)
		ch.Definitions = declDefinitions(d, result.Symbols)
		if ch.Kind.IsFunctionLike() {
			ch.Calls = result.CallsBetween(ch.StartLine, ch.EndLine)
		}
		chunks = append(chunks, ch)
	}

	// free-standing comments and text between declarations
	return withGaps(src, chunks), nil
}

func declChunkKind(kind types.SymbolKind) types.ChunkKind {
	switch kind {
	case types.KindFunction:
		return types.ChunkFunction
	case types.KindMethod:
		return types.ChunkMethod
	case types.KindConst:
		return types.ChunkConst
	case types.KindVar:
		return types.ChunkVar
	default:
		return types.ChunkType
	}
}

// declDefinitions lists the symbols a declaration introduces. A func yields
// itself; a type, const or var group yields every name declared inside it.
func declDefinitions(d types.Declaration, symbols []types.Symbol) []types.Definition {
	if d.Kind == types.KindFunction || d.Kind == types.KindMethod {
		return []types.Definition{{
			Name:      d.Name,
			Kind:      d.Kind,
			Signature: d.Signature,
			StartLine: d.StartLine,
			EndLine:   d.EndLine,
		}}
	}

	var defs []types.Definition
	for _, s := range symbols {
		if s.Kind == types.KindField || s.Kind == types.KindFunction || s.Kind == types.KindMethod {
			continue
		}
		if s.Start.Line < d.StartLine || s.Start.Line > d.EndLine {
			continue
		}
		defs = append(defs, types.Definition{
			Name:      s.Name,
			Kind:      s.Kind,
			Signature: s.Signature,
			StartLine: s.Start.Line,
			EndLine:   s.End.Line,
		})
	}
	return defs
}
