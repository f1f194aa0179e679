package chunker

import (
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/dshills/coderag-mcp/pkg/types"
)

// markdownStrategy emits one section per heading. Text ahead of the first
// heading becomes an untitled section.
type markdownStrategy struct{}

func (markdownStrategy) Name() string { return "markdown" }

func (markdownStrategy) Chunk(_ context.Context, _ string, body string) ([]types.Chunk, error) {
	content := []byte(body)
	doc := goldmark.New().Parser().Parse(text.NewReader(content))
	src := newSource(body)

	type heading struct {
		line  int
		title string
	}
	var headings []heading

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		headings = append(headings, heading{
			line:  src.lineAt(seg.Start),
			title: strings.TrimSpace(string(seg.Value(content))),
		})
	}

	var chunks []types.Chunk
	add := func(title string, start, end int) {
		if end < start {
			return
		}
		ch := src.lines(types.ChunkSection, title, start, end)
		if ch.IsEmpty() {
			return
		}
		keyDefinition(&ch)
		chunks = append(chunks, ch)
	}

	total := src.lineCount()
	if len(headings) == 0 {
		add("", 1, total)
		return chunks, nil
	}

	add("", 1, headings[0].line-1)
	for i, h := range headings {
		end := total
		if i+1 < len(headings) {
			end = headings[i+1].line - 1
		}
		add(h.title, h.line, end)
	}

	return chunks, nil
}
