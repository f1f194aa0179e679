package chunker

import (
	"context"

	"github.com/dshills/coderag-mcp/pkg/types"
)

const (
	// LineWindow and LineOverlap shape the fallback windows
	LineWindow  = 60
	LineOverlap = 5
)

// lineStrategy cuts text into fixed windows of lines
type lineStrategy struct {
	window  int
	overlap int
}

func newLineStrategy() lineStrategy {
	return lineStrategy{window: LineWindow, overlap: LineOverlap}
}

func (lineStrategy) Name() string { return "lines" }

func (l lineStrategy) Chunk(ctx context.Context, _ string, text string) ([]types.Chunk, error) {
	src := newSource(text)
	total := src.lineCount()
	step := l.window - l.overlap

	var chunks []types.Chunk
	for start := 1; start <= total; start += step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+l.window-1, total)
		ch := src.lines(types.ChunkLineBlock, "", start, end)
		if !ch.IsEmpty() {
			chunks = append(chunks, ch)
		}
		if end == total {
			break
		}
	}

	if len(chunks) == 0 {
		chunks = append(chunks, src.lines(types.ChunkFile, "", 1, total))
	}
	return chunks, nil
}
