package chunker

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/logging"
	"github.com/dshills/coderag-mcp/pkg/types"
)

const (
	// MaxChunkBytes is the size above which a chunk is split into line windows
	MaxChunkBytes = 8192

	// SplitWindowLines and SplitOverlapLines shape the windows of an oversized chunk
	SplitWindowLines  = 40
	SplitOverlapLines = 10
)

// Strategy turns the text of one file into chunks. Chunk spans, kinds,
// symbols and call sites are filled in; ids and fingerprints are assigned
// by the Chunker afterwards.
type Strategy interface {
	Name() string
	Chunk(ctx context.Context, path string, text string) ([]types.Chunk, error)
}

// Chunker dispatches files to a language strategy and enforces the
// guarantees every strategy shares: fallback to line windows, oversize
// splitting and at least one chunk per file.
type Chunker struct {
	logger     *zap.Logger
	strategies map[types.Language]Strategy
	fallback   Strategy
}

// New creates a Chunker with every built-in strategy registered
func New(logger *zap.Logger) *Chunker {
	c := &Chunker{
		logger:     logging.OrNop(logger),
		strategies: make(map[types.Language]Strategy),
		fallback:   newLineStrategy(),
	}

	c.Register(types.LangGo, newGoStrategy())
	for _, lang := range treeSitterLanguages() {
		c.Register(lang, newTreeSitterStrategy(lang))
	}
	c.Register(types.LangEnv, envStrategy{})
	c.Register(types.LangJSON, jsonStrategy{})
	c.Register(types.LangYAML, yamlStrategy{})
	c.Register(types.LangTOML, tomlStrategy{})
	c.Register(types.LangMarkdown, markdownStrategy{})

	return c
}

// Register installs or replaces the strategy used for a language
func (c *Chunker) Register(lang types.Language, s Strategy) {
	c.strategies[lang] = s
}

// StrategyFor returns the strategy that handles lang
func (c *Chunker) StrategyFor(lang types.Language) Strategy {
	if s, ok := c.strategies[lang]; ok {
		return s
	}
	return c.fallback
}

// Chunk splits the content of relPath into chunks with stable ids.
// The only error returned is ctx.Err(); strategy failures fall back to
// line windows.
func (c *Chunker) Chunk(ctx context.Context, relPath string, content []byte, lang types.Language) ([]types.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(string(content)) == "" {
		chunks := []types.Chunk{{
			FilePath:  relPath,
			Language:  lang,
			Kind:      types.ChunkFile,
			StartLine: 1,
			EndLine:   1,
		}}
		types.AssignIDs(chunks)
		return chunks, nil
	}

	text := string(content)
	strategy := c.StrategyFor(lang)
	if !utf8.ValidString(text) {
		c.logger.Debug("invalid utf-8, chunking as lines", zap.String("file", relPath))
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
		strategy = c.fallback
	}

	chunks, err := strategy.Chunk(ctx, relPath, text)
	if err != nil || len(chunks) == 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			c.logger.Warn("chunking failed, falling back to line windows",
				zap.String("file", relPath),
				zap.String("strategy", strategy.Name()),
				zap.Error(errors.Join(types.ErrParseFailure, err)),
			)
		}
		chunks, err = c.fallback.Chunk(ctx, relPath, text)
		if err != nil {
			return nil, err
		}
	}

	out := make([]types.Chunk, 0, len(chunks))
	for _, ch := range chunks {
		ch.FilePath = relPath
		ch.Language = lang
		out = append(out, splitOversized(ch)...)
	}

	types.AssignIDs(out)
	return out, nil
}

// splitOversized cuts a chunk larger than MaxChunkBytes into overlapping
// line windows. A chunk made of a single line is never split.
func splitOversized(ch types.Chunk) []types.Chunk {
	if len(ch.Content) <= MaxChunkBytes {
		return []types.Chunk{ch}
	}

	lines := strings.Split(ch.Content, "\n")
	if len(lines) <= 1 {
		return []types.Chunk{ch}
	}

	offsets := make([]int, len(lines)+1)
	for i, l := range lines {
		offsets[i+1] = offsets[i] + len(l) + 1
	}

	var out []types.Chunk
	assigned := 0
	for i := 0; i < len(lines); {
		end := min(i+SplitWindowLines, len(lines))

		part := ch
		part.Content = strings.Join(lines[i:end], "\n")
		part.StartLine = ch.StartLine + i
		part.EndLine = ch.StartLine + end - 1
		part.StartByte = ch.StartByte + offsets[i]
		part.EndByte = part.StartByte + len(part.Content)
		part.Definitions = nil
		if i == 0 {
			part.Definitions = ch.Definitions
		}

		// each call site goes to the first window that covers it
		part.Calls = nil
		for _, call := range ch.Calls[assigned:] {
			if call.Line > part.EndLine {
				break
			}
			part.Calls = append(part.Calls, call)
			assigned++
		}

		out = append(out, part)
		if end >= len(lines) {
			break
		}
		i += SplitWindowLines - SplitOverlapLines
	}

	return out
}

// withGaps orders chunks by position and adds a module chunk for every
// stretch of non-blank text no chunk covers. Gap chunks carry no symbol or
// definitions, so their ids depend on content alone.
func withGaps(s *source, chunks []types.Chunk) []types.Chunk {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].StartByte != chunks[j].StartByte {
			return chunks[i].StartByte < chunks[j].StartByte
		}
		return chunks[i].EndByte > chunks[j].EndByte
	})

	out := make([]types.Chunk, 0, len(chunks)+1)
	covered := 0
	for _, ch := range chunks {
		if ch.StartByte > covered {
			out = appendGap(out, s, covered, ch.StartByte)
		}
		out = append(out, ch)
		covered = max(covered, ch.EndByte)
	}
	return appendGap(out, s, covered, len(s.text))
}

func appendGap(out []types.Chunk, s *source, from, to int) []types.Chunk {
	gap := s.text[from:to]
	body := strings.TrimSpace(gap)
	if body == "" {
		return out
	}
	from += len(gap) - len(strings.TrimLeftFunc(gap, unicode.IsSpace))
	return append(out, s.bytes(types.ChunkModule, "", from, from+len(body)))
}

// source indexes line starts of a text for span arithmetic
type source struct {
	text   string
	starts []int
}

func newSource(text string) *source {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' && i+1 < len(text) {
			starts = append(starts, i+1)
		}
	}
	return &source{text: text, starts: starts}
}

// lineCount returns the number of lines; a trailing newline does not open a new one
func (s *source) lineCount() int {
	return len(s.starts)
}

// lineAt returns the 1-based line containing byte offset off
func (s *source) lineAt(off int) int {
	lo, hi := 0, len(s.starts)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.starts[mid] <= off {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return max(lo, 1)
}

// lineEnd returns the byte offset just past the content of line n, newline excluded
func (s *source) lineEnd(n int) int {
	if n < len(s.starts) {
		return s.starts[n] - 1
	}
	return len(strings.TrimSuffix(s.text, "\n"))
}

// lines builds a chunk covering whole lines start..end (1-based, inclusive)
func (s *source) lines(kind types.ChunkKind, symbol string, start, end int) types.Chunk {
	start = min(max(start, 1), s.lineCount())
	end = min(max(end, start), s.lineCount())
	from := s.starts[start-1]
	to := max(s.lineEnd(end), from)
	return types.Chunk{
		Kind:      kind,
		Symbol:    symbol,
		Content:   s.text[from:to],
		StartLine: start,
		EndLine:   end,
		StartByte: from,
		EndByte:   to,
	}
}

// bytes builds a chunk covering text[from:to] exactly
func (s *source) bytes(kind types.ChunkKind, symbol string, from, to int) types.Chunk {
	to = min(to, len(s.text))
	endLine := s.lineAt(max(to-1, from))
	return types.Chunk{
		Kind:      kind,
		Symbol:    symbol,
		Content:   s.text[from:to],
		StartLine: s.lineAt(from),
		EndLine:   endLine,
		StartByte: from,
		EndByte:   to,
	}
}
