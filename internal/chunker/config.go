package chunker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/coderag-mcp/pkg/types"
)

func keyDefinition(ch *types.Chunk) {
	if ch.Symbol == "" {
		return
	}
	ch.Definitions = []types.Definition{{
		Name:      ch.Symbol,
		Kind:      types.KindKey,
		StartLine: ch.StartLine,
		EndLine:   ch.EndLine,
	}}
}

// envStrategy emits one chunk per assignment of a dotenv file
type envStrategy struct{}

func (envStrategy) Name() string { return "env" }

func (envStrategy) Chunk(_ context.Context, path string, text string) ([]types.Chunk, error) {
	if _, err := godotenv.Unmarshal(text); err != nil {
		return nil, fmt.Errorf("parse env %s: %w", path, err)
	}

	src := newSource(text)
	var chunks []types.Chunk
	for n := 1; n <= src.lineCount(); n++ {
		ch := src.lines(types.ChunkEnvVar, "", n, n)
		line := strings.TrimSpace(ch.Content)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, _, _ := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		ch.Symbol = strings.TrimSpace(key)
		keyDefinition(&ch)
		chunks = append(chunks, ch)
	}
	return chunks, nil
}

// jsonStrategy emits one chunk per top-level key of a JSON object. Any
// other document becomes a single chunk.
type jsonStrategy struct{}

func (jsonStrategy) Name() string { return "json" }

func (jsonStrategy) Chunk(_ context.Context, path string, text string) ([]types.Chunk, error) {
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("parse json %s: invalid document", path)
	}

	src := newSource(text)
	whole := []types.Chunk{src.lines(types.ChunkFile, "", 1, src.lineCount())}

	dec := json.NewDecoder(strings.NewReader(text))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse json %s: %w", path, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return whole, nil
	}

	var chunks []types.Chunk
	for dec.More() {
		keyStart := skipSeparators(text, int(dec.InputOffset()))
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse json %s: %w", path, err)
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse json %s: %w", path, err)
		}
		ch := src.bytes(types.ChunkSymbol, key, keyStart, int(dec.InputOffset()))
		keyDefinition(&ch)
		chunks = append(chunks, ch)
	}

	if len(chunks) == 0 {
		return whole, nil
	}
	return chunks, nil
}

func skipSeparators(text string, off int) int {
	for off < len(text) {
		switch text[off] {
		case ' ', '\t', '\r', '\n', ',', '{':
			off++
		default:
			return off
		}
	}
	return off
}

// yamlStrategy emits one chunk per top-level key of a YAML mapping
type yamlStrategy struct{}

func (yamlStrategy) Name() string { return "yaml" }

func (yamlStrategy) Chunk(_ context.Context, path string, text string) ([]types.Chunk, error) {
	var doc yaml.Node
	dec := yaml.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse yaml %s: %w", path, err)
	}

	src := newSource(text)
	total := src.lineCount()
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return []types.Chunk{src.lines(types.ChunkFile, "", 1, total)}, nil
	}

	mapping := doc.Content[0]
	var keys []*yaml.Node
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		keys = append(keys, mapping.Content[i])
	}

	var chunks []types.Chunk
	for i, k := range keys {
		start := k.Line
		if i == 0 {
			start = 1
		}
		end := total
		if i+1 < len(keys) {
			end = keys[i+1].Line - 1
		}
		for end > start && strings.TrimSpace(src.lines(types.ChunkSymbol, "", end, end).Content) == "" {
			end--
		}

		ch := src.lines(types.ChunkSymbol, k.Value, start, end)
		keyDefinition(&ch)
		chunks = append(chunks, ch)
	}
	return chunks, nil
}

// tomlStrategy emits the root keys and then one chunk per table header
type tomlStrategy struct{}

func (tomlStrategy) Name() string { return "toml" }

func (tomlStrategy) Chunk(_ context.Context, path string, text string) ([]types.Chunk, error) {
	var doc map[string]any
	if err := toml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("parse toml %s: %w", path, err)
	}

	src := newSource(text)
	var chunks []types.Chunk
	section, start := "", 1

	flush := func(end int) {
		if end < start {
			return
		}
		ch := src.lines(types.ChunkSection, section, start, end)
		if ch.IsEmpty() {
			return
		}
		keyDefinition(&ch)
		chunks = append(chunks, ch)
	}

	for n := 1; n <= src.lineCount(); n++ {
		line := strings.TrimSpace(src.lines(types.ChunkSection, "", n, n).Content)
		if name, ok := tableHeader(line); ok {
			flush(n - 1)
			section, start = name, n
		}
	}
	flush(src.lineCount())

	return chunks, nil
}

func tableHeader(line string) (string, bool) {
	if !strings.HasPrefix(line, "[") {
		return "", false
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return "", false
	}
	name := strings.Trim(line[:end], "[ ")
	return name, name != ""
}
