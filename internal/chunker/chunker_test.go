package chunker

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/coderag-mcp/pkg/types"
)

func chunkText(t *testing.T, path, content string) []types.Chunk {
	t.Helper()
	chunks, err := New(nil).Chunk(context.Background(), path, []byte(content), types.LanguageFromPath(path))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.NotEmpty(t, ch.ID)
		assert.Equal(t, path, ch.FilePath)
	}
	return chunks
}

func bySymbol(chunks []types.Chunk, symbol string) *types.Chunk {
	for i := range chunks {
		if chunks[i].Symbol == symbol {
			return &chunks[i]
		}
	}
	return nil
}

func callees(ch *types.Chunk) []string {
	out := make([]string, 0, len(ch.Calls))
	for _, c := range ch.Calls {
		out = append(out, c.Callee)
	}
	return out
}

const goSource = `package greet

import "fmt"

// Greeter says hello.
type Greeter struct {
	Name string
}

// Greet prints a greeting message
func Greet(name string) {
	fmt.Println(format(name))
}

func (g *Greeter) Hello() string {
	return format(g.Name)
}

const (
	A = 1
	B = 2
)
`

func TestChunk_Go(t *testing.T) {
	chunks := chunkText(t, "greet/greet.go", goSource)

	header := bySymbol(chunks, "greet")
	require.NotNil(t, header)
	assert.Equal(t, types.ChunkModule, header.Kind)
	assert.Contains(t, header.Content, `import "fmt"`)

	typ := bySymbol(chunks, "Greeter")
	require.NotNil(t, typ)
	assert.Equal(t, types.ChunkType, typ.Kind)
	assert.True(t, strings.HasPrefix(typ.Content, "// Greeter says hello."))
	require.Len(t, typ.Definitions, 1)
	assert.Equal(t, types.KindStruct, typ.Definitions[0].Kind)

	fn := bySymbol(chunks, "Greet")
	require.NotNil(t, fn)
	assert.Equal(t, types.ChunkFunction, fn.Kind)
	assert.Equal(t, 10, fn.StartLine)
	assert.Equal(t, 13, fn.EndLine)
	assert.Equal(t, []string{"Println", "format"}, callees(fn))

	method := bySymbol(chunks, "Greeter.Hello")
	require.NotNil(t, method)
	assert.Equal(t, types.ChunkMethod, method.Kind)
	assert.Equal(t, []string{"format"}, callees(method))
	require.Len(t, method.Definitions, 1)
	assert.Equal(t, "Hello", method.Definitions[0].Name)

	consts := bySymbol(chunks, "A,B")
	require.NotNil(t, consts)
	assert.Equal(t, types.ChunkConst, consts.Kind)
	assert.Len(t, consts.Definitions, 2)
	assert.Empty(t, consts.Calls)
}

func TestChunk_GoSyntaxErrorFallsBackToLines(t *testing.T) {
	chunks := chunkText(t, "broken.go", "package x\n\nfunc incomplete( {\n}\n")
	require.Len(t, chunks, 1)
	assert.Equal(t, types.ChunkLineBlock, chunks[0].Kind)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 4, chunks[0].EndLine)
}

func TestChunk_StableIDs(t *testing.T) {
	first := chunkText(t, "greet/greet.go", goSource)
	again := chunkText(t, "greet/greet.go", goSource)
	require.Equal(t, len(first), len(again))
	for i := range first {
		assert.Equal(t, first[i].ID, again[i].ID)
	}

	// shifting Greet down keeps its id, editing Hello changes only Hello
	edited := strings.Replace(goSource, "// Greet prints", "\n\n// Greet prints", 1)
	edited = strings.Replace(edited, "return format(g.Name)", "return format(g.Name + \"!\")", 1)
	shifted := chunkText(t, "greet/greet.go", edited)

	assert.Equal(t, bySymbol(first, "Greet").ID, bySymbol(shifted, "Greet").ID)
	assert.Equal(t, bySymbol(first, "Greet").StartLine+2, bySymbol(shifted, "Greet").StartLine)
	assert.NotEqual(t, bySymbol(first, "Greeter.Hello").ID, bySymbol(shifted, "Greeter.Hello").ID)
}

func TestChunk_SameContentDifferentPath(t *testing.T) {
	a := chunkText(t, "a/greet.go", goSource)
	b := chunkText(t, "b/greet.go", goSource)
	assert.NotEqual(t, bySymbol(a, "Greet").ID, bySymbol(b, "Greet").ID)
}

func TestChunk_Python(t *testing.T) {
	src := `class Greeter:
    def greet(self, name):
        return helper(name).upper()

def helper(name):
    print("hello", name)
    return name
`
	chunks := chunkText(t, "app/greet.py", src)

	cls := bySymbol(chunks, "Greeter")
	require.NotNil(t, cls)
	assert.Equal(t, types.ChunkClass, cls.Kind)
	assert.Nil(t, bySymbol(chunks, "greet"), "methods of a small class stay inside it")

	fn := bySymbol(chunks, "helper")
	require.NotNil(t, fn)
	assert.Equal(t, types.ChunkFunction, fn.Kind)
	assert.Equal(t, 5, fn.StartLine)
	assert.Contains(t, callees(fn), "print")
}

func TestChunk_PythonLargeClassKeepsMethods(t *testing.T) {
	var b strings.Builder
	b.WriteString("class Big:\n")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "    def m%d(self):\n        return %d + self.value_of_something_long\n\n", i, i)
	}
	chunks := chunkText(t, "big.py", b.String())

	m := bySymbol(chunks, "m10")
	require.NotNil(t, m)
	assert.Equal(t, types.ChunkMethod, m.Kind)

	var classParts int
	for _, ch := range chunks {
		if ch.Kind == types.ChunkClass {
			classParts++
			assert.LessOrEqual(t, ch.EndLine-ch.StartLine+1, SplitWindowLines)
		}
	}
	assert.Greater(t, classParts, 1)
}

func TestChunk_Rust(t *testing.T) {
	src := `fn compute(values: &[i32]) -> i32 {
    let total = sum(values);
    log::info!("total");
    total * 2
}
`
	chunks := chunkText(t, "src/lib.rs", src)
	fn := bySymbol(chunks, "compute")
	require.NotNil(t, fn)
	assert.Equal(t, types.ChunkFunction, fn.Kind)
	assert.Equal(t, []string{"sum"}, callees(fn))
}

func TestChunk_TinySourceFallsBackToLines(t *testing.T) {
	chunks := chunkText(t, "tiny.py", "x = 1\n")
	require.Len(t, chunks, 1)
	assert.Equal(t, types.ChunkLineBlock, chunks[0].Kind)
}

func TestChunk_Env(t *testing.T) {
	chunks := chunkText(t, ".env", "# comment\nAPI_KEY=abc\n\nexport DB_URL=postgres://x\n")
	require.Len(t, chunks, 2)
	assert.Equal(t, "API_KEY", chunks[0].Symbol)
	assert.Equal(t, types.ChunkEnvVar, chunks[0].Kind)
	assert.Equal(t, 2, chunks[0].StartLine)
	assert.Equal(t, "DB_URL", chunks[1].Symbol)
	assert.Equal(t, 4, chunks[1].StartLine)
}

func TestChunk_JSON(t *testing.T) {
	src := "{\n  \"name\": \"demo\",\n  \"scripts\": {\n    \"build\": \"go build\"\n  }\n}\n"
	chunks := chunkText(t, "package.json", src)
	require.Len(t, chunks, 2)

	assert.Equal(t, "name", chunks[0].Symbol)
	assert.Equal(t, `"name": "demo"`, chunks[0].Content)
	assert.Equal(t, 2, chunks[0].StartLine)

	assert.Equal(t, "scripts", chunks[1].Symbol)
	assert.True(t, strings.HasPrefix(chunks[1].Content, `"scripts": {`))
	assert.Equal(t, 3, chunks[1].StartLine)
	assert.Equal(t, 5, chunks[1].EndLine)
}

func TestChunk_JSONArrayIsOneChunk(t *testing.T) {
	chunks := chunkText(t, "list.json", "[1, 2, 3]\n")
	require.Len(t, chunks, 1)
	assert.Equal(t, types.ChunkFile, chunks[0].Kind)
}

func TestChunk_InvalidJSONFallsBack(t *testing.T) {
	chunks := chunkText(t, "bad.json", "{\"a\": \n")
	require.Len(t, chunks, 1)
	assert.Equal(t, types.ChunkLineBlock, chunks[0].Kind)
}

func TestChunk_YAML(t *testing.T) {
	src := "# settings\nserver:\n  port: 8080\n\ndatabase:\n  url: x\n"
	chunks := chunkText(t, "config.yaml", src)
	require.Len(t, chunks, 2)

	assert.Equal(t, "server", chunks[0].Symbol)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 3, chunks[0].EndLine)

	assert.Equal(t, "database", chunks[1].Symbol)
	assert.Equal(t, 5, chunks[1].StartLine)
	assert.Equal(t, 6, chunks[1].EndLine)
}

func TestChunk_TOML(t *testing.T) {
	src := "title = \"x\"\n\n[server]\nport = 1\n\n[[plugins]]\nname = \"a\"\n"
	chunks := chunkText(t, "Cargo.toml", src)
	require.Len(t, chunks, 3)

	assert.Equal(t, "", chunks[0].Symbol)
	assert.Equal(t, "server", chunks[1].Symbol)
	assert.Equal(t, 3, chunks[1].StartLine)
	assert.Equal(t, "plugins", chunks[2].Symbol)
	assert.Equal(t, 6, chunks[2].StartLine)
	assert.Equal(t, 7, chunks[2].EndLine)
}

func TestChunk_Markdown(t *testing.T) {
	src := "intro text\n\n# Title\nbody\n\n## Sub\nmore\n"
	chunks := chunkText(t, "README.md", src)
	require.Len(t, chunks, 3)

	assert.Equal(t, "", chunks[0].Symbol)
	assert.Equal(t, "Title", chunks[1].Symbol)
	assert.Equal(t, 3, chunks[1].StartLine)
	assert.Equal(t, 5, chunks[1].EndLine)
	assert.Equal(t, "Sub", chunks[2].Symbol)
	assert.Equal(t, types.ChunkSection, chunks[2].Kind)
}

func TestChunk_LineWindows(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 130; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	chunks := chunkText(t, "notes.txt", b.String())
	require.Len(t, chunks, 3)

	assert.Equal(t, [2]int{1, 60}, [2]int{chunks[0].StartLine, chunks[0].EndLine})
	assert.Equal(t, [2]int{56, 115}, [2]int{chunks[1].StartLine, chunks[1].EndLine})
	assert.Equal(t, [2]int{111, 130}, [2]int{chunks[2].StartLine, chunks[2].EndLine})
	assert.True(t, strings.HasPrefix(chunks[1].Content, "line 56\n"))
}

func TestChunk_EmptyFile(t *testing.T) {
	for _, content := range []string{"", "  \n\t\n"} {
		chunks, err := New(nil).Chunk(context.Background(), "empty.go", []byte(content), types.LangGo)
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, types.ChunkFile, chunks[0].Kind)
		assert.True(t, chunks[0].IsEmpty())
		assert.NotEmpty(t, chunks[0].ID)
	}
}

func TestChunk_InvalidUTF8(t *testing.T) {
	chunks := chunkText(t, "weird.go", "package x\n\xff\xfe\nfunc A() {}\n")
	require.Len(t, chunks, 1)
	assert.Equal(t, types.ChunkLineBlock, chunks[0].Kind)
	assert.Contains(t, chunks[0].Content, "�")
}

func TestChunk_OversizedSplit(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Big\n")
	for i := 0; i < 399; i++ {
		b.WriteString(strings.Repeat("word ", 8) + "\n")
	}
	chunks := chunkText(t, "big.md", b.String())
	require.Greater(t, len(chunks), 1)

	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 40, chunks[0].EndLine)
	assert.Equal(t, 31, chunks[1].StartLine)
	for _, ch := range chunks {
		assert.Equal(t, "Big", ch.Symbol)
		assert.LessOrEqual(t, len(ch.Content), MaxChunkBytes)
	}

	ids := map[string]bool{}
	for _, ch := range chunks {
		assert.False(t, ids[ch.ID], "duplicate id")
		ids[ch.ID] = true
	}
}

func TestChunk_GiantSingleLine(t *testing.T) {
	chunks := chunkText(t, "blob.txt", strings.Repeat("x", 20000))
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0].Content, 20000)
}

func TestChunk_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Chunk(ctx, "a.go", []byte(goSource), types.LangGo)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDedupCaptures(t *testing.T) {
	caps := []capture{
		{startByte: 10, endByte: 20},
		{startByte: 0, endByte: 100},
		{startByte: 120, endByte: 200},
	}
	out := dedupCaptures(caps)
	require.Len(t, out, 2)
	assert.Equal(t, uint32(0), out[0].startByte)
	assert.Equal(t, uint32(120), out[1].startByte)
}

func TestSourceSpans(t *testing.T) {
	s := newSource("ab\ncd\n\nef\n")
	assert.Equal(t, 4, s.lineCount())
	assert.Equal(t, 1, s.lineAt(0))
	assert.Equal(t, 2, s.lineAt(3))
	assert.Equal(t, 4, s.lineAt(7))

	ch := s.lines(types.ChunkLineBlock, "", 2, 4)
	assert.Equal(t, "cd\n\nef", ch.Content)
	assert.Equal(t, 3, ch.StartByte)
	assert.Equal(t, 9, ch.EndByte)
}

// uncovered lists the non-blank lines of src outside every chunk's line span
func uncovered(src string, chunks []types.Chunk) []int {
	var out []int
	for i, line := range strings.Split(src, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := i + 1
		found := false
		for _, ch := range chunks {
			if n >= ch.StartLine && n <= ch.EndLine {
				found = true
				break
			}
		}
		if !found {
			out = append(out, n)
		}
	}
	return out
}

func TestChunk_CoversWholeFile(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		src      string
		contains []string
	}{
		{
			name: "python module code around a function",
			path: "app.py",
			src: `import os
API_URL = "https://example.invalid/api"

def handler(event, context):
    payload = os.environ.get("PAYLOAD", "")
    return {"status": 200, "body": payload}

if __name__ == "__main__":
    run_server_with_config_from_environment()
`,
			contains: []string{`API_URL = "`, "run_server_with_config_from_environment"},
		},
		{
			name: "javascript statements between declarations",
			path: "web/sort.js",
			src: `import fs from "fs";
const LIMIT = 10;

function sortItems(items) {
  return items.slice(0, LIMIT).sort((a, b) => a - b);
}

console.log(sortItems([3, 1, 2]));
module.exports = { sortItems };
`,
			contains: []string{"const LIMIT = 10;", "module.exports"},
		},
		{
			name: "typescript top-level call",
			path: "src/load.ts",
			src: `import { readFile } from "fs/promises";

export interface Config {
  name: string;
  retries: number;
}

export async function load(path: string): Promise<Config> {
  const raw = await readFile(path, "utf8");
  return JSON.parse(raw) as Config;
}

load("config.json").then(console.log);
`,
			contains: []string{`import { readFile }`, `load("config.json")`},
		},
		{
			name: "go comments between and after declarations",
			path: "cmd/tool/main.go",
			src: `package main

import "os"

func main() {
	os.Exit(run())
}

// The helpers below are kept in this file until the tool grows.

func run() int {
	return 0
}

// end of file notes
`,
			contains: []string{"The helpers below", "end of file notes"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := chunkText(t, tt.path, tt.src)
			assert.Empty(t, uncovered(tt.src, chunks))

			for _, want := range tt.contains {
				found := false
				for _, ch := range chunks {
					if strings.Contains(ch.Content, want) {
						found = true
						break
					}
				}
				assert.True(t, found, "no chunk holds %q", want)
			}

			ids := map[string]bool{}
			for _, ch := range chunks {
				assert.False(t, ids[ch.ID], "duplicate id")
				ids[ch.ID] = true
				if ch.Kind == types.ChunkModule && ch.Symbol == "" {
					assert.Empty(t, ch.Definitions)
					assert.Empty(t, ch.Calls)
				}
			}

			again := chunkText(t, tt.path, tt.src)
			require.Len(t, again, len(chunks))
			for i := range chunks {
				assert.Equal(t, chunks[i].ID, again[i].ID)
			}
		})
	}
}

func TestChunk_CommentStaysWithDefinition(t *testing.T) {
	src := `const names = ["a", "b"];

// sortItems returns a sorted copy of items
function sortItems(items) {
  return items.slice().sort((a, b) => a - b);
}
`
	chunks := chunkText(t, "sort.js", src)
	fn := bySymbol(chunks, "sortItems")
	require.NotNil(t, fn)
	assert.Equal(t, 3, fn.StartLine)
	assert.True(t, strings.HasPrefix(fn.Content, "// sortItems returns"))
}
