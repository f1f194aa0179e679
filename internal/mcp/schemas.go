package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var readOnly = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

var writes = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(false),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

var destroys = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(false),
	DestructiveHint: mcp.ToBoolPtr(true),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func projectArg() mcp.ToolOption {
	return mcp.WithString("project",
		mcp.Required(),
		mcp.Description("Project name as returned by list_projects"),
	)
}

func kArg() mcp.ToolOption {
	return mcp.WithNumber("k",
		mcp.Description("Maximum number of results (1-100, default 10)"),
		mcp.Min(1),
		mcp.Max(100),
	)
}

func listProjectsTool() mcp.Tool {
	return mcp.NewTool("list_projects",
		mcp.WithDescription("List indexed projects with their state, file and chunk counts and last sync time."),
		mcp.WithToolAnnotation(readOnly),
	)
}

func searchCodeTool() mcp.Tool {
	return mcp.NewTool("search_code",
		mcp.WithDescription("Search a project with natural language or keywords. Combines vector and BM25 retrieval with reciprocal rank fusion and reranking. Returns code chunks with file, line span and score."),
		mcp.WithToolAnnotation(readOnly),
		projectArg(),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query (natural language or keywords)"),
		),
		kArg(),
		mcp.WithString("mode",
			mcp.Description("hybrid (default), vector (semantic only) or keyword (BM25 only)"),
			mcp.Enum("hybrid", "vector", "keyword"),
		),
	)
}

func findSimilarCodeTool() mcp.Tool {
	return mcp.NewTool("find_similar_code",
		mcp.WithDescription("Find code resembling a snippet, ranked by embedding similarity."),
		mcp.WithToolAnnotation(readOnly),
		projectArg(),
		mcp.WithString("snippet",
			mcp.Required(),
			mcp.Description("Code to find look-alikes of"),
		),
		kArg(),
	)
}

func searchSymbolsTool() mcp.Tool {
	return mcp.NewTool("search_symbols",
		mcp.WithDescription("Find symbol definitions by name. Glob wildcards * and ? are supported; otherwise the pattern matches as a case-insensitive substring."),
		mcp.WithToolAnnotation(readOnly),
		projectArg(),
		mcp.WithString("name_pattern",
			mcp.Required(),
			mcp.Description("Name, substring or glob such as 'New*'"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of symbols (default 50)"),
			mcp.Min(1),
			mcp.Max(500),
		),
	)
}

func getFileTool() mcp.Tool {
	return mcp.NewTool("get_file",
		mcp.WithDescription("Read a file of a project, optionally a line range. Secrets are redacted and the path must stay inside the project root."),
		mcp.WithToolAnnotation(readOnly),
		projectArg(),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("File path relative to the project root"),
		),
		mcp.WithNumber("start_line",
			mcp.Description("First line to return, 1-based"),
			mcp.Min(1),
		),
		mcp.WithNumber("end_line",
			mcp.Description("Last line to return, inclusive"),
			mcp.Min(1),
		),
	)
}

func getProjectPatternsTool() mcp.Tool {
	return mcp.NewTool("get_project_patterns",
		mcp.WithDescription("Summarize a project: languages, naming conventions, common name prefixes, top-level layout and symbol kinds."),
		mcp.WithToolAnnotation(readOnly),
		projectArg(),
	)
}

func textSearchTool() mcp.Tool {
	return mcp.NewTool("text_search",
		mcp.WithDescription("Keyword search over a project with BM25 only. Identifiers are split on camelCase and snake_case."),
		mcp.WithToolAnnotation(readOnly),
		projectArg(),
		mcp.WithString("terms",
			mcp.Required(),
			mcp.Description("Search terms"),
		),
		kArg(),
	)
}

func findCallersTool() mcp.Tool {
	return mcp.NewTool("find_callers",
		mcp.WithDescription("List the chunks whose body calls a symbol. Names match on their last segment, so pkg.Foo and Foo are the same."),
		mcp.WithToolAnnotation(readOnly),
		projectArg(),
		mcp.WithString("symbol",
			mcp.Required(),
			mcp.Description("Function or method name"),
		),
	)
}

func findCalleesTool() mcp.Tool {
	return mcp.NewTool("find_callees",
		mcp.WithDescription("List the indexed symbols called by a function or method. Calls that resolve to no indexed definition are omitted."),
		mcp.WithToolAnnotation(readOnly),
		projectArg(),
		mcp.WithString("symbol",
			mcp.Required(),
			mcp.Description("Function or method name"),
		),
	)
}

func indexProjectTool() mcp.Tool {
	return mcp.NewTool("index_project",
		mcp.WithDescription("Index a directory, creating the project on first use. Unchanged files are skipped on later runs."),
		mcp.WithToolAnnotation(writes),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path to the project root"),
		),
		mcp.WithString("name",
			mcp.Description("Project name (defaults to the directory name)"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Re-chunk every file even when its content is unchanged"),
			mcp.DefaultBool(false),
		),
	)
}

func syncProjectTool() mcp.Tool {
	return mcp.NewTool("sync_project",
		mcp.WithDescription("Bring an indexed project up to date with its files."),
		mcp.WithToolAnnotation(writes),
		projectArg(),
	)
}

func removeProjectTool() mcp.Tool {
	return mcp.NewTool("remove_project",
		mcp.WithDescription("Remove a project and everything derived from it. Source files are not touched."),
		mcp.WithToolAnnotation(destroys),
		projectArg(),
	)
}

func projectStatusTool() mcp.Tool {
	return mcp.NewTool("project_status",
		mcp.WithDescription("Report the state of a project, its file, chunk and embedding counts and the last run."),
		mcp.WithToolAnnotation(readOnly),
		projectArg(),
	)
}
