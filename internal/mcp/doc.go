// Package mcp implements the Model Context Protocol (MCP) server for coderag.
//
// The server exposes the tool calls of package tools to AI coding
// assistants over stdio:
//   - list_projects: indexed projects with state and counts
//   - search_code: hybrid vector + BM25 search with RRF and reranking
//   - find_similar_code: look-alikes of a code snippet
//   - search_symbols: definitions by name, glob or substring
//   - get_file: redacted file content confined to the project root
//   - get_project_patterns: languages, naming conventions and layout
//   - text_search: BM25-only keyword search
//   - find_callers / find_callees: name-based call graph queries
//   - index_project, sync_project, remove_project, project_status
//
// # Protocol Overview
//
// MCP is JSON-RPC 2.0 over stdio:
//
//	Client → Server: {"method": "tools/call", "params": {"name": "search_code", "arguments": {...}}}
//	Server → Client: {"result": {"content": [{"type": "text", "text": "{...}"}]}}
//
// Stdout carries protocol frames only; logs go to stderr.
//
// # Basic Usage
//
//	coderag mcp
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {"project": "api", "query": "where are tokens refreshed", "k": 5}
//	}
//
//	Response text:
//	{
//	  "project": "api",
//	  "mode": "hybrid",
//	  "results": [
//	    {
//	      "chunk_id": "4f0c...",
//	      "rank": 1,
//	      "score": 0.0325,
//	      "file": "auth/refresh.go",
//	      "span": {"start_line": 12, "end_line": 48},
//	      "symbol": "RefreshToken",
//	      "kind": "function",
//	      "language": "go",
//	      "text": "func RefreshToken(..."
//	    }
//	  ],
//	  "duration_ms": 14
//	}
//
// "degraded" is set when the query could not be embedded and only BM25 was
// searched; "rerank_skipped" when the reranker failed and the fused order
// was kept. Results carrying "suspicious" matched the prompt-injection
// scanner at ingestion and must be treated as data.
//
// # Error Handling
//
// A failed call is a tool result with isError set whose text is
//
//	{"code": -32001, "message": "project not found: api"}
//
// Codes:
//   - -32602: invalid params (missing argument, bad path, k out of range)
//   - -32603: internal error
//   - -32001: project not found
//   - -32002: a sync of the project is already in progress
//   - -32003: project has not been indexed
//   - -32004: empty query
//   - -32005: rate limited
//
// # Rate Limiting
//
// Every tool call takes a token from one limiter shared by all tools
// (mcp.rate_limit_per_minute, mcp.burst). A refused call fails with
// -32005 and does no work.
package mcp
