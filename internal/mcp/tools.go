package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/tools"
)

// toolFunc handles one tool call and returns a JSON-encodable answer
type toolFunc func(ctx context.Context, req mcp.CallToolRequest) (any, error)

// wrap applies rate limiting, logging and error encoding to a tool.
// Failures are tool results with IsError set; the text is the encoded
// tools.Error with its code.
func (s *Server) wrap(name string, fn toolFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := s.limiter.Allow(); err != nil {
			s.logger.Warn("tool call rate limited", zap.String("tool", name))
			return errorResult(err), nil
		}

		start := time.Now()
		out, err := fn(ctx, req)
		if err != nil {
			te := tools.AsError(err)
			s.logger.Info("tool call failed",
				zap.String("tool", name), zap.Int("code", te.Code), zap.Error(err))
			return errorResult(te), nil
		}
		s.logger.Debug("tool call", zap.String("tool", name), zap.Duration("duration", time.Since(start)))
		return jsonResult(out), nil
	}
}

func (s *Server) handleListProjects(ctx context.Context, _ mcp.CallToolRequest) (any, error) {
	return s.svc.ListProjects(ctx)
}

func (s *Server) handleSearchCode(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	return s.svc.SearchCode(ctx, tools.SearchParams{
		Project: req.GetString("project", ""),
		Query:   req.GetString("query", ""),
		K:       req.GetInt("k", 0),
		Mode:    req.GetString("mode", ""),
	})
}

func (s *Server) handleFindSimilarCode(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	return s.svc.FindSimilarCode(ctx, tools.SearchParams{
		Project: req.GetString("project", ""),
		Query:   req.GetString("snippet", ""),
		K:       req.GetInt("k", 0),
	})
}

func (s *Server) handleTextSearch(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	return s.svc.TextSearch(ctx, tools.SearchParams{
		Project: req.GetString("project", ""),
		Query:   req.GetString("terms", ""),
		K:       req.GetInt("k", 0),
	})
}

func (s *Server) handleSearchSymbols(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	return s.svc.SearchSymbols(ctx, tools.SymbolParams{
		Project:     req.GetString("project", ""),
		NamePattern: req.GetString("name_pattern", ""),
		Limit:       req.GetInt("limit", 0),
	})
}

func (s *Server) handleGetFile(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	p := tools.FileParams{
		Project: req.GetString("project", ""),
		Path:    req.GetString("path", ""),
	}
	start, end := req.GetInt("start_line", 0), req.GetInt("end_line", 0)
	if start != 0 || end != 0 {
		p.LineRange = &tools.LineRange{Start: start, End: end}
	}
	return s.svc.GetFile(ctx, p)
}

func (s *Server) handleGetProjectPatterns(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	return s.svc.ProjectPatterns(ctx, tools.ProjectParams{Project: req.GetString("project", "")})
}

func (s *Server) handleFindCallers(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	return s.svc.FindCallers(ctx, tools.CallParams{
		Project: req.GetString("project", ""),
		Symbol:  req.GetString("symbol", ""),
	})
}

func (s *Server) handleFindCallees(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	return s.svc.FindCallees(ctx, tools.CallParams{
		Project: req.GetString("project", ""),
		Symbol:  req.GetString("symbol", ""),
	})
}

func (s *Server) handleIndexProject(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	return s.svc.IndexProject(ctx, tools.IndexParams{
		Path:  req.GetString("path", ""),
		Name:  req.GetString("name", ""),
		Force: req.GetBool("force", false),
	})
}

func (s *Server) handleSyncProject(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	return s.svc.SyncProject(ctx, tools.ProjectParams{Project: req.GetString("project", "")})
}

func (s *Server) handleRemoveProject(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	return s.svc.RemoveProject(ctx, tools.ProjectParams{Project: req.GetString("project", "")})
}

func (s *Server) handleProjectStatus(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	return s.svc.ProjectStatus(ctx, tools.ProjectParams{Project: req.GetString("project", "")})
}

// jsonResult formats an answer as indented JSON text
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}
	return mcp.NewToolResultText(string(data))
}

func errorResult(err error) *mcp.CallToolResult {
	data, mErr := json.Marshal(tools.AsError(err))
	if mErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}
