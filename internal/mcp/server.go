package mcp

import (
	"context"
	"io"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/logging"
	"github.com/dshills/coderag-mcp/internal/tools"
)

const (
	// ServerName is the MCP server name
	ServerName = "coderag-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	svc     *tools.Service
	limiter *tools.Limiter
	logger  *zap.Logger

	handlers map[string]server.ToolHandlerFunc
}

// NewServer creates a new MCP server over svc. limiter may be nil.
func NewServer(svc *tools.Service, limiter *tools.Limiter, logger *zap.Logger) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		svc:      svc,
		limiter:  limiter,
		logger:   logging.OrNop(logger),
		handlers: make(map[string]server.ToolHandlerFunc),
	}
	s.registerTools()
	return s
}

// Serve speaks MCP over in and out until ctx is done or in is closed.
// Nothing else may write to out.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	s.logger.Info("mcp server listening on stdio", zap.Int("tools", len(s.handlers)))
	return stdio.Listen(ctx, in, out)
}

// Tools returns the names of the registered tools
func (s *Server) Tools() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes a tool the way an MCP client would
func (s *Server) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	h, ok := s.handlers[name]
	if !ok {
		return errorResult(&tools.Error{Code: tools.CodeInvalidParams, Message: "unknown tool: " + name}), nil
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return h(ctx, req)
}

func (s *Server) registerTools() {
	s.add(listProjectsTool(), s.handleListProjects)
	s.add(searchCodeTool(), s.handleSearchCode)
	s.add(findSimilarCodeTool(), s.handleFindSimilarCode)
	s.add(searchSymbolsTool(), s.handleSearchSymbols)
	s.add(getFileTool(), s.handleGetFile)
	s.add(getProjectPatternsTool(), s.handleGetProjectPatterns)
	s.add(textSearchTool(), s.handleTextSearch)
	s.add(findCallersTool(), s.handleFindCallers)
	s.add(findCalleesTool(), s.handleFindCallees)
	s.add(indexProjectTool(), s.handleIndexProject)
	s.add(syncProjectTool(), s.handleSyncProject)
	s.add(removeProjectTool(), s.handleRemoveProject)
	s.add(projectStatusTool(), s.handleProjectStatus)
}

func (s *Server) add(tool mcp.Tool, fn toolFunc) {
	h := s.wrap(tool.Name, fn)
	s.handlers[tool.Name] = h
	s.mcp.AddTool(tool, h)
}
