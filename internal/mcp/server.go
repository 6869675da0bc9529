package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/internal/workspace"
)

// ServerName is the MCP server name
const ServerName = "gocontext-index"

// Server wraps the MCP server with the workspace registry
type Server struct {
	mcp      *server.MCPServer
	registry *workspace.Registry
	logger   *slog.Logger
}

// NewServer creates an MCP server exposing the indexing tools
func NewServer(reg *workspace.Registry, version string) *Server {
	s := &Server{
		mcp:      server.NewMCPServer(ServerName, version, server.WithToolCapabilities(false)),
		registry: reg,
		logger:   logging.NewModuleLogger("mcp", "server"),
	}
	s.registerTools()
	return s
}

// Serve speaks MCP over stdio until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return s.ServeIO(ctx, os.Stdin, os.Stdout)
}

// ServeIO speaks MCP over the given streams
func (s *Server) ServeIO(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("serving MCP over stdio")
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexWorkspaceTool(), s.handleIndexWorkspace)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(clearIndexTool(), s.handleClearIndex)
	s.mcp.AddTool(stopWatcherTool(), s.handleStopWatcher)
}
