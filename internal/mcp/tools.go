package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/gocontext-index/internal/indexer"
	"github.com/dshills/gocontext-index/internal/searcher"
	"github.com/dshills/gocontext-index/internal/workspace"
	"github.com/dshills/gocontext-index/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeNotConfigured      = -32001 // No usable embedding provider
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // Workspace not indexed
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// handleIndexWorkspace handles the index_workspace tool invocation
func (s *Server) handleIndexWorkspace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ws, err := s.workspaceArgs(request)
	if err != nil {
		return nil, err
	}

	if !ws.Orchestrator().State().CanStartIndexing() {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", map[string]interface{}{
			"path": ws.Root(),
		})
	}

	if !getBoolDefault(args, "wait", true) {
		// The run outlives this request.
		go func() {
			st := ws.StartIndexing(context.WithoutCancel(ctx))
			s.logger.Info("background indexing finished", "path", ws.Root(), "state", st.State)
		}()
		return mcp.NewToolResultText(formatJSON(statusResponse(ws, false))), nil
	}

	st := ws.StartIndexing(ctx)
	response := statusResponse(ws, true)
	if st.State == types.StateError {
		response["error"] = st.Message
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	_, ws, err := s.workspaceArgs(request)
	if err != nil {
		return nil, err
	}

	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	mode := searcher.SearchMode(getStringDefault(args, "search_mode", string(searcher.SearchModeHybrid)))
	if mode != searcher.SearchModeHybrid && mode != searcher.SearchModeVector {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   mode,
			"allowed": []string{"hybrid", "vector"},
		})
	}

	st := ws.Status()
	if !ws.Configured() {
		return nil, newMCPError(ErrorCodeNotConfigured, "indexing not configured", map[string]interface{}{
			"reason": st.Message,
		})
	}
	if st.State == types.StateStandby && ws.Orchestrator().Progress().TotalBlocks == 0 {
		return nil, newMCPError(ErrorCodeNotIndexed, "workspace not indexed", map[string]interface{}{
			"path":       ws.Root(),
			"suggestion": "Run index_workspace first",
		})
	}

	req := searcher.SearchRequest{
		Query:    query,
		Limit:    limit,
		Mode:     mode,
		Filters:  parseFilters(args),
		UseCache: true,
	}
	resp, err := ws.Search(ctx, req)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]interface{}{
			"rank":       r.Rank,
			"score":      r.Score,
			"file":       r.FilePath,
			"start_line": r.StartLine,
			"end_line":   r.EndLine,
			"kind":       r.Kind,
			"name":       r.Name,
			"content":    r.Content,
		})
	}

	response := map[string]interface{}{
		"results":     results,
		"total":       len(results),
		"search_mode": resp.SearchMode,
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
		"state":       st.State,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, ws, err := s.workspaceArgs(request)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(formatJSON(statusResponse(ws, true))), nil
}

// handleClearIndex handles the clear_index tool invocation
func (s *Server) handleClearIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, ws, err := s.workspaceArgs(request)
	if err != nil {
		return nil, err
	}

	if err := ws.Orchestrator().ClearIndexData(ctx); err != nil {
		if errors.Is(err, indexer.ErrIndexingInProgress) {
			return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", map[string]interface{}{
				"path": ws.Root(),
			})
		}
		return nil, newMCPError(ErrorCodeInternalError, "failed to clear index", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(statusResponse(ws, false))), nil
}

// handleStopWatcher handles the stop_watcher tool invocation
func (s *Server) handleStopWatcher(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, ws, err := s.workspaceArgs(request)
	if err != nil {
		return nil, err
	}
	ws.Orchestrator().StopWatcher()
	return mcp.NewToolResultText(formatJSON(statusResponse(ws, false))), nil
}

// workspaceArgs validates the path argument and resolves its workspace
func (s *Server) workspaceArgs(request mcp.CallToolRequest) (map[string]interface{}, *workspace.Workspace, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	if err := validatePath(path); err != nil {
		return nil, nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	ws, err := s.registry.Get(path)
	if err != nil {
		return nil, nil, newMCPError(ErrorCodeInternalError, "failed to open workspace", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return args, ws, nil
}

func statusResponse(ws *workspace.Workspace, withProgress bool) map[string]interface{} {
	st := ws.Status()
	response := map[string]interface{}{
		"path":           ws.Root(),
		"state":          st.State,
		"message":        st.Message,
		"updated_at":     st.UpdatedAt,
		"watcher_active": ws.Orchestrator().WatcherActive(),
	}
	if withProgress {
		p := ws.Orchestrator().Progress()
		progress := map[string]interface{}{
			"indexed_blocks": p.LastIndexedBlock,
			"total_blocks":   p.TotalBlocks,
			"failed_batches": len(p.FailedBatches),
		}
		if p.LastError != "" {
			progress["last_error"] = p.LastError
		}
		response["progress"] = progress
	}
	return response
}

func parseFilters(args map[string]interface{}) *searcher.Filters {
	raw, ok := args["filters"].(map[string]interface{})
	if !ok {
		return nil
	}
	f := &searcher.Filters{
		FilePattern: getStringDefault(raw, "file_pattern", ""),
	}
	if v, ok := raw["min_score"].(float64); ok {
		f.MinScore = v
	}
	if kinds, ok := raw["kinds"].([]interface{}); ok {
		for _, k := range kinds {
			if ks, ok := k.(string); ok && ks != "" {
				f.Kinds = append(f.Kinds, types.BlockKind(ks))
			}
		}
	}
	if len(f.Kinds) == 0 && f.FilePattern == "" && f.MinScore == 0 {
		return nil
	}
	return f
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks if a path exists and is a readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation errors

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
