package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func pathProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Absolute path to the workspace root",
	}
}

// indexWorkspaceTool returns the tool definition for index_workspace
func indexWorkspaceTool() mcp.Tool {
	return mcp.Tool{
		Name: "index_workspace",
		Description: "Index a workspace for semantic code search and keep it up to date with a file watcher. " +
			"Unchanged files are skipped, so calling it again is cheap.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": pathProperty(),
				"wait": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, return after the indexing run finished; otherwise return immediately",
					"default":     true,
				},
			},
			Required: []string{"path"},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search an indexed workspace with a natural language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": pathProperty(),
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or identifiers)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"search_mode": map[string]interface{}{
					"type":        "string",
					"description": "hybrid (similarity fused with term matches) or vector (similarity only)",
					"enum":        []string{"hybrid", "vector"},
					"default":     "hybrid",
				},
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Optional filters to narrow search",
					"properties": map[string]interface{}{
						"kinds": map[string]interface{}{
							"type":        "array",
							"description": "Filter by block kind",
							"items": map[string]interface{}{
								"type": "string",
								"enum": []string{"function", "method", "type", "decl", "window"},
							},
						},
						"file_pattern": map[string]interface{}{
							"type":        "string",
							"description": "Glob or directory prefix for file paths (e.g. 'internal/' or '*.go')",
						},
						"min_score": map[string]interface{}{
							"type":        "number",
							"description": "Minimum cosine similarity (-1.0 to 1.0)",
							"minimum":     -1.0,
							"maximum":     1.0,
						},
					},
				},
			},
			Required: []string{"path", "query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report the indexing state, status message and progress of a workspace",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"path": pathProperty()},
			Required:   []string{"path"},
		},
	}
}

// clearIndexTool returns the tool definition for clear_index
func clearIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "clear_index",
		Description: "Stop the file watcher and delete the index and content cache of a workspace",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"path": pathProperty()},
			Required:   []string{"path"},
		},
	}
}

// stopWatcherTool returns the tool definition for stop_watcher
func stopWatcherTool() mcp.Tool {
	return mcp.Tool{
		Name:        "stop_watcher",
		Description: "Stop live re-indexing of a workspace. The index is kept.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"path": pathProperty()},
			Required:   []string{"path"},
		},
	}
}
