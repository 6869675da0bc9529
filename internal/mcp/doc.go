// Package mcp exposes workspace indexing and search as Model Context Protocol
// tools over stdio.
//
// Tools:
//   - index_workspace: run a full indexing pass and start the file watcher
//   - get_status: report state, message and progress
//   - search_code: query the index (hybrid or vector mode, optional filters)
//   - clear_index: stop the watcher and delete the collection and cache
//   - stop_watcher: stop live updates, keeping the index
//
// Every tool takes an absolute "path" naming the workspace root. Workspaces
// are opened lazily through a workspace.Registry and stay open for the
// lifetime of the server.
//
// # Example
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {
//	    "path": "/path/to/project",
//	    "query": "retry with exponential backoff",
//	    "limit": 5,
//	    "filters": {"kinds": ["function"], "file_pattern": "internal/"}
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "rank": 1,
//	      "score": 0.81,
//	      "file": "internal/embedder/retry.go",
//	      "start_line": 40,
//	      "end_line": 72,
//	      "kind": "function",
//	      "name": "RetryWithBackoff",
//	      "content": "func RetryWithBackoff(...) { ... }"
//	    }
//	  ],
//	  "search_mode": "hybrid",
//	  "total": 1
//	}
//
// # Errors
//
// Failures are returned as *MCPError values:
//   - -32602: invalid params (missing path, bad limit or search_mode)
//   - -32603: internal error
//   - -32001: no usable embedding provider configured
//   - -32002: indexing already in progress
//   - -32003: workspace not indexed
//   - -32004: empty query
//
// stdout carries the protocol, so all logging goes to stderr.
package mcp
