// Package types provides shared type definitions for the gocontext indexing engine.
//
// # Core Types
//
// Block is the unit of embedding: a slice of a source file with its location
// and a stable segment hash used as its identity in the vector store:
//
//	block := &types.Block{
//	    FilePath:  "internal/cache/cache.go",
//	    StartLine: 10,
//	    EndLine:   42,
//	    Kind:      types.BlockFunction,
//	    Content:   body,
//	}
//	block.ComputeSegmentHash()
//
// IndexingState and Status describe the lifecycle of a workspace index.
// IndexingProgress is the advisory, resumable progress record persisted next to
// the file hash cache.
//
// # Issues
//
// Non-fatal failures during a scan are collected in an IssueLog as
// (ErrorKind, message) pairs instead of being returned as errors. The indexer
// inspects the log after the scan to decide between success, degraded success
// and failure.
package types
