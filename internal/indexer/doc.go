// Package indexer runs the indexing lifecycle of one workspace.
//
// An Orchestrator composes the content cache, the vector store, the scanner
// and the file watcher, and reports everything it does through the state
// machine of the workspace.
//
// # Full runs
//
// StartIndexing never fails from the caller's point of view. It ends in one
// of the four states and returns the final status:
//
//	status := orch.StartIndexing(ctx)
//	if status.State == types.StateError {
//	    log.Printf("indexing failed: %s", status.Message)
//	}
//
// A run is rejected without side effects when indexing is not configured
// (the state goes to standby with the reason), when another run holds the
// processing lock, or when the state machine refuses a new run. Starting
// from the error state first resets to standby, so a failed run can always
// be retried.
//
// A run initializes the vector store and clears the content cache when the
// collection was created from scratch, because cached hashes would
// otherwise hide files that are not in the new collection. The scanner then
// embeds every changed file. Batch failures do not stop the scan; they are
// collected and judged afterwards by EvaluateFailures:
//
//   - nothing indexed out of a non-empty scan fails the run, with guidance
//     for the first error kind seen (rate limit, auth, quota)
//   - a failure rate above the fatal threshold (default 50%) fails the run
//   - a failure rate above the degraded threshold (default 10%) completes
//     with a warning message
//
// On success the file watcher is started and the state becomes indexed. On
// failure the collection and the content cache are cleared, the state
// becomes error and the watcher is stopped.
//
// # Live updates
//
// While the watcher runs, each batch of changed files moves the state to
// indexing and back to indexed, with per-file progress in the status
// message. StopWatcher and ClearIndexData end live updates and return to
// standby unless the workspace is in the error state.
package indexer
