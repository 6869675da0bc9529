// Package watcher keeps an index current while files change.
//
// A FileWatcher registers every non-ignored directory of the workspace with
// fsnotify, coalesces events per path and, once the tree has been quiet for
// the debounce window, hands the batch to a Processor: changed files are
// re-indexed and deleted files are removed. Each batch emits a start event,
// one progress event per file and a summary when it is done.
//
// Batches run on the event loop goroutine, so a slow batch delays the next
// one rather than overlapping it.
package watcher
