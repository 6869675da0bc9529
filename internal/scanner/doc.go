// Package scanner walks a workspace, slices changed files into blocks and
// drives them through embedding into the vector store.
//
// A file is skipped when its content hash matches the cache. Otherwise its
// blocks are packed into segments of BatchSegmentSize blocks, and each segment
// is embedded and stored on its own goroutine, EmbedConcurrency at a time.
// The old points of a file are deleted before any of its new points are
// stored, and its hash reaches the cache only once every block is stored.
//
// A failed segment is reported through Callbacks.OnBatchError as a
// *SegmentError, recorded in the cache progress and in the returned stats.
// The scan continues; the affected files stay uncached and are retried on
// the next run.
package scanner
