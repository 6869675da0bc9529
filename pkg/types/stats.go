package types

import "time"

// ScanStats summarizes one scanner pass
type ScanStats struct {
	FilesFound    int
	FilesSkipped  int // unchanged since the last successful index
	FilesIndexed  int
	FilesFailed   int
	FilesRemoved  int
	BlocksFound   int
	BlocksIndexed int
	BlocksDropped int // larger than the provider's per-item token ceiling
	Usage         Usage
	Duration      time.Duration
	Issues        []Issue
}
