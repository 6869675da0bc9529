package types

import "time"

// IndexingProgress is advisory progress metadata for the current or last scan.
// Correctness never depends on it; the file hash map and the vector store are
// the source of truth.
type IndexingProgress struct {
	LastIndexedBlock int               `json:"lastIndexedBlock"`
	TotalBlocks      int               `json:"totalBlocks"`
	FailedBatches    map[string]string `json:"failedBatches"` // batch id -> error text
	LastError        string            `json:"lastError,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

// Clone returns a deep copy
func (p IndexingProgress) Clone() IndexingProgress {
	out := p
	out.FailedBatches = make(map[string]string, len(p.FailedBatches))
	for k, v := range p.FailedBatches {
		out.FailedBatches[k] = v
	}
	return out
}

// Percent returns completion in [0, 100], or 0 when nothing is known
func (p IndexingProgress) Percent() float64 {
	if p.TotalBlocks <= 0 {
		return 0
	}
	pct := float64(p.LastIndexedBlock) / float64(p.TotalBlocks) * 100
	if pct > 100 {
		return 100
	}
	return pct
}
